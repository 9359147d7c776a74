package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/export"
	"github.com/JakeFAU/scrapeflow/internal/hash/sha256"
	"github.com/JakeFAU/scrapeflow/internal/status"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

const maxBodyBytes = 1 << 20

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	var req SubmitRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, requestError(err, "URL is required"))
		return
	}

	res, err := s.submitter.Submit(r.Context(), owner, req.URL)
	if err != nil {
		s.writeSubmitError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:     true,
		TaskID:      res.TaskID,
		Status:      res.Status,
		URL:         res.URL,
		Completed:   res.Completed,
		Total:       res.Total,
		CreditsUsed: res.CreditsUsed,
		ExpiresAt:   res.ExpiresAt,
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, res task.SubmitResult, err error) {
	logger := s.logger.With(
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("task_id", res.TaskID),
	)
	switch {
	case errors.Is(err, task.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "URL must be an absolute http:// or https:// URL")
	case errors.Is(err, task.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid user token")
	case errors.Is(err, task.ErrProvider):
		code, msg := http.StatusBadGateway, "Crawl provider error"
		var failure task.ProviderFailure
		if errors.As(err, &failure) {
			if c := failure.StatusCode(); c >= 400 && c <= 599 {
				code = c
			}
			if m := failure.ProviderMessage(); m != "" {
				msg = m
			}
		} else if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		logger.Warn("submit failed at provider", zap.Int("status", code), zap.Error(err))
		writeJSON(w, code, SubmitResponse{
			Success: false,
			TaskID:  res.TaskID,
			Status:  res.Status,
			URL:     res.URL,
			Error:   msg,
		})
	case res.TaskID == "":
		logger.Error("submit failed before task creation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create scraping task")
	default:
		logger.Error("submit failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Failed to update scraping task",
			TaskID:  res.TaskID,
		})
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	var req StatusRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, requestError(err, "Task ID is required"))
		return
	}
	snap, err := s.reader.GetStatus(r.Context(), owner, req.TaskID)
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Task: snap.Task, Data: snap.Items})
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	limit := status.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	tasks, err := s.reader.Recent(r.Context(), owner, limit)
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecentResponse{Success: true, Tasks: tasks})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	taskID := chi.URLParam(r, "task_id")
	snap, err := s.reader.GetStatus(r.Context(), owner, taskID)
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.Encode(&buf, snap.Items); err != nil {
		s.logger.Error("export encode failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	tag := sha256.ETag(buf.Bytes())
	w.Header().Set("ETag", tag)
	if sha256.Matches(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(s.clock.Now())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("export write failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Server) verifyKey(w http.ResponseWriter, r *http.Request) {
	key, ok := bearerToken(r)
	if !ok || key == "" {
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return
	}
	owner, err := s.keys.Verify(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, VerifyKeyResponse{Success: true, UserID: owner})
	case errors.Is(err, task.ErrInactiveKey):
		writeError(w, http.StatusForbidden, "API key is inactive")
	case errors.Is(err, task.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid API key")
	default:
		s.logger.Error("api key verification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) writeReadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, task.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Task ID is required")
	default:
		s.logger.Error("task read failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

var errInvalidJSON = errors.New("invalid JSON")

// decode reads a JSON body into dst and runs struct validation.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidJSON, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	return nil
}

// requestError picks the client message for a decode failure. A failed
// required field yields missing.
func requestError(err error, missing string) string {
	if errors.Is(err, errInvalidJSON) {
		return "invalid JSON"
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
		return missing
	}
	return "invalid request"
}
