// Package poller drives a submission to a terminal outcome by polling the
// status endpoint on a fixed interval with a bounded number of attempts.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

const (
	// DefaultInterval is the wait between two polls.
	DefaultInterval = 2 * time.Second
	// DefaultMaxAttempts is the attempt cap.
	DefaultMaxAttempts = 30
)

var (
	// ErrTaskFailed is returned when the server reports the task as failed.
	ErrTaskFailed = errors.New("task failed")
	// ErrTimedOut is returned when the attempt cap is reached. The task may
	// still finish on the server.
	ErrTimedOut = errors.New("stopped polling after max attempts")
	// ErrRunning is returned when Run is called while another Run is active.
	ErrRunning = errors.New("poller is already running")
)

// State is a step of the poll state machine.
type State int

// Poller states.
const (
	Idle State = iota
	Submitting
	Polling
	Succeeded
	Failed
	TimedOut
	Canceled
)

var stateNames = [...]string{"idle", "submitting", "polling", "succeeded", "failed", "timed_out", "canceled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s >= Succeeded
}

// Client is the server API the poller drives.
type Client interface {
	Submit(ctx context.Context, rawURL string) (task.SubmitResult, error)
	GetStatus(ctx context.Context, taskID string) (task.Snapshot, error)
}

// Event is delivered to the Observer on every transition and every snapshot.
type Event struct {
	State    State
	TaskID   string
	Attempt  int
	Snapshot *task.Snapshot
	Err      error
}

// Observer receives poller events synchronously.
type Observer func(Event)

// Outcome is the terminal result of Run.
type Outcome struct {
	State    State
	TaskID   string
	Attempts int
	// Snapshot is the last status read, if any.
	Snapshot *task.Snapshot
	Err      error
}

// Config controls polling cadence.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poller runs one submission at a time.
type Poller struct {
	client   Client
	cfg      Config
	observer Observer
	logger   *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	state   State
}

// New creates a Poller. A nil observer is allowed.
func New(client Client, cfg Config, observer Observer, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if observer == nil {
		observer = func(Event) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{client: client, cfg: cfg, observer: observer, logger: logger.Named("poller")}
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run submits rawURL and polls until the task finishes, the attempt cap is
// reached or ctx ends. The returned error is nil only for Succeeded.
func (p *Poller) Run(ctx context.Context, rawURL string) (Outcome, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Outcome{State: p.State(), Err: ErrRunning}, ErrRunning
	}
	defer p.running.Store(false)
	p.setState(Idle)

	target, err := task.ValidateURL(rawURL)
	if err != nil {
		return p.finish(Outcome{State: Failed, Err: err})
	}

	p.transition(Event{State: Submitting})
	res, err := p.client.Submit(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(Outcome{State: Canceled, TaskID: res.TaskID, Err: ctx.Err()})
		}
		p.logger.Warn("submit failed", zap.String("url", target), zap.String("task_id", res.TaskID), zap.Error(err))
		return p.finish(Outcome{State: Failed, TaskID: res.TaskID, Err: err})
	}
	if res.TaskID == "" {
		return p.finish(Outcome{State: Failed, Err: errors.New("server returned no task id")})
	}

	p.transition(Event{State: Polling, TaskID: res.TaskID})
	return p.poll(ctx, res.TaskID)
}

func (p *Poller) poll(ctx context.Context, taskID string) (Outcome, error) {
	logger := p.logger.With(zap.String("task_id", taskID))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var last *task.Snapshot
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return p.finish(Outcome{State: Canceled, TaskID: taskID, Attempts: attempt - 1, Snapshot: last, Err: ctx.Err()})
		case <-ticker.C:
		}

		snap, err := p.client.GetStatus(ctx, taskID)
		switch {
		case err != nil && ctx.Err() != nil:
			return p.finish(Outcome{State: Canceled, TaskID: taskID, Attempts: attempt, Snapshot: last, Err: ctx.Err()})
		case err != nil:
			logger.Warn("status poll failed", zap.Int("attempt", attempt), zap.Error(err))
			p.observer(Event{State: Polling, TaskID: taskID, Attempt: attempt, Err: err})
		default:
			last = &snap
			p.observer(Event{State: Polling, TaskID: taskID, Attempt: attempt, Snapshot: last})
			switch snap.Task.Status {
			case task.StatusCompleted:
				return p.finish(Outcome{State: Succeeded, TaskID: taskID, Attempts: attempt, Snapshot: last})
			case task.StatusError:
				return p.finish(Outcome{State: Failed, TaskID: taskID, Attempts: attempt, Snapshot: last, Err: ErrTaskFailed})
			}
		}

		if attempt >= p.cfg.MaxAttempts {
			logger.Info("attempt cap reached", zap.Int("attempts", attempt))
			return p.finish(Outcome{State: TimedOut, TaskID: taskID, Attempts: attempt, Snapshot: last, Err: ErrTimedOut})
		}
	}
}

func (p *Poller) finish(out Outcome) (Outcome, error) {
	p.transition(Event{State: out.State, TaskID: out.TaskID, Attempt: out.Attempts, Snapshot: out.Snapshot, Err: out.Err})
	return out, out.Err
}

func (p *Poller) transition(evt Event) {
	p.setState(evt.State)
	p.logger.Debug("state transition", zap.Stringer("state", evt.State), zap.String("task_id", evt.TaskID))
	p.observer(evt)
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
