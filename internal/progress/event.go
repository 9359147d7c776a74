package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskCreated   Stage = "TASK_CREATED"
	StageProviderDone  Stage = "PROVIDER_DONE"
	StageItemStored    Stage = "ITEM_STORED"
	StageItemFailed    Stage = "ITEM_FAILED"
	StageTaskCompleted Stage = "TASK_COMPLETED"
	StageTaskPending   Stage = "TASK_PENDING"
	StageTaskError     Stage = "TASK_ERROR"
)

// Finished reports whether the stage closes a Submit call.
func (s Stage) Finished() bool {
	return s == StageTaskCompleted || s == StageTaskPending || s == StageTaskError
}

// Event is a single lifecycle milestone of one task.
type Event struct {
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the lowercase host of the target URL.
	Site string
	// Items counts items involved in the milestone.
	Items int
	// Dur is the provider latency or the whole Submit latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskCreated, StageProviderDone, StageItemStored, StageItemFailed,
		StageTaskCompleted, StageTaskPending, StageTaskError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Items < 0 {
		return errors.New("items must be >= 0")
	}
	return nil
}
