package transfer

import (
	"context"
	"sync"
	"time"

	"cloudvault/internal/format"
	"cloudvault/internal/progress"
)

// Kind selects the concurrency lane a task runs on.
type Kind string

const (
	KindPrimary Kind = "primary"
	KindPreview Kind = "preview"
)

func (k Kind) Valid() bool {
	return k == KindPrimary || k == KindPreview
}

// Status is a task lifecycle state:
// queued -> running -> completed|failed|cancelled, or queued -> cancelled.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Checkpoint is handed to an operation and must be called at every chunk
// boundary. A non-nil return (ErrCancelled, ErrStalled, ...) means abort.
type Checkpoint func(transferred, total int64) error

// Operation is the unit of work behind a task. ctx is cancelled when the
// task is cancelled, stalls or the scheduler shuts down.
type Operation func(ctx context.Context, checkpoint Checkpoint) (any, error)

// Snapshot is the read-only, UI-ready view of a task.
type Snapshot struct {
	TaskID           string     `json:"task_id"`
	FileName         string     `json:"file_name"`
	UserID           string     `json:"user_id"`
	Type             Kind       `json:"type"`
	Status           Status     `json:"status"`
	ProgressPercent  float64    `json:"progress_percent"`
	Transferred      int64      `json:"transferred"`
	TransferredHR    string     `json:"transferred_hr"`
	Total            int64      `json:"total"`
	TotalHR          string     `json:"total_hr"`
	SpeedBytesPerSec float64    `json:"speed_bytes_per_sec"`
	ETASeconds       *float64   `json:"eta_seconds"`
	ETAFriendly      string     `json:"eta_friendly"`
	CanCancel        bool       `json:"can_cancel"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

// Result is what Run returns once a task reaches a terminal state.
type Result struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`
	Value  any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// task is the scheduler-owned record. Mutable fields are guarded by
// Scheduler.mu; emitMu orders persistence and events for this task.
type task struct {
	id    string
	kind  Kind
	owner string
	label string
	seq   uint64

	status       Status
	transferred  int64
	total        int64
	errMsg       string
	createdAt    time.Time
	startedAt    time.Time
	lastProgress time.Time
	lastEmit     time.Time
	removeAt     time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	slot   *waiter

	emitMu sync.Mutex
}

func (t *task) snapshot(now time.Time) Snapshot {
	st := progress.Compute(t.transferred, t.total, t.startedAt, now)
	snap := Snapshot{
		TaskID:           t.id,
		FileName:         t.label,
		UserID:           t.owner,
		Type:             t.kind,
		Status:           t.status,
		ProgressPercent:  st.Percent,
		Transferred:      t.transferred,
		TransferredHR:    format.FormatBytes(t.transferred),
		Total:            t.total,
		TotalHR:          format.FormatBytes(t.total),
		SpeedBytesPerSec: st.SpeedBps,
		ETASeconds:       st.ETASeconds,
		ETAFriendly:      st.ETAFriendly,
		CanCancel:        t.status == StatusQueued || t.status == StatusRunning,
		Error:            t.errMsg,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		snap.StartedAt = &started
	}
	return snap
}

func (t *task) record(now time.Time) progress.Record {
	return progress.NewRecord(progress.Counters{
		TaskID:      t.id,
		UserID:      t.owner,
		FileName:    t.label,
		Type:        string(t.kind),
		Status:      string(t.status),
		Error:       t.errMsg,
		Transferred: t.transferred,
		Total:       t.total,
		StartedAt:   t.startedAt,
	}, now)
}
