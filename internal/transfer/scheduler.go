// Package transfer schedules long-running upload/download operations on two
// bounded lanes, tracks their byte progress, persists it and pushes live events.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudvault/internal/cancel"
	"cloudvault/internal/events"
	"cloudvault/internal/progress"
)

// ProgressStore is the durable sink for progress records.
type ProgressStore interface {
	Upsert(ctx context.Context, rec progress.Record) error
}

// Publisher delivers events to an owner's live observers.
type Publisher interface {
	Publish(owner string, ev events.Event)
}

// FailureReporter is notified of transfers that end in the failed state.
type FailureReporter interface {
	ReportFailure(taskID, owner string, err error)
}

type Options struct {
	PrimaryLimit    int
	PreviewLimit    int
	Retention       time.Duration // how long terminal tasks stay listed
	JanitorInterval time.Duration
	IdleTimeout     time.Duration // 0 disables the stall watchdog
	PersistInterval time.Duration // min gap between progress writes/events per task
	Logger          *slog.Logger
	Reporter        FailureReporter
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		PrimaryLimit:    2,
		PreviewLimit:    3,
		Retention:       10 * time.Minute,
		JanitorInterval: 30 * time.Second,
		PersistInterval: 250 * time.Millisecond,
	}
}

const persistTimeout = 5 * time.Second

// Scheduler owns the in-memory task table and the task state machine.
type Scheduler struct {
	mu     sync.RWMutex
	tasks  map[string]*task
	seq    uint64
	closed bool

	lanes map[Kind]*lane
	flags *cancel.Registry
	store ProgressStore
	pub   Publisher
	opts  Options
	log   *slog.Logger
	now   func() time.Time

	base     context.Context
	shutdown context.CancelCauseFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store ProgressStore, pub Publisher, flags *cancel.Registry, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 30 * time.Second
	}
	if flags == nil {
		flags = cancel.NewRegistry()
	}
	base, shutdown := context.WithCancelCause(context.Background())
	return &Scheduler{
		tasks: make(map[string]*task),
		lanes: map[Kind]*lane{
			KindPrimary: newLane(KindPrimary, opts.PrimaryLimit),
			KindPreview: newLane(KindPreview, opts.PreviewLimit),
		},
		flags:    flags,
		store:    store,
		pub:      pub,
		opts:     opts,
		log:      opts.Logger,
		now:      opts.Now,
		base:     base,
		shutdown: shutdown,
		stop:     make(chan struct{}),
	}
}

// Enqueue registers a queued task and returns its id without waiting for a
// slot. The caller is expected to follow up with Run.
func (s *Scheduler) Enqueue(kind Kind, label, owner string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	id := uuid.NewString()
	ctx, cancelFn := context.WithCancelCause(s.base)
	t := &task{
		id:     id,
		kind:   kind,
		owner:  owner,
		label:  label,
		status: StatusQueued,
		ctx:    ctx,
		cancel: cancelFn,
	}

	// Flag and slot exist before the task becomes visible to Cancel or sweep.
	s.flags.Start(id)
	t.slot = s.lanes[kind].push(id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.lanes[kind].drop(t.slot)
		s.flags.Finish(id)
		cancelFn(ErrShutdown)
		return "", ErrShutdown
	}
	s.seq++
	t.seq = s.seq
	t.createdAt = s.now()
	s.tasks[id] = t
	s.mu.Unlock()

	s.log.Info("task queued", "task_id", id, "kind", kind, "owner", owner, "label", label)
	return id, nil
}

// Run waits for a lane slot and executes op for a task created by Enqueue.
// Transfer errors never surface as an error here: they are recorded in the
// task's terminal state and reported through Result. The only error is
// ErrNotFound for an unknown id. Cancelling ctx requests cancellation.
func (s *Scheduler) Run(ctx context.Context, id string, op Operation) (Result, error) {
	t := s.lookup(id)
	if t == nil {
		return Result{TaskID: id}, ErrNotFound
	}

	stopWatch := context.AfterFunc(ctx, func() {
		_ = s.Cancel(context.Background(), id)
	})
	defer stopWatch()

	ln := s.lanes[t.kind]
	if err := ln.acquire(t.ctx, t.slot); err != nil {
		return s.finish(t, nil, err), nil
	}
	defer ln.release()

	if s.flags.IsCancelled(id) {
		return s.finish(t, nil, ErrCancelled), nil
	}
	if !s.markRunning(t) {
		return s.finish(t, nil, ErrCancelled), nil
	}

	value, err := s.invoke(t, op)
	return s.finish(t, value, err), nil
}

func (s *Scheduler) markRunning(t *task) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	s.mu.Lock()
	if t.status != StatusQueued {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	t.status = StatusRunning
	t.startedAt = now
	t.lastProgress = now
	rec := t.record(now)
	s.mu.Unlock()

	s.persist(rec)
	s.log.Info("task running", "task_id", t.id, "kind", t.kind)
	return true
}

func (s *Scheduler) invoke(t *task, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transfer panicked: %v", r)
		}
	}()
	return op(t.ctx, s.checkpoint(t))
}

// checkpoint is the only cancellation point inside a transfer: it checks the
// flag first and otherwise forwards the counters to Progress.
func (s *Scheduler) checkpoint(t *task) Checkpoint {
	return func(transferred, total int64) error {
		if s.flags.IsCancelled(t.id) {
			return ErrCancelled
		}
		if err := context.Cause(t.ctx); err != nil {
			return err
		}
		s.Progress(t.id, t.owner, transferred, total)
		return nil
	}
}

// Progress records new counters for a running task, persists them and emits
// a progress event. Writes are throttled by PersistInterval; the first update
// and the one reaching total always go through. Updates for tasks that are
// not running, or from a different owner, are ignored.
func (s *Scheduler) Progress(id, owner string, transferred, total int64) {
	t := s.lookup(id)
	if t == nil {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	s.mu.Lock()
	if t.status != StatusRunning || (owner != "" && owner != t.owner) {
		s.mu.Unlock()
		return
	}
	if transferred > t.transferred {
		t.transferred = transferred
	}
	if total > 0 {
		if total < t.transferred {
			total = t.transferred
		}
		t.total = total
	}
	now := s.now()
	t.lastProgress = now

	done := t.total > 0 && t.transferred >= t.total
	if !t.lastEmit.IsZero() && !done && now.Sub(t.lastEmit) < s.opts.PersistInterval {
		s.mu.Unlock()
		return
	}
	t.lastEmit = now
	snap := t.snapshot(now)
	rec := t.record(now)
	s.mu.Unlock()

	s.persist(rec)
	s.publish(t.owner, events.Event{Event: events.TypeProgress, Task: snap})
}

// Cancel requests cancellation. A tracked, unfinished task is marked
// cancelled at once (memory, store, event) and its context is cancelled; the
// operation itself stops at its next checkpoint. Cancelling a task that has
// already finished is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	t := s.lookup(id)
	if t == nil {
		return ErrNotFound
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	s.mu.Lock()
	if t.status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.flags.Cancel(id)
	now := s.now()
	t.status = StatusCancelled
	t.removeAt = now.Add(s.opts.Retention)
	snap := t.snapshot(now)
	rec := t.record(now)
	s.mu.Unlock()

	t.cancel(ErrCancelled)
	s.persistCtx(ctx, rec)
	s.publish(t.owner, events.Event{Event: events.TypeCancelled, Task: snap})
	s.log.Info("task cancel requested", "task_id", id)
	return nil
}

// finish moves t to its terminal state, persists it, emits the terminal event
// and schedules removal from the live table.
func (s *Scheduler) finish(t *task, value any, opErr error) Result {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	s.mu.Lock()
	already := t.status.Terminal()
	if !already {
		switch {
		case opErr == nil:
			t.status = StatusCompleted
		case s.isCancellation(t, opErr):
			t.status = StatusCancelled
		default:
			t.status = StatusFailed
			t.errMsg = s.failureMessage(t, opErr)
		}
	}
	now := s.now()
	t.removeAt = now.Add(s.opts.Retention)
	snap := t.snapshot(now)
	rec := t.record(now)
	status := t.status
	s.mu.Unlock()

	s.flags.Finish(t.id)
	t.cancel(context.Canceled)
	s.persist(rec)

	res := Result{TaskID: t.id, Status: status, Error: snap.Error}
	if status == StatusCompleted {
		res.Value = value
	}

	if !already {
		ev := events.Event{Event: string(status), Task: snap}
		if status == StatusCompleted {
			ev.Result = value
		}
		s.publish(t.owner, ev)
	}

	switch status {
	case StatusFailed:
		s.log.Warn("task failed", "task_id", t.id, "kind", t.kind, "error", snap.Error)
		if s.opts.Reporter != nil {
			s.opts.Reporter.ReportFailure(t.id, t.owner, opErr)
		}
	default:
		s.log.Info("task finished", "task_id", t.id, "kind", t.kind, "status", status)
	}
	return res
}

// isCancellation classifies opErr using the cancellation flag and sentinel
// errors only. A remote error that merely looks like an abort is a failure.
func (s *Scheduler) isCancellation(t *task, opErr error) bool {
	if s.flags.IsCancelled(t.id) || errors.Is(opErr, ErrCancelled) {
		return true
	}
	return errors.Is(context.Cause(t.ctx), ErrCancelled)
}

func (s *Scheduler) failureMessage(t *task, opErr error) string {
	if cause := context.Cause(t.ctx); cause != nil && !errors.Is(opErr, cause) {
		if errors.Is(cause, ErrStalled) || errors.Is(cause, ErrShutdown) {
			return cause.Error()
		}
	}
	return opErr.Error()
}

// Get returns the snapshot of one live task.
func (s *Scheduler) Get(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return t.snapshot(s.now()), nil
}

// List returns snapshots of live tasks for owner (all owners when empty),
// in enqueue order.
func (s *Scheduler) List(owner string) []Snapshot {
	s.mu.RLock()
	now := s.now()
	matched := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if owner != "" && t.owner != owner {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]Snapshot, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.snapshot(now))
	}
	s.mu.RUnlock()
	return out
}

// Lanes reports occupancy of both lanes.
func (s *Scheduler) Lanes() []LaneStats {
	return []LaneStats{s.lanes[KindPrimary].stats(), s.lanes[KindPreview].stats()}
}

func (s *Scheduler) lookup(id string) *task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id]
}

func (s *Scheduler) persist(rec progress.Record) {
	s.persistCtx(context.Background(), rec)
}

func (s *Scheduler) persistCtx(ctx context.Context, rec progress.Record) {
	if s.store == nil {
		return
	}
	ctx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelFn()
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.log.Warn("failed to persist progress", "task_id", rec.TaskID, "status", rec.Status, "error", err)
	}
}

func (s *Scheduler) publish(owner string, ev events.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(owner, ev)
}
