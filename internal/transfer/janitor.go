package transfer

import (
	"context"
	"time"

	"cloudvault/internal/events"
)

// Start runs the janitor until ctx is done or Close is called. Each sweep
// forgets terminal tasks past their retention deadline and, when an idle
// timeout is configured, fails running tasks that stopped reporting progress.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep(s.now())
			}
		}
	}()
}

// Close stops the janitor and cancels every live task with ErrShutdown.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		s.shutdown(ErrShutdown)
	})
	s.wg.Wait()
}

func (s *Scheduler) sweep(now time.Time) {
	var expired, stalled []*task

	s.mu.Lock()
	for id, t := range s.tasks {
		switch {
		case t.status.Terminal():
			if !t.removeAt.IsZero() && !now.Before(t.removeAt) {
				delete(s.tasks, id)
				expired = append(expired, t)
			}
		case t.status == StatusRunning && s.opts.IdleTimeout > 0:
			if now.Sub(t.lastProgress) > s.opts.IdleTimeout {
				stalled = append(stalled, t)
			}
		}
	}
	s.mu.Unlock()

	for _, t := range expired {
		s.lanes[t.kind].drop(t.slot)
		s.flags.Finish(t.id)
		t.cancel(context.Canceled)
		s.log.Debug("task removed from live table", "task_id", t.id, "status", t.status)
	}
	for _, t := range stalled {
		s.stall(t)
	}
}

// stall fails a running task that has gone quiet. The operation keeps its
// lane slot until it returns; its context is cancelled with ErrStalled.
func (s *Scheduler) stall(t *task) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	s.mu.Lock()
	if t.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	now := s.now()
	idle := now.Sub(t.lastProgress)
	t.status = StatusFailed
	t.errMsg = ErrStalled.Error()
	t.removeAt = now.Add(s.opts.Retention)
	snap := t.snapshot(now)
	rec := t.record(now)
	s.mu.Unlock()

	t.cancel(ErrStalled)
	s.persist(rec)
	s.publish(t.owner, events.Event{Event: events.TypeFailed, Task: snap})
	s.log.Warn("task stalled", "task_id", t.id, "idle", idle)
}
