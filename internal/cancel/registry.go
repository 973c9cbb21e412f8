// Package cancel tracks cooperative cancellation flags keyed by task id.
package cancel

import (
	"sync"
	"sync/atomic"
)

// Registry maps task ids to cancellation flags. A missing entry reads as
// "not cancelled". Flag checks are lock-free.
type Registry struct {
	flags sync.Map // task id -> *atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Start registers a cleared flag for id.
func (r *Registry) Start(id string) {
	r.flags.Store(id, new(atomic.Bool))
}

// Cancel sets the flag for id, registering it if needed.
func (r *Registry) Cancel(id string) {
	v, _ := r.flags.LoadOrStore(id, new(atomic.Bool))
	v.(*atomic.Bool).Store(true)
}

func (r *Registry) IsCancelled(id string) bool {
	v, ok := r.flags.Load(id)
	if !ok {
		return false
	}
	return v.(*atomic.Bool).Load()
}

// Finish drops the entry for id.
func (r *Registry) Finish(id string) {
	r.flags.Delete(id)
}
