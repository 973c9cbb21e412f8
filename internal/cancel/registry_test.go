package cancel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsCancelled("unknown"))

	r.Start("t1")
	assert.False(t, r.IsCancelled("t1"))

	r.Cancel("t1")
	assert.True(t, r.IsCancelled("t1"))

	r.Finish("t1")
	assert.False(t, r.IsCancelled("t1"))
}

func TestRegistry_CancelBeforeStart(t *testing.T) {
	r := NewRegistry()
	r.Cancel("t2")
	assert.True(t, r.IsCancelled("t2"))
}

func TestRegistry_FinishUnknown(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Finish("nope") })
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n * 3)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		r.Start(id)
		go func() {
			defer wg.Done()
			r.Cancel(id)
		}()
		go func() {
			defer wg.Done()
			_ = r.IsCancelled(id)
		}()
		go func() {
			defer wg.Done()
			_ = r.IsCancelled(id + "-other")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.True(t, r.IsCancelled(fmt.Sprintf("t%d", i)))
	}
}
