package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"cloudvault/internal/progress"
	"cloudvault/internal/transfer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBlocked enqueues a primary task whose operation reports half its
// bytes and then waits for cancellation.
func startBlocked(t *testing.T, env *testEnv, owner string) string {
	t.Helper()
	id, err := env.sched.Enqueue(transfer.KindPrimary, "movie.mkv", owner)
	require.NoError(t, err)
	go env.sched.Run(context.Background(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
		if err := cp(50, 100); err != nil {
			return nil, err
		}
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})
	require.Eventually(t, func() bool {
		snap, err := env.sched.Get(id)
		return err == nil && snap.Transferred == 50
	}, 2*time.Second, 5*time.Millisecond)
	return id
}

func waitStatus(t *testing.T, env *testEnv, id string, want transfer.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := env.sched.Get(id)
		return err == nil && snap.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTasks_ListRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/tasks", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTasks_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	id := startBlocked(t, env, "alice")
	startBlocked(t, env, "bob")

	resp := env.do(t, http.MethodGet, "/tasks?user_id=alice", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []transfer.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].TaskID)
	assert.Equal(t, transfer.StatusRunning, list[0].Status)
	assert.Equal(t, 50.0, list[0].ProgressPercent)
	assert.True(t, list[0].CanCancel)

	resp = env.do(t, http.MethodGet, "/tasks/"+id, "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap transfer.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "movie.mkv", snap.FileName)
	assert.Equal(t, transfer.KindPrimary, snap.Type)

	resp = env.do(t, http.MethodGet, "/tasks/"+id, "bob", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/tasks/nope", "alice", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTasks_Cancel(t *testing.T) {
	env := newTestEnv(t)
	id := startBlocked(t, env, "alice")

	resp := env.do(t, http.MethodPost, "/tasks/cancel/unknown", "alice", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var detail map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, "Task not found", detail["detail"])

	resp = env.do(t, http.MethodPost, "/tasks/cancel/"+id, "mallory", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/tasks/cancel/"+id, "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, id, body["task_id"])
	assert.Equal(t, "cancelled", body["status"])

	waitStatus(t, env, id, transfer.StatusCancelled)

	// cancelling again is harmless and reports the settled state
	resp = env.do(t, http.MethodPost, "/tasks/cancel/"+id, "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "cancelled", body["status"])
}

func TestTasks_History(t *testing.T) {
	env := newTestEnv(t)
	done, err := env.sched.Enqueue(transfer.KindPrimary, "a.txt", "alice")
	require.NoError(t, err)
	_, err = env.sched.Run(context.Background(), done, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
		return nil, cp(10, 10)
	})
	require.NoError(t, err)
	cancelled := startBlocked(t, env, "alice")
	require.NoError(t, env.sched.Cancel(context.Background(), cancelled))
	waitStatus(t, env, cancelled, transfer.StatusCancelled)

	resp := env.do(t, http.MethodGet, "/tasks/history?user_id=alice", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []progress.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Len(t, all, 2)

	resp = env.do(t, http.MethodGet, "/tasks/history?user_id=alice&status=completed", "", nil, nil)
	var completed []progress.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completed))
	require.Len(t, completed, 1)
	assert.Equal(t, done, completed[0].TaskID)
	assert.Equal(t, int64(10), completed[0].Transferred)

	resp = env.do(t, http.MethodGet, "/tasks/history?user_id=alice&limit=1", "", nil, nil)
	var page []progress.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Len(t, page, 1)

	resp = env.do(t, http.MethodGet, "/tasks/history", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
