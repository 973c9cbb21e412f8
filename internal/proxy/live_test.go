package proxy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cloudvault/internal/events"
	"cloudvault/internal/transfer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Event  string              `json:"event"`
	Task   *transfer.Snapshot  `json:"task"`
	Tasks  []transfer.Snapshot `json:"tasks"`
	Result any                 `json:"result"`
}

func dialLive(t *testing.T, env *testEnv, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/tasks/" + owner
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextEvent reads until an event other than ping arrives.
func nextEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Event != events.TypePing {
			return ev
		}
	}
}

func TestLive_SnapshotThenEvents(t *testing.T) {
	env := newTestEnv(t)
	queued, err := env.sched.Enqueue(transfer.KindPreview, "old.bin", "alice")
	require.NoError(t, err)

	conn := dialLive(t, env, "alice")
	snap := nextEvent(t, conn)
	require.Equal(t, events.TypeSnapshot, snap.Event)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, queued, snap.Tasks[0].TaskID)
	assert.Equal(t, transfer.StatusQueued, snap.Tasks[0].Status)

	id, err := env.sched.Enqueue(transfer.KindPrimary, "new.bin", "alice")
	require.NoError(t, err)
	_, err = env.sched.Run(context.Background(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
		if err := cp(40, 80); err != nil {
			return nil, err
		}
		return "stored", cp(80, 80)
	})
	require.NoError(t, err)

	var got []string
	for len(got) == 0 || got[len(got)-1] != events.TypeCompleted {
		ev := nextEvent(t, conn)
		require.NotNil(t, ev.Task)
		assert.Equal(t, id, ev.Task.TaskID)
		got = append(got, ev.Event)
		if ev.Event == events.TypeCompleted {
			assert.Equal(t, "stored", ev.Result)
			assert.Equal(t, 100.0, ev.Task.ProgressPercent)
		}
	}
	assert.Equal(t, events.TypeProgress, got[0])
}

func TestLive_OtherUsersEventsAreNotDelivered(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "alice")
	require.Equal(t, events.TypeSnapshot, nextEvent(t, conn).Event)

	other, err := env.sched.Enqueue(transfer.KindPrimary, "x", "bob")
	require.NoError(t, err)
	_, err = env.sched.Run(context.Background(), other, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
		return nil, cp(1, 1)
	})
	require.NoError(t, err)

	mine, err := env.sched.Enqueue(transfer.KindPrimary, "y", "alice")
	require.NoError(t, err)
	require.NoError(t, env.sched.Cancel(context.Background(), mine))

	ev := nextEvent(t, conn)
	assert.Equal(t, events.TypeCancelled, ev.Event)
	assert.Equal(t, mine, ev.Task.TaskID)
}

func TestLive_KeepalivePing(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "alice")

	var sawPing bool
	for i := 0; i < 5 && !sawPing; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		sawPing = ev.Event == events.TypePing
	}
	assert.True(t, sawPing)
}

func TestLive_DisconnectUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "alice")
	nextEvent(t, conn)
	require.Eventually(t, func() bool { return env.hub.Count("alice") == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return env.hub.Count("alice") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestLive_EventRightAfterHandshakeIsDelivered(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.sched.Enqueue(transfer.KindPrimary, "race.bin", "alice")
	require.NoError(t, err)

	conn := dialLive(t, env, "alice")
	// no waiting for the subscription: the dial returning is enough
	require.NoError(t, env.sched.Cancel(context.Background(), id))

	snap := nextEvent(t, conn)
	require.Equal(t, events.TypeSnapshot, snap.Event)
	require.Len(t, snap.Tasks, 1)
	if snap.Tasks[0].Status == transfer.StatusCancelled {
		return // the snapshot already carries the cancellation
	}
	ev := nextEvent(t, conn)
	assert.Equal(t, events.TypeCancelled, ev.Event)
	assert.Equal(t, id, ev.Task.TaskID)
}

func TestLive_BurstIsDeliveredToReadingClient(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "alice")
	require.Equal(t, events.TypeSnapshot, nextEvent(t, conn).Event)

	for i := 0; i < 200; i++ {
		env.hub.Publish("alice", events.Event{Event: events.TypeProgress, Task: &transfer.Snapshot{TaskID: "t1"}})
	}
	env.hub.Publish("alice", events.Event{Event: events.TypeCompleted, Task: &transfer.Snapshot{TaskID: "t1"}})

	var progress int
	for {
		ev := nextEvent(t, conn)
		if ev.Event == events.TypeCompleted {
			break
		}
		progress++
	}
	assert.Equal(t, 200, progress)
	assert.Equal(t, 1, env.hub.Count("alice"))
}

func TestLive_LaggingClientIsDisconnected(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "alice")
	require.Equal(t, events.TypeSnapshot, nextEvent(t, conn).Event)

	// large events while the client stops reading fill the socket, then the queue
	big := &transfer.Snapshot{TaskID: "t1", FileName: strings.Repeat("x", 64<<10)}
	for i := 0; i < 2000 && env.hub.Count("alice") > 0; i++ {
		env.hub.Publish("alice", events.Event{Event: events.TypeProgress, Task: big})
	}
	require.Equal(t, 0, env.hub.Count("alice"))

	// draining what was already sent ends with the server closing the socket
	var readErr error
	for readErr == nil {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, readErr = conn.ReadMessage()
	}
	var netErr interface{ Timeout() bool }
	if errors.As(readErr, &netErr) {
		require.False(t, netErr.Timeout(), "socket was left open: %v", readErr)
	}

	// a new connection starts over from a snapshot
	again := dialLive(t, env, "alice")
	assert.Equal(t, events.TypeSnapshot, nextEvent(t, again).Event)
}
