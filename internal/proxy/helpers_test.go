package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloudvault/internal/cancel"
	"cloudvault/internal/catalog"
	"cloudvault/internal/database"
	"cloudvault/internal/events"
	"cloudvault/internal/fetch"
	"cloudvault/internal/objstore"
	"cloudvault/internal/progress"
	"cloudvault/internal/spool"
	"cloudvault/internal/transfer"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	objects *objstore.Memory
	catalog *catalog.Repository
	sched   *transfer.Scheduler
	hub     *events.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := progress.NewStore(db)
	require.NoError(t, err)
	cat, err := catalog.NewRepository(db)
	require.NoError(t, err)
	sp, err := spool.New(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub(logger)
	opts := transfer.DefaultOptions()
	opts.PersistInterval = 0
	opts.Logger = logger
	sched := transfer.New(store, hub, cancel.NewRegistry(), opts)

	objects := objstore.NewMemory()
	srv := NewServer(":0", Deps{
		Scheduler:    sched,
		History:      store,
		Hub:          hub,
		Catalog:      cat,
		Objects:      objects,
		Spool:        sp,
		Fetcher:      fetch.NewClient(time.Minute),
		Logger:       logger,
		ChunkSize:    64,
		PingInterval: 50 * time.Millisecond,
		HLSBitrate:   8000,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		sched.Close()
		srv.Wait()
		hub.Close()
	})
	return &testEnv{srv: srv, http: ts, objects: objects, catalog: cat, sched: sched, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body []byte, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// seedFile stores body directly in the backend and catalog.
func (e *testEnv) seedFile(t *testing.T, owner, name string, body []byte, contentType string) catalog.File {
	t.Helper()
	ctx := context.Background()
	key := "objects/" + name
	_, err := e.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), objstore.PutOptions{ContentType: contentType, Caption: name})
	require.NoError(t, err)
	f, err := e.catalog.Create(ctx, catalog.File{
		OwnerID: owner, Name: name, ObjectKey: key, Size: int64(len(body)), ContentType: contentType,
	})
	require.NoError(t, err)
	return f
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}
