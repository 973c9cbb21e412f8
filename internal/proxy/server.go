// Package proxy is the HTTP surface: task status and cancellation, the live
// task channel, file transfers and range-addressable content reads.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cloudvault/internal/catalog"
	"cloudvault/internal/events"
	"cloudvault/internal/fetch"
	"cloudvault/internal/objstore"
	"cloudvault/internal/progress"
	"cloudvault/internal/spool"
	"cloudvault/internal/transfer"
)

type Deps struct {
	Scheduler *transfer.Scheduler
	History   *progress.Store
	Hub       *events.Hub
	Catalog   *catalog.Repository
	Objects   objstore.Client
	Spool     *spool.Spool
	Fetcher   *fetch.Client
	Logger    *slog.Logger

	ChunkSize    int64
	PingInterval time.Duration
	HLSBitrate   int64
}

type Server struct {
	Deps
	log  *slog.Logger
	http *http.Server

	jobs sync.WaitGroup // transfers started by handlers
}

func NewServer(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ChunkSize <= 0 {
		d.ChunkSize = 1 << 20
	}
	if d.PingInterval <= 0 {
		d.PingInterval = 30 * time.Second
	}
	s := &Server{Deps: d, log: d.Logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Tasks
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/history", s.handleHistory)
	mux.HandleFunc("GET /tasks/{task_id}", s.handleGetTask)
	mux.HandleFunc("POST /tasks/cancel/{task_id}", s.handleCancelTask)
	mux.HandleFunc("GET /ws/tasks/{user_id}", s.handleLive)

	// Files
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("POST /files", s.handleUpload)
	mux.HandleFunc("POST /files/from-url", s.handleUploadFromURL)
	mux.HandleFunc("GET /files/{id}", s.handleGetFile)
	mux.HandleFunc("PATCH /files/{id}", s.handleRename)
	mux.HandleFunc("DELETE /files/{id}", s.handleDelete)
	mux.HandleFunc("POST /files/{id}/fetch", s.handleFetch)
	mux.HandleFunc("GET /files/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /files/{id}/content", s.handleContent)
	mux.HandleFunc("GET /files/{id}/playlist.m3u8", s.handlePlaylist)
	mux.HandleFunc("POST /files/{id}/share", s.handleCreateShare)
	mux.HandleFunc("GET /s/{token}", s.handleShared)

	return s.recoverer(mux)
}

func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Wait blocks until every transfer started by a handler has finished.
func (s *Server) Wait() {
	s.jobs.Wait()
}

// spawn runs fn in the background, detached from any request.
func (s *Server) spawn(fn func()) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		fn()
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
