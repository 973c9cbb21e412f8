package proxy

import (
	"errors"
	"net/http"

	"cloudvault/internal/progress"
	"cloudvault/internal/transfer"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.List(owner))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Scheduler.Get(r.PathValue("task_id"))
	if err != nil || !visibleTo(snap, ownerOf(r)) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	snap, err := s.Scheduler.Get(id)
	if err != nil || !visibleTo(snap, ownerOf(r)) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err := s.Scheduler.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := transfer.StatusCancelled
	if snap, err := s.Scheduler.Get(id); err == nil {
		status = snap.Status
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "status": status})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	records, err := s.History.History(r.Context(), progress.HistoryQuery{
		UserID: owner,
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Skip:   queryInt(r, "skip", 0),
	})
	if err != nil {
		s.log.Error("history query failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// visibleTo hides other users' tasks when the caller identified itself.
func visibleTo(snap transfer.Snapshot, owner string) bool {
	return owner == "" || snap.UserID == owner
}
