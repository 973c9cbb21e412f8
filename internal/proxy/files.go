package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cloudvault/internal/catalog"
	"cloudvault/internal/fetch"
	"cloudvault/internal/objstore"
	"cloudvault/internal/playlist"
	"cloudvault/internal/spool"
	"cloudvault/internal/transfer"
)

// staged is a file sitting in the spool, ready to be sent to the backend.
type staged struct {
	path        string
	name        string
	size        int64
	sha256      string
	contentType string
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	files, err := s.Catalog.List(r.Context(), owner)
	if err != nil {
		s.log.Error("list files failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.ownedFile(w, r); ok {
		writeJSON(w, http.StatusOK, f)
	}
}

// handleUpload stages the request body and hands the backend upload to the
// primary lane. The response carries the task id; the outcome is reported
// through the task surfaces.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	name := r.Header.Get("X-File-Name")
	if name == "" {
		name = r.URL.Query().Get("name")
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		writeError(w, http.StatusBadRequest, "file name is required")
		return
	}

	st, err := s.stageBody(r.Body, name)
	if err != nil {
		s.log.Warn("staging upload failed", "user_id", owner, "error", err)
		writeError(w, http.StatusBadRequest, "could not read upload body")
		return
	}

	id, err := s.Scheduler.Enqueue(transfer.KindPrimary, name, owner)
	if err != nil {
		s.Spool.Remove(st.path)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.spawn(func() {
		defer s.Spool.Remove(st.path)
		s.Scheduler.Run(context.Background(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
			return s.storeStaged(ctx, st, owner, cp, 0)
		})
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// handleUploadFromURL downloads a URL into the spool and uploads it, both
// inside one primary task. transferred counts bytes moved in both phases.
func (s *Server) handleUploadFromURL(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := url.Parse(body.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "Invalid URL")
		return
	}

	name := fetch.FileName(body.URL)
	id, err := s.Scheduler.Enqueue(transfer.KindPrimary, name, owner)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.spawn(func() {
		s.Scheduler.Run(context.Background(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
			return s.fetchAndStore(ctx, body.URL, name, owner, cp)
		})
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) fetchAndStore(ctx context.Context, rawURL, name, owner string, cp transfer.Checkpoint) (any, error) {
	f, err := s.Spool.Create("fetch")
	if err != nil {
		return nil, err
	}
	defer s.Spool.Remove(f.Name())
	defer f.Close()

	res, err := s.Fetcher.Fetch(ctx, rawURL, f, func(n, total int64) error {
		return cp(n, 2*total)
	})
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	if dup, err := s.Catalog.FindByHash(ctx, owner, res.SHA256); err == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrDuplicate, dup.ID)
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	st := staged{
		path:        f.Name(),
		name:        name,
		size:        res.Size,
		sha256:      res.SHA256,
		contentType: spool.DetectType(f.Name()),
	}
	return s.storeStaged(ctx, st, owner, cp, res.Size)
}

// storeStaged uploads a staged file and records it in the catalog. base is
// added to the reported byte counts when earlier phases moved bytes.
func (s *Server) storeStaged(ctx context.Context, st staged, owner string, cp transfer.Checkpoint, base int64) (catalog.File, error) {
	f, err := os.Open(st.path)
	if err != nil {
		return catalog.File{}, err
	}
	defer f.Close()

	key := "objects/" + uuid.NewString()
	total := base + st.size
	progress := func(n, _ int64) error { return cp(base+n, total) }

	if err := progress(0, st.size); err != nil {
		return catalog.File{}, err
	}
	if _, err := s.Objects.Put(ctx, key, f, st.size, objstore.PutOptions{
		ContentType: st.contentType,
		Caption:     st.name,
		Progress:    progress,
	}); err != nil {
		return catalog.File{}, err
	}
	// last checkpoint: a cancel that raced the final chunk discards the object
	if err := progress(st.size, st.size); err != nil {
		s.discardObject(key)
		return catalog.File{}, err
	}

	file, err := s.Catalog.Create(context.WithoutCancel(ctx), catalog.File{
		OwnerID:     owner,
		Name:        st.name,
		ObjectKey:   key,
		Size:        st.size,
		ContentType: st.contentType,
		SHA256:      st.sha256,
	})
	if err != nil {
		s.discardObject(key)
		return catalog.File{}, err
	}
	return file, nil
}

func (s *Server) stageBody(body io.Reader, name string) (staged, error) {
	f, err := s.Spool.Create("upload")
	if err != nil {
		return staged{}, err
	}
	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hash), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Spool.Remove(f.Name())
		return staged{}, err
	}
	return staged{
		path:        f.Name(),
		name:        name,
		size:        n,
		sha256:      hex.EncodeToString(hash.Sum(nil)),
		contentType: spool.DetectType(f.Name()),
	}, nil
}

func (s *Server) discardObject(key string) {
	if err := s.Objects.Delete(context.Background(), key); err != nil && !errors.Is(err, objstore.ErrObjectNotFound) {
		s.log.Warn("failed to discard object", "key", key, "error", err)
	}
}

// handleFetch pulls a whole object into the local cache on the primary lane.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	id, err := s.Scheduler.Enqueue(transfer.KindPrimary, f.Name, f.OwnerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.spawn(func() {
		s.Scheduler.Run(context.Background(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
			return s.cacheObject(ctx, f, cp)
		})
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// handlePreview serves a file from the local cache, filling the cache on the
// preview lane first when needed. Leaving the request cancels the fill.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	path := s.Spool.PreviewPath(f.ObjectKey)
	if !s.Spool.Exists(path) {
		id, err := s.Scheduler.Enqueue(transfer.KindPreview, f.Name, f.OwnerID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		res, err := s.Scheduler.Run(r.Context(), id, func(ctx context.Context, cp transfer.Checkpoint) (any, error) {
			return s.cacheObject(ctx, f, cp)
		})
		if err != nil || res.Status != transfer.StatusCompleted {
			writeError(w, http.StatusBadGateway, "preview unavailable: "+res.Error)
			return
		}
	}

	cached, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusBadGateway, "preview unavailable")
		return
	}
	defer cached.Close()
	info, err := cached.Stat()
	if err != nil {
		writeError(w, http.StatusBadGateway, "preview unavailable")
		return
	}
	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}
	http.ServeContent(w, r, f.Name, info.ModTime(), cached)
}

// cacheObject downloads f into its preview cache path. The file appears
// atomically once complete.
func (s *Server) cacheObject(ctx context.Context, f catalog.File, cp transfer.Checkpoint) (any, error) {
	tmp, err := s.Spool.Create("download")
	if err != nil {
		return nil, err
	}
	defer s.Spool.Remove(tmp.Name())
	defer tmp.Close()

	n, err := s.Objects.Download(ctx, f.ObjectKey, tmp, objstore.ProgressFunc(cp))
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), s.Spool.PreviewPath(f.ObjectKey)); err != nil {
		return nil, err
	}
	return map[string]any{"file_id": f.ID, "size": n}, nil
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	s.serveRange(w, r, content{key: f.ObjectKey, name: f.Name, size: f.Size, contentType: f.ContentType})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	if !playlist.IsTransportStream(f.Name, f.ContentType) {
		writeError(w, http.StatusUnsupportedMediaType, playlist.ErrNotStream.Error())
		return
	}
	uri := "content"
	if owner := r.URL.Query().Get("user_id"); owner != "" {
		uri += "?user_id=" + url.QueryEscape(owner)
	}
	body, err := playlist.ByteRange(uri, f.Size, s.HLSBitrate, playlist.DefaultSegmentSeconds)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", playlist.ContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	io.WriteString(w, body)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.Objects.SetCaption(r.Context(), f.ObjectKey, body.Name); err != nil {
		s.log.Warn("caption update failed", "file_id", f.ID, "error", err)
		writeError(w, http.StatusBadGateway, "backend rename failed")
		return
	}
	if err := s.Catalog.Rename(r.Context(), f.ID, body.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.Name = body.Name
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	if err := s.Objects.Delete(r.Context(), f.ObjectKey); err != nil && !errors.Is(err, objstore.ErrObjectNotFound) {
		s.log.Warn("backend delete failed", "file_id", f.ID, "error", err)
		writeError(w, http.StatusBadGateway, "backend delete failed")
		return
	}
	if err := s.Catalog.Delete(r.Context(), f.ID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Spool.Remove(s.Spool.PreviewPath(f.ObjectKey))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	f, ok := s.ownedFile(w, r)
	if !ok {
		return
	}
	share, err := s.Catalog.CreateShare(r.Context(), f.ID, f.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": share.Token, "url": "/s/" + share.Token})
}

// handleShared serves a shared file to anyone holding the token.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	f, err := s.Catalog.ResolveShare(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Link not found or expired")
		return
	}
	s.serveRange(w, r, content{key: f.ObjectKey, name: f.Name, size: f.Size, contentType: f.ContentType})
}

// ownedFile loads the file named in the path and checks it belongs to the
// caller. It writes the error response itself.
func (s *Server) ownedFile(w http.ResponseWriter, r *http.Request) (catalog.File, bool) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return catalog.File{}, false
	}
	f, err := s.Catalog.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && f.OwnerID != owner) {
		writeError(w, http.StatusNotFound, "File not found")
		return catalog.File{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return catalog.File{}, false
	}
	return f, true
}
