package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"cloudvault/internal/objstore"
)

var ErrUnsatisfiableRange = errors.New("range not satisfiable")

// byteRange is an inclusive interval of a resource.
type byteRange struct {
	start, end int64
	partial    bool
}

func (b byteRange) length() int64 { return b.end - b.start + 1 }

// parseRange resolves a Range header against size. Anything it cannot
// understand (other units, several ranges, garbage) selects the whole
// resource. Only a start at or past the end is an error.
func parseRange(header string, size int64) (byteRange, error) {
	full := byteRange{start: 0, end: size - 1}
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || strings.TrimSpace(unit) != "bytes" || strings.Contains(spec, ",") {
		return full, nil
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return full, nil
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		// suffix form: the last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return full, nil
		}
		if size == 0 {
			return byteRange{}, ErrUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1, partial: true}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return full, nil
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return full, nil
		}
	}
	if start >= size {
		return byteRange{}, ErrUnsatisfiableRange
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end, partial: true}, nil
}

// content describes a stored object served by serveRange.
type content struct {
	key         string
	name        string
	size        int64
	contentType string
}

// serveRange answers r with the requested slice of an object, pulling it
// from the backend chunk by chunk as the client reads.
func (s *Server) serveRange(w http.ResponseWriter, r *http.Request, c content) {
	br, err := parseRange(r.Header.Get("Range"), c.size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", c.size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	if c.contentType != "" {
		h.Set("Content-Type", c.contentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if c.name != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": c.name}))
	}

	length := int64(0)
	status := http.StatusOK
	if c.size > 0 {
		length = br.length()
	}
	if br.partial {
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, c.size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead || length == 0 {
		return
	}

	body := newRangeReader(r.Context(), s.Objects, c.key, br.start, length, s.ChunkSize)
	defer body.Close()
	if n, err := io.Copy(w, body); err != nil {
		s.log.Debug("range stream ended early", "key", c.key, "sent", n, "want", length, "error", err)
	}
}

// rangeReader is a lazy, forward-only reader over [offset, offset+remaining)
// of an object. Each chunk is a separate ranged read on the backend.
type rangeReader struct {
	ctx       context.Context
	objects   objstore.Client
	key       string
	offset    int64
	remaining int64
	chunkSize int64

	cur     io.ReadCloser
	curLeft int64
}

func newRangeReader(ctx context.Context, objects objstore.Client, key string, offset, length, chunkSize int64) *rangeReader {
	return &rangeReader{
		ctx:       ctx,
		objects:   objects,
		key:       key,
		offset:    offset,
		remaining: length,
		chunkSize: chunkSize,
	}
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if r.cur == nil {
		n := min(r.chunkSize, r.remaining)
		rc, err := r.objects.GetRange(r.ctx, r.key, r.offset, n)
		if err != nil {
			return 0, err
		}
		r.cur, r.curLeft = rc, n
	}
	if int64(len(p)) > r.curLeft {
		p = p[:r.curLeft]
	}
	n, err := r.cur.Read(p)
	r.offset += int64(n)
	r.remaining -= int64(n)
	r.curLeft -= int64(n)

	if r.curLeft == 0 {
		r.closeChunk()
		return n, nil
	}
	if err == io.EOF {
		r.closeChunk()
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (r *rangeReader) closeChunk() {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
}

func (r *rangeReader) Close() error {
	r.closeChunk()
	r.remaining = 0
	return nil
}
