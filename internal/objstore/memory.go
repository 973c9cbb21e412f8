package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	caption     string
	modTime     time.Time
}

// Memory is an in-process backend for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error) {
	var buf bytes.Buffer
	pr := NewProgressReader(r, size, opts.Progress)
	if _, err := io.Copy(&buf, readerWithContext(ctx, pr)); err != nil {
		return Info{}, err
	}
	if size >= 0 && int64(buf.Len()) != size {
		return Info{}, fmt.Errorf("put %s: read %d bytes, want %d: %w", key, buf.Len(), size, io.ErrUnexpectedEOF)
	}
	obj := &memObject{
		data:        buf.Bytes(),
		contentType: opts.ContentType,
		caption:     opts.Caption,
		modTime:     time.Now(),
	}
	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()
	return obj.info(key), nil
}

func (m *Memory) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	size := int64(len(obj.data))
	if offset < 0 || offset > size || (offset == size && size > 0) {
		return nil, fmt.Errorf("%w: offset %d of %d", ErrInvalidRange, offset, size)
	}
	end := size
	if length >= 0 && offset+length < size {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(obj.data[offset:end])), nil
}

func (m *Memory) Download(ctx context.Context, key string, w io.Writer, progress ProgressFunc) (int64, error) {
	return download(ctx, m, key, w, progress)
}

func (m *Memory) Stat(_ context.Context, key string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Info{}, ErrObjectNotFound
	}
	return obj.info(key), nil
}

func (m *Memory) SetCaption(_ context.Context, key, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return ErrObjectNotFound
	}
	obj.caption = caption
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (o *memObject) info(key string) Info {
	return Info{
		Key:         key,
		Size:        int64(len(o.data)),
		ContentType: o.contentType,
		Caption:     o.caption,
		ModTime:     o.modTime,
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := context.Cause(c.ctx); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
