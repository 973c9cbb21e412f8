// Package objstore is the remote object client used by transfers and the
// range-streaming proxy. Backends: in-memory, MinIO and Amazon S3.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidRange   = errors.New("invalid object range")
)

// ProgressFunc receives cumulative byte counts at each chunk boundary. A
// non-nil return aborts the transfer and is returned to the caller as is.
type ProgressFunc func(transferred, total int64) error

type PutOptions struct {
	ContentType string
	Caption     string
	Progress    ProgressFunc
}

// Info describes a stored object.
type Info struct {
	Key         string
	Size        int64
	ContentType string
	Caption     string
	ModTime     time.Time
}

// Client is the remote object backend. GetRange returns exactly the bytes in
// [offset, offset+length); a negative length reads to the end of the object.
type Client interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error)
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Download(ctx context.Context, key string, w io.Writer, progress ProgressFunc) (int64, error)
	Stat(ctx context.Context, key string) (Info, error)
	SetCaption(ctx context.Context, key, caption string) error
	Delete(ctx context.Context, key string) error
}

// download streams a whole object from c into w, reporting progress.
func download(ctx context.Context, c Client, key string, w io.Writer, progress ProgressFunc) (int64, error) {
	info, err := c.Stat(ctx, key)
	if err != nil {
		return 0, err
	}
	if progress != nil {
		if err := progress(0, info.Size); err != nil {
			return 0, err
		}
	}
	if info.Size == 0 {
		return 0, nil
	}
	body, err := c.GetRange(ctx, key, 0, -1)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return io.Copy(w, NewProgressReader(body, info.Size, progress))
}
