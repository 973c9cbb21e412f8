package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const captionMeta = "Caption"

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Minio stores objects in a MinIO (or any S3-compatible) bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error) {
	pr := NewProgressReader(r, size, opts.Progress)
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.Caption != "" {
		putOpts.UserMetadata = map[string]string{captionMeta: opts.Caption}
	}
	up, err := m.client.PutObject(ctx, m.bucket, key, pr, size, putOpts)
	if err != nil {
		// the client wraps a progress abort; return the callback error itself
		if pr.err != nil {
			return Info{}, pr.err
		}
		return Info{}, translateMinio(err)
	}
	return Info{
		Key:         key,
		Size:        up.Size,
		ContentType: opts.ContentType,
		Caption:     opts.Caption,
		ModTime:     up.LastModified,
	}, nil
}

func (m *Minio) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	var opts minio.GetObjectOptions
	if offset > 0 || length >= 0 {
		end := int64(0)
		if length > 0 {
			end = offset + length - 1
		}
		if err := opts.SetRange(offset, end); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, opts)
	if err != nil {
		return nil, translateMinio(err)
	}
	// GetObject is lazy; Stat forces the request so a missing key fails here
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translateMinio(err)
	}
	return obj, nil
}

func (m *Minio) Download(ctx context.Context, key string, w io.Writer, progress ProgressFunc) (int64, error) {
	return download(ctx, m, key, w, progress)
}

func (m *Minio) Stat(ctx context.Context, key string) (Info, error) {
	st, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, translateMinio(err)
	}
	return Info{
		Key:         key,
		Size:        st.Size,
		ContentType: st.ContentType,
		Caption:     metaValue(st.UserMetadata, captionMeta),
		ModTime:     st.LastModified,
	}, nil
}

// SetCaption rewrites the object's metadata in place with a server-side copy.
func (m *Minio) SetCaption(ctx context.Context, key, caption string) error {
	st, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return translateMinio(err)
	}
	meta := map[string]string{captionMeta: caption}
	if st.ContentType != "" {
		meta["Content-Type"] = st.ContentType
	}
	_, err = m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: key, UserMetadata: meta, ReplaceMetadata: true},
		minio.CopySrcOptions{Bucket: m.bucket, Object: key},
	)
	return translateMinio(err)
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return translateMinio(err)
	}
	return translateMinio(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func translateMinio(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Message)
	case resp.Code == "InvalidRange" || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: %s", ErrInvalidRange, resp.Message)
	}
	return err
}

// metaValue looks up user metadata regardless of how the server cased it.
func metaValue(meta map[string]string, name string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(name) {
			return v
		}
	}
	return ""
}
