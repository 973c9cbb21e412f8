package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	ranges  []string
	copied  *s3.CopyObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("operation error S3: PutObject: %w", err)
	}
	f.objects[aws.ToString(in.Key)] = string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	f.ranges = append(f.ranges, aws.ToString(in.Range))
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("video/mp4"),
		Metadata:      map[string]string{"caption": "clip.mp4"},
	}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copied = in
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "", rangeHeader(0, -1))
	assert.Equal(t, "bytes=500-", rangeHeader(500, -1))
	assert.Equal(t, "bytes=0-999", rangeHeader(0, 1000))
	assert.Equal(t, "bytes=10-19", rangeHeader(10, 10))
}

func TestS3_GetRangeSendsRangeHeader(t *testing.T) {
	api := newFakeS3()
	api.objects["k"] = "0123456789"
	c := NewS3WithAPI(api, "bucket")

	rc, err := c.GetRange(context.Background(), "k", 2, 3)
	require.NoError(t, err)
	rc.Close()
	rc, err = c.GetRange(context.Background(), "k", 0, -1)
	require.NoError(t, err)
	rc.Close()

	assert.Equal(t, []string{"bytes=2-4", ""}, api.ranges)

	_, err = c.GetRange(context.Background(), "missing", 0, 1)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3_PutReturnsProgressAbort(t *testing.T) {
	c := NewS3WithAPI(newFakeS3(), "bucket")
	stop := errors.New("stop")

	_, err := c.Put(context.Background(), "k", strings.NewReader("payload"), 7, PutOptions{
		Progress: func(int64, int64) error { return stop },
	})
	assert.Same(t, stop, err)
}

func TestS3_StatAndCaption(t *testing.T) {
	api := newFakeS3()
	api.objects["dir/k"] = "abc"
	c := NewS3WithAPI(api, "bucket")
	ctx := context.Background()

	info, err := c.Stat(ctx, "dir/k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, "clip.mp4", info.Caption)

	require.NoError(t, c.SetCaption(ctx, "dir/k", "renamed.mp4"))
	require.NotNil(t, api.copied)
	assert.Equal(t, types.MetadataDirectiveReplace, api.copied.MetadataDirective)
	assert.Equal(t, "renamed.mp4", api.copied.Metadata["caption"])
	assert.Equal(t, "video/mp4", aws.ToString(api.copied.ContentType))
	assert.Equal(t, "bucket/dir%2Fk", aws.ToString(api.copied.CopySource))

	_, err = c.Stat(ctx, "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, c.Delete(ctx, "nope"), ErrObjectNotFound)
	require.NoError(t, c.Delete(ctx, "dir/k"))
}

func TestTranslateMinio(t *testing.T) {
	err := translateMinio(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "gone"})
	assert.ErrorIs(t, err, ErrObjectNotFound)

	err = translateMinio(minio.ErrorResponse{Code: "InvalidRange", StatusCode: http.StatusRequestedRangeNotSatisfiable})
	assert.ErrorIs(t, err, ErrInvalidRange)

	other := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	assert.Equal(t, error(other), translateMinio(other))
	assert.Nil(t, translateMinio(nil))
	assert.ErrorIs(t, translateMinio(context.Canceled), context.Canceled)
}

func TestMetaValue(t *testing.T) {
	assert.Equal(t, "a", metaValue(map[string]string{"X-Amz-Meta-Caption": "a"}, "caption"))
	assert.Equal(t, "b", metaValue(map[string]string{"Caption": "b"}, "Caption"))
	assert.Empty(t, metaValue(nil, "caption"))
}
