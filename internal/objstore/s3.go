package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible services
	AccessKey string // optional, default credential chain otherwise
	SecretKey string
	PathStyle bool
}

// S3 stores objects in an Amazon S3 bucket.
type S3 struct {
	api    S3API
	bucket string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3WithAPI(client, cfg.Bucket), nil
}

// NewS3WithAPI wraps an existing client, mainly for tests.
func NewS3WithAPI(api S3API, bucket string) *S3 {
	return &S3{api: api, bucket: bucket}
}

func (c *S3) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Info, error) {
	pr := NewProgressReader(r, size, opts.Progress)
	in := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   pr.Seekable(),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if opts.Caption != "" {
		in.Metadata = map[string]string{"caption": opts.Caption}
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		if pr.err != nil {
			return Info{}, pr.err
		}
		return Info{}, translateS3(err)
	}
	return Info{Key: key, Size: pr.N(), ContentType: opts.ContentType, Caption: opts.Caption}, nil
}

func (c *S3) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	in := &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)}
	if r := rangeHeader(offset, length); r != "" {
		in.Range = aws.String(r)
	}
	out, err := c.api.GetObject(ctx, in)
	if err != nil {
		return nil, translateS3(err)
	}
	return out.Body, nil
}

func (c *S3) Download(ctx context.Context, key string, w io.Writer, progress ProgressFunc) (int64, error) {
	return download(ctx, c, key, w, progress)
}

func (c *S3) Stat(ctx context.Context, key string) (Info, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		return Info{}, translateS3(err)
	}
	return Info{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Caption:     metaValue(out.Metadata, "caption"),
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

// SetCaption replaces the object's metadata with a self-copy.
func (c *S3) SetCaption(ctx context.Context, key, caption string) error {
	info, err := c.Stat(ctx, key)
	if err != nil {
		return err
	}
	in := &s3.CopyObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(c.bucket + "/" + url.PathEscape(key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          map[string]string{"caption": caption},
	}
	if info.ContentType != "" {
		in.ContentType = aws.String(info.ContentType)
	}
	_, err = c.api.CopyObject(ctx, in)
	return translateS3(err)
}

func (c *S3) Delete(ctx context.Context, key string) error {
	if _, err := c.Stat(ctx, key); err != nil {
		return err
	}
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	return translateS3(err)
}

// rangeHeader builds an HTTP Range value for [offset, offset+length).
// It returns "" when the whole object is wanted.
func rangeHeader(offset, length int64) string {
	switch {
	case length < 0 && offset <= 0:
		return ""
	case length < 0:
		return fmt.Sprintf("bytes=%d-", offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
}

func translateS3(err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
