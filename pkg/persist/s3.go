package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds settings for the S3-compatible store.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET" yaml:"bucket"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1" yaml:"region"`
	Endpoint  string `env:"S3_ENDPOINT" yaml:"endpoint"`
	AccessKey string `env:"S3_ACCESS_KEY" yaml:"access_key"`
	SecretKey string `env:"S3_SECRET_KEY" yaml:"secret_key"`
	Prefix    string `env:"S3_PREFIX" envDefault:"warmcache" yaml:"prefix"`
	PathStyle bool   `env:"S3_PATH_STYLE" yaml:"path_style"`
}

func (c S3Config) validate() error {
	if c.Bucket == "" {
		return errors.Join(ErrInvalidConfig, errors.New("s3 bucket is required"))
	}
	if c.Region == "" {
		return errors.Join(ErrInvalidConfig, errors.New("s3 region is required"))
	}
	return nil
}

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Option configures the S3 store.
type S3Option func(*S3)

// WithS3MaxSize bounds the total size of stored record data in bytes.
// The store keeps a local index of what it holds, seeded from a listing on
// the first write and after every Sweep. Objects found by a listing count at
// their object size, which over-estimates the record data. Zero or less
// means unbounded.
func WithS3MaxSize(n int64) S3Option {
	return func(s *S3) {
		s.index.limit = n
	}
}

// S3 is a Store that keeps one JSON object per key under a prefix.
// Sweep relies on the LastModified time returned by object listings.
type S3 struct {
	client S3API
	index  *budget
	now    func() time.Time
	bucket string
	prefix string
	mu     sync.Mutex
	seeded bool
}

// NewS3 creates an S3-backed store with static credentials.
func NewS3(cfg S3Config, opts ...S3Option) (*S3, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.PathStyle
		}
	})

	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// NewS3WithClient creates a store on top of an existing client.
func NewS3WithClient(client S3API, bucket, prefix string, opts ...S3Option) *S3 {
	s := &S3{
		client: client,
		index:  newBudget(0),
		now:    time.Now,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get downloads and decodes the record stored under key.
func (s *S3) Get(ctx context.Context, key string) (Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return Record{}, wrapS3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("persist: read s3 object: %w", err)
	}

	return decodeRecord(data)
}

// Set uploads the record as a JSON object. With a size budget the oldest
// objects are deleted first to make room.
func (s *S3) Set(ctx context.Context, rec Record) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = s.now()
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	if err := s.reserve(ctx, rec); err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(rec.Key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		s.forget(rec.Key)
		return wrapS3Error(err)
	}
	return nil
}

// Delete removes the object for key. S3 treats missing keys as success.
func (s *S3) Delete(ctx context.Context, key string) error {
	s.forget(key)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return wrapS3Error(err)
	}
	return nil
}

// Clear removes every object under the prefix.
func (s *S3) Clear(ctx context.Context) error {
	_, err := s.deleteWhere(ctx, func(types.Object) bool { return true })

	s.mu.Lock()
	s.index.reset()
	s.seeded = err == nil
	s.mu.Unlock()

	return err
}

// Sweep removes objects last modified before now-maxAge.
// The size index is rebuilt from a listing on the next write.
func (s *S3) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed, err := s.deleteWhere(ctx, func(obj types.Object) bool {
		return obj.LastModified != nil && obj.LastModified.Before(cutoff)
	})

	s.mu.Lock()
	s.seeded = false
	s.mu.Unlock()

	return removed, err
}

// Size returns the accounted size of stored record data in bytes.
// Without a size budget nothing is accounted and Size returns zero.
func (s *S3) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.limit <= 0 {
		return 0, nil
	}
	if _, err := s.seed(ctx); err != nil {
		return 0, err
	}
	return s.index.size(), nil
}

// reserve accounts rec in the size index and deletes the objects evicted to
// make room for it.
func (s *S3) reserve(ctx context.Context, rec Record) error {
	s.mu.Lock()
	if s.index.limit <= 0 {
		s.mu.Unlock()
		return nil
	}
	if !s.index.fits(rec.Size()) {
		s.mu.Unlock()
		return ErrTooLarge
	}
	victims, err := s.seed(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	victims = append(victims, s.index.put(rec.Key, rec.Size(), rec.StoredAt)...)
	s.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}

	ids := make([]types.ObjectIdentifier, 0, len(victims))
	for _, key := range victims {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.objectKey(key))})
	}
	_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return wrapS3Error(err)
	}
	return nil
}

func (s *S3) forget(key string) {
	s.mu.Lock()
	s.index.remove(key)
	s.mu.Unlock()
}

// seed rebuilds the size index from a listing of the prefix and returns the
// keys that already exceed the budget. The caller must hold s.mu.
func (s *S3) seed(ctx context.Context) ([]string, error) {
	if s.seeded {
		return nil, nil
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})

	index := newBudget(s.index.limit)
	var victims []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapS3Error(err)
		}
		for _, obj := range page.Contents {
			key, ok := s.recordKey(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			victims = append(victims, index.put(key, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified))...)
		}
	}

	s.index = index
	s.seeded = true
	return victims, nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *S3) Close() error {
	return nil
}

// deleteWhere lists the prefix and deletes matching objects page by page.
// A listing page holds at most 1000 keys, which is also the DeleteObjects limit.
func (s *S3) deleteWhere(ctx context.Context, match func(types.Object) bool) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})

	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, wrapS3Error(err)
		}

		var ids []types.ObjectIdentifier
		for _, obj := range page.Contents {
			if match(obj) {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
		}
		if len(ids) == 0 {
			continue
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return removed, wrapS3Error(err)
		}
		removed += len(ids)
	}

	return removed, nil
}

func (s *S3) objectKey(key string) string {
	return s.prefix + "/" + url.PathEscape(key) + ".json"
}

// recordKey reverses objectKey.
func (s *S3) recordKey(objectKey string) (string, bool) {
	name, ok := strings.CutPrefix(objectKey, s.prefix+"/")
	if !ok {
		return "", false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok {
		return "", false
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}

// wrapS3Error maps missing objects to ErrNotFound and keeps other errors.
func wrapS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		}
	}

	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return ErrNotFound
	}

	return fmt.Errorf("persist: s3: %w", err)
}

var _ Store = (*S3)(nil)
