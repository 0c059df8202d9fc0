// Package publish uploads a build output directory to S3 compatible object
// storage.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	httpmw "github.com/wolfeidau/assetpipe/internal/http"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

// ErrNothingToPublish indicates the output directory holds no files
var ErrNothingToPublish = errors.New("nothing to publish")

// Putter stores one object. *minio.Client implements it.
type Putter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewClient creates a minio client for cfg.
func NewClient(cfg S3Config) (*minio.Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("s3 access key and secret key are required together")
		}
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return client, nil
}

// UploadError reports the object that could not be uploaded.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Result summarises a publish.
type Result struct {
	Objects int
	Bytes   int64
	Retries int64
}

type Option func(*Publisher)

func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = strings.Trim(prefix, "/")
	}
}

func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithMaxTries(n uint) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.maxTries = n
		}
	}
}

// WithBackOff replaces the exponential retry policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *Publisher) {
		p.newBackOff = fn
	}
}

// Publisher uploads output files. Pages and other unhashed files go last so
// a page is never visible before the assets it references.
type Publisher struct {
	client      Putter
	bucket      string
	prefix      string
	concurrency int
	maxTries    uint
	newBackOff  func() backoff.BackOff
}

func New(client Putter, bucket string, opts ...Option) *Publisher {
	p := &Publisher{
		client:      client,
		bucket:      bucket,
		concurrency: 8,
		maxTries:    5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type object struct {
	file string
	key  string
	name string
}

// Publish uploads every file under dir.
func (p *Publisher) Publish(ctx context.Context, dir string) (Result, error) {
	var hashed, rest []object
	err := filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		obj := object{file: file, key: path.Join(p.prefix, name), name: name}
		if httpmw.Hashed(name) {
			hashed = append(hashed, obj)
		} else {
			rest = append(rest, obj)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(hashed)+len(rest) == 0 {
		return Result{}, ErrNothingToPublish
	}

	sort.Slice(hashed, func(i, j int) bool { return hashed[i].key < hashed[j].key })
	sort.Slice(rest, func(i, j int) bool { return rest[i].key < rest[j].key })

	log.Info().
		Str("bucket", p.bucket).
		Str("prefix", p.prefix).
		Int("objects", len(hashed)+len(rest)).
		Msg("Publishing assets")

	var res Result
	for _, batch := range [][]object{hashed, rest} {
		if err := p.upload(ctx, batch, &res); err != nil {
			return res, err
		}
	}

	log.Info().
		Int("objects", res.Objects).
		Int64("bytes", res.Bytes).
		Int64("retries", res.Retries).
		Msg("Assets published")
	return res, nil
}

func (p *Publisher) upload(ctx context.Context, batch []object, res *Result) error {
	metrics := telemetry.GetMetrics()

	var objects, retries atomic.Int64
	var written atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency)

	for _, obj := range batch {
		eg.Go(func() error {
			data, err := os.ReadFile(obj.file)
			if err != nil {
				return &UploadError{Key: obj.key, Err: err}
			}
			opts := putOptions(obj.name)

			_, err = backoff.Retry(ctx, func() (minio.UploadInfo, error) {
				info, err := p.client.PutObject(ctx, p.bucket, obj.key, bytes.NewReader(data), int64(len(data)), opts)
				if err != nil && !transient(err) {
					return info, backoff.Permanent(err)
				}
				return info, err
			},
				backoff.WithBackOff(p.newBackOff()),
				backoff.WithMaxTries(p.maxTries),
				backoff.WithNotify(func(err error, wait time.Duration) {
					retries.Add(1)
					metrics.UploadRetriesTotal.Add(ctx, 1)
					log.Warn().Err(err).Str("key", obj.key).Dur("wait", wait).Msg("Retrying upload")
				}),
			)
			if err != nil {
				return &UploadError{Key: obj.key, Err: err}
			}

			objects.Add(1)
			written.Add(int64(len(data)))
			metrics.UploadsTotal.Add(ctx, 1)
			metrics.UploadBytes.Add(ctx, int64(len(data)))
			log.Debug().Str("key", obj.key).Int("bytes", len(data)).Msg("Uploaded object")
			return nil
		})
	}

	err := eg.Wait()
	res.Objects += int(objects.Load())
	res.Bytes += written.Load()
	res.Retries += retries.Load()
	return err
}

// putOptions derives object metadata from the output file name. Precompressed
// siblings keep the content type of the file they encode.
func putOptions(name string) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{CacheControl: httpmw.CacheControl(name)}

	base := name
	switch path.Ext(name) {
	case ".gz":
		opts.ContentEncoding = "gzip"
		base = strings.TrimSuffix(name, ".gz")
	case ".zst":
		opts.ContentEncoding = "zstd"
		base = strings.TrimSuffix(name, ".zst")
	}

	opts.ContentType = mime.TypeByExtension(path.Ext(base))
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	return opts
}

// transient reports whether a failed upload may succeed when retried.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == 0:
		// no response, the request never reached the server
		return true
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return true
	case resp.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}
