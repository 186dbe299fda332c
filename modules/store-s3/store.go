//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package modstores3

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
	entcfg "github.com/lexsort/lexsort/entities/config"
	"github.com/lexsort/lexsort/entities/diskio"
	enterrors "github.com/lexsort/lexsort/entities/errors"
	"github.com/lexsort/lexsort/usecases/config"
	"github.com/lexsort/lexsort/usecases/monitoring"
)

const (
	Name = "s3"

	DefaultEndpoint = "s3.amazonaws.com"

	AWS_ROLE_ARN                = "AWS_ROLE_ARN"
	AWS_WEB_IDENTITY_TOKEN_FILE = "AWS_WEB_IDENTITY_TOKEN_FILE"
	AWS_REGION                  = "AWS_REGION"
	AWS_DEFAULT_REGION          = "AWS_DEFAULT_REGION"

	LEXSORT_S3_USE_SSL = "LEXSORT_S3_USE_SSL"
)

var putOptions = minio.PutObjectOptions{ContentType: "application/octet-stream"}

// Store keeps every blob of one run under a run-scoped key prefix in a single
// bucket. The bucket must exist, the store never creates or removes buckets.
type Store struct {
	client  *minio.Client
	bucket  string
	prefix  string
	logger  logrus.FieldLogger
	metrics *monitoring.Metrics
}

// New builds the client from env credentials the way the AWS SDKs do and
// verifies the bucket exists before the first job runs.
func New(ctx context.Context, cfg config.S3, runID string,
	logger logrus.FieldLogger, metrics *monitoring.Metrics,
) (*Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	region := os.Getenv(AWS_REGION)
	if len(region) == 0 {
		region = os.Getenv(AWS_DEFAULT_REGION)
	}
	creds := credentials.NewEnvAWS()
	if len(os.Getenv(AWS_WEB_IDENTITY_TOKEN_FILE)) > 0 && len(os.Getenv(AWS_ROLE_ARN)) > 0 {
		creds = credentials.NewIAM("")
	}

	secure := cfg.UseSSL
	if v := os.Getenv(LEXSORT_S3_USE_SSL); v != "" {
		secure = entcfg.Enabled(v)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Region: region,
		Secure: secure,
	})
	if err != nil {
		return nil, enterrors.NewErrConfiguration(errors.Wrap(err, "create client"))
	}
	if metrics == nil {
		metrics = monitoring.NoopMetrics()
	}

	s := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  runID,
		logger:  logger,
		metrics: metrics,
	}
	if err := s.findBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) findBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, entcfg.StoreOpTimeout())
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return enterrors.NewErrInternal(errors.Wrap(err, "find bucket"))
	}
	if !exists {
		return enterrors.NewErrConfigurationf("find bucket: bucket '%s' does not exist", s.bucket)
	}
	return nil
}

func (s *Store) objectName(h blob.Handle) string {
	return path.Join(s.prefix, h.String())
}

// Location names the run's namespace, for logs and the CLI summary.
func (s *Store) Location() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *Store) mapErr(err error, op string, h blob.Handle) error {
	if resp := minio.ToErrorResponse(err); resp.StatusCode == http.StatusNotFound {
		return enterrors.NewErrNotFound(errors.Wrapf(err, "%s object '%s'", op, h))
	}
	return enterrors.NewErrInternal(errors.Wrapf(err, "%s object '%s'", op, h))
}

func (s *Store) Write(ctx context.Context, localPath string) (blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", enterrors.NewErrContextExpired(errors.Wrapf(err, "write %q", localPath))
	}

	h := blob.NewHandle()
	if _, err := s.client.FPutObject(ctx, s.bucket, s.objectName(h), localPath, putOptions); err != nil {
		return "", s.mapErr(err, "put", h)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", enterrors.NewErrInternal(errors.Wrapf(err, "stat uploaded file %q", localPath))
	}
	s.metrics.StoreBytesWritten.WithLabelValues(Name).Add(float64(info.Size()))
	s.metrics.StoreOperations.WithLabelValues(Name, "write").Inc()
	return h, nil
}

func (s *Store) WriteStream(ctx context.Context) (io.WriteCloser, blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", enterrors.NewErrContextExpired(errors.Wrap(err, "open write stream"))
	}

	h := blob.NewHandle()
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	enterrors.GoWrapper(func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.objectName(h), pr, -1, putOptions)
		if err != nil {
			pr.CloseWithError(err)
		}
		done <- err
	}, s.logger)

	s.metrics.StoreOperations.WithLabelValues(Name, "write").Inc()
	w := diskio.NewMeteredWriter(pw, func(written int64) {
		s.metrics.StoreBytesWritten.WithLabelValues(Name).Add(float64(written))
	})
	return &writeStream{w: w, pw: pw, done: done, store: s, handle: h}, h, nil
}

type writeStream struct {
	w      io.Writer
	pw     *io.PipeWriter
	done   chan error
	store  *Store
	handle blob.Handle
}

func (s *writeStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close finishes the upload. The handle resolves only after Close returned
// without error.
func (s *writeStream) Close() error {
	if err := s.pw.Close(); err != nil {
		return enterrors.NewErrInternal(errors.Wrap(err, "close upload pipe"))
	}
	if err := <-s.done; err != nil {
		return s.store.mapErr(err, "put", s.handle)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, h blob.Handle, localPath string) error {
	if err := ctx.Err(); err != nil {
		return enterrors.NewErrContextExpired(errors.Wrapf(err, "read object '%s'", h))
	}

	if err := s.client.FGetObject(ctx, s.bucket, s.objectName(h), localPath, minio.GetObjectOptions{}); err != nil {
		return s.mapErr(err, "get", h)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "stat downloaded file %q", localPath))
	}
	s.metrics.StoreBytesRead.WithLabelValues(Name).Add(float64(info.Size()))
	s.metrics.StoreOperations.WithLabelValues(Name, "read").Inc()
	return nil
}

func (s *Store) ReadStream(ctx context.Context, h blob.Handle) (io.ReadCloser, error) {
	// GetObject is lazy, stat first so an unknown handle surfaces here and
	// not on the first read
	if _, err := s.stat(ctx, h); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err, "get", h)
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "read").Inc()
	metered := diskio.NewMeteredReader(obj, func(read, _ int64) {
		s.metrics.StoreBytesRead.WithLabelValues(Name).Add(float64(read))
	})
	return &readStream{r: metered, obj: obj}, nil
}

type readStream struct {
	r   io.Reader
	obj *minio.Object
}

func (s *readStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *readStream) Close() error { return s.obj.Close() }

func (s *Store) stat(ctx context.Context, h blob.Handle) (minio.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return minio.ObjectInfo{}, enterrors.NewErrContextExpired(errors.Wrapf(err, "stat object '%s'", h))
	}
	ctx, cancel := context.WithTimeout(ctx, entcfg.StoreOpTimeout())
	defer cancel()

	info, err := s.client.StatObject(ctx, s.bucket, s.objectName(h), minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, s.mapErr(err, "stat", h)
	}
	return info, nil
}

func (s *Store) Size(ctx context.Context, h blob.Handle) (int64, error) {
	info, err := s.stat(ctx, h)
	if err != nil {
		return 0, err
	}
	s.metrics.StoreOperations.WithLabelValues(Name, "size").Inc()
	return info.Size, nil
}

func (s *Store) Delete(ctx context.Context, h blob.Handle) error {
	if err := ctx.Err(); err != nil {
		return enterrors.NewErrContextExpired(errors.Wrapf(err, "delete object '%s'", h))
	}

	// S3 deletes of absent keys succeed, which is exactly the idempotency the
	// replay path needs
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(h), minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr(err, "remove", h)
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "delete").Inc()
	return nil
}

func (s *Store) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return enterrors.NewErrContextExpired(errors.Wrap(err, "destroy store"))
	}

	var combined *multierror.Error
	opts := minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			combined = multierror.Append(combined, errors.Wrap(obj.Err, "list run objects"))
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			combined = multierror.Append(combined, errors.Wrapf(err, "remove object '%s'", obj.Key))
		}
	}
	if err := combined.ErrorOrNil(); err != nil {
		return enterrors.NewErrInternal(err)
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "destroy").Inc()
	s.logger.WithField("module", Name).WithField("location", s.Location()).
		Debug("destroyed store namespace")
	return nil
}
