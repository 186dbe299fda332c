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

package modstorefs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
	"github.com/lexsort/lexsort/entities/diskio"
	enterrors "github.com/lexsort/lexsort/entities/errors"
	"github.com/lexsort/lexsort/usecases/monitoring"
)

const Name = "filesystem"

// Store keeps every blob of one run as a file under a dedicated root
// directory. Writes land in a temp file first and are renamed into place on
// commit, a crashed writer leaves at most an orphaned temp file behind, never
// a half-visible blob.
type Store struct {
	root    string
	logger  logrus.FieldLogger
	metrics *monitoring.Metrics
}

// New creates the store root if necessary. The root is the run's whole
// namespace, Destroy removes it wholesale.
func New(root string, logger logrus.FieldLogger, metrics *monitoring.Metrics) (*Store, error) {
	if root == "" {
		return nil, enterrors.NewErrConfigurationf("empty store path provided")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, enterrors.NewErrConfiguration(errors.Wrapf(err, "resolve store path %q", root))
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		logger.WithField("module", Name).
			WithField("action", "create_store_root").
			WithError(err).
			Errorf("failed creating store root %v", abs)
		return nil, enterrors.NewErrInternal(errors.Wrap(err, "make store root"))
	}
	if metrics == nil {
		metrics = monitoring.NoopMetrics()
	}
	return &Store{root: abs, logger: logger, metrics: metrics}, nil
}

func (s *Store) objectPath(h blob.Handle) (string, error) {
	path, err := diskio.SanitizeFilePathJoin(s.root, h.String())
	if err != nil {
		return "", enterrors.NewErrInternal(errors.Wrapf(err, "object path for %q", h))
	}
	return path, nil
}

func (s *Store) Write(ctx context.Context, localPath string) (blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", enterrors.NewErrContextExpired(errors.Wrapf(err, "write %q", localPath))
	}

	source, err := os.Open(localPath)
	if err != nil {
		return "", enterrors.NewErrInternal(errors.Wrapf(err, "open source %q", localPath))
	}
	defer source.Close()

	h := blob.NewHandle()
	path, err := s.objectPath(h)
	if err != nil {
		return "", err
	}

	if err := s.commit(path, func(w io.Writer) error {
		_, err := io.Copy(w, source)
		return err
	}); err != nil {
		return "", enterrors.NewErrInternal(errors.Wrapf(err, "write object %q", h))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "write").Inc()
	return h, nil
}

// commit writes through a temp file and renames it into place, metering the
// bytes written.
func (s *Store) commit(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create temp %q", tmp)
	}

	metered := diskio.NewMeteredWriter(f, func(written int64) {
		s.metrics.StoreBytesWritten.WithLabelValues(Name).Add(float64(written))
	})
	if err := write(metered); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close temp %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %q into place", tmp)
	}
	return diskio.Fsync(path)
}

func (s *Store) WriteStream(ctx context.Context) (io.WriteCloser, blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", enterrors.NewErrContextExpired(errors.Wrap(err, "open write stream"))
	}

	h := blob.NewHandle()
	path, err := s.objectPath(h)
	if err != nil {
		return nil, "", err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, "", enterrors.NewErrInternal(errors.Wrapf(err, "create temp %q", tmp))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "write").Inc()
	w := diskio.NewMeteredWriter(f, func(written int64) {
		s.metrics.StoreBytesWritten.WithLabelValues(Name).Add(float64(written))
	})
	return &writeStream{f: f, w: w, tmp: tmp, path: path}, h, nil
}

type writeStream struct {
	f    *os.File
	w    io.Writer
	tmp  string
	path string
}

func (s *writeStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close commits the blob. Until it returns without error the handle does not
// resolve.
func (s *writeStream) Close() error {
	if err := s.f.Close(); err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "close temp %q", s.tmp))
	}
	if err := os.Rename(s.tmp, s.path); err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "rename %q into place", s.tmp))
	}
	if err := diskio.Fsync(s.path); err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "sync %q", s.path))
	}
	return nil
}

func (s *Store) Read(ctx context.Context, h blob.Handle, localPath string) error {
	source, err := s.open(ctx, h)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "create destination %q", localPath))
	}

	metered := diskio.NewMeteredReader(source, func(read, _ int64) {
		s.metrics.StoreBytesRead.WithLabelValues(Name).Add(float64(read))
	})
	if _, err := io.Copy(dest, metered); err != nil {
		dest.Close()
		return enterrors.NewErrInternal(errors.Wrapf(err, "read object %q", h))
	}
	if err := dest.Close(); err != nil {
		return enterrors.NewErrInternal(errors.Wrapf(err, "close destination %q", localPath))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "read").Inc()
	return nil
}

func (s *Store) ReadStream(ctx context.Context, h blob.Handle) (io.ReadCloser, error) {
	f, err := s.open(ctx, h)
	if err != nil {
		return nil, err
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "read").Inc()
	metered := diskio.NewMeteredReader(f, func(read, _ int64) {
		s.metrics.StoreBytesRead.WithLabelValues(Name).Add(float64(read))
	})
	return &readStream{r: metered, f: f}, nil
}

type readStream struct {
	r io.Reader
	f *os.File
}

func (s *readStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *readStream) Close() error { return s.f.Close() }

func (s *Store) open(ctx context.Context, h blob.Handle) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, enterrors.NewErrContextExpired(errors.Wrapf(err, "read object %q", h))
	}
	path, err := s.objectPath(h)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, enterrors.NewErrNotFound(errors.Wrapf(err, "object %q", h))
	} else if err != nil {
		return nil, enterrors.NewErrInternal(errors.Wrapf(err, "open object %q", h))
	}
	return f, nil
}

func (s *Store) Size(ctx context.Context, h blob.Handle) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, enterrors.NewErrContextExpired(errors.Wrapf(err, "size of object %q", h))
	}
	path, err := s.objectPath(h)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, enterrors.NewErrNotFound(errors.Wrapf(err, "object %q", h))
	} else if err != nil {
		return 0, enterrors.NewErrInternal(errors.Wrapf(err, "stat object %q", h))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "size").Inc()
	return info.Size(), nil
}

func (s *Store) Delete(ctx context.Context, h blob.Handle) error {
	if err := ctx.Err(); err != nil {
		return enterrors.NewErrContextExpired(errors.Wrapf(err, "delete object %q", h))
	}
	path, err := s.objectPath(h)
	if err != nil {
		return err
	}

	// absent objects are fine, replayed steps re-issue their deletions
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return enterrors.NewErrInternal(errors.Wrapf(err, "delete object %q", h))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "delete").Inc()
	return nil
}

func (s *Store) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return enterrors.NewErrContextExpired(errors.Wrap(err, "destroy store"))
	}
	if err := os.RemoveAll(s.root); err != nil {
		return enterrors.NewErrInternal(errors.Wrap(err, "remove store root"))
	}

	s.metrics.StoreOperations.WithLabelValues(Name, "destroy").Inc()
	s.logger.WithField("module", Name).WithField("root", s.root).
		Debug("destroyed store namespace")
	return nil
}
