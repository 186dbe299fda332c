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

package diskio

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Scratch is a scoped scratch directory for a single job attempt. Every local
// temp file a job body needs lives underneath it, and a single Release on the
// way out reclaims all of them regardless of which path the body exited on.
type Scratch struct {
	dir string
}

// NewScratch creates the attempt directory under baseDir. The id must be
// unique per attempt, concurrent attempts never share a Scratch.
func NewScratch(baseDir, id string) (*Scratch, error) {
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create scratch dir %q", dir)
	}
	return &Scratch{dir: dir}, nil
}

func (s *Scratch) Dir() string {
	return s.dir
}

func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Scratch) Create(name string) (*os.File, error) {
	f, err := os.Create(s.Path(name))
	if err != nil {
		return nil, errors.Wrapf(err, "create scratch file %q", name)
	}
	return f, nil
}

// Release removes the attempt directory and everything in it.
func (s *Scratch) Release() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Wrapf(err, "release scratch dir %q", s.dir)
	}
	return nil
}

// SweepScratch removes attempt directories under baseDir whose last
// modification is older than ttl. Crashed attempts leave their directories
// behind, a periodic sweep reclaims them without touching live ones.
func SweepScratch(baseDir string, ttl time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read scratch base %q", baseDir)
	}

	swept := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < ttl {
			continue
		}
		if err := os.RemoveAll(filepath.Join(baseDir, entry.Name())); err != nil {
			return swept, errors.Wrapf(err, "sweep scratch dir %q", entry.Name())
		}
		swept++
	}
	return swept, nil
}
