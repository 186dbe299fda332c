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

package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	enterrors "github.com/lexsort/lexsort/entities/errors"
)

var runsBucket = []byte("runs")

// constants to encode the type of entry in a run bucket
const (
	eTypeConfig byte = 1
	eTypeJob    byte = 2
)

var keyRunConfig = []byte{eTypeConfig, 0}

// Record is the durable result of one completed job subtree. Once a job's
// record exists, a resumed run returns its output instead of re-executing the
// body and re-issues its deferred deletions.
type Record struct {
	Task        string    `msgpack:"task"`
	Output      []byte    `msgpack:"output"`
	Deferred    []string  `msgpack:"deferred"`
	Attempts    int       `msgpack:"attempts"`
	CompletedAt time.Time `msgpack:"completed_at"`
}

// RunPin pins the parameters a run was started with. Journaled outputs are
// only valid for identical parameters, so resuming with different ones must
// be refused, not silently mixed.
type RunPin struct {
	InputPath    string `msgpack:"input_path"`
	OutputPath   string `msgpack:"output_path"`
	Threshold    int64  `msgpack:"threshold"`
	StoreBackend string `msgpack:"store_backend"`
}

/*
Journal persists the completed frontier of every run in a single bbolt file.

Structure:
  - runs bucket: one nested bucket per run ID
  - run bucket: the pinned run parameters plus one record per completed job,
    keyed by the job's deterministic tree-path ID

bbolt fsyncs on every update, so a Commit that returned survives a crash.
*/
type Journal struct {
	db  *bolt.DB
	log logrus.FieldLogger
}

// OpenJournal opens (creating if needed) the journal file under dir.
func OpenJournal(dir string, logger logrus.FieldLogger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
	}

	path := filepath.Join(dir, "journal.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal buckets: %w", err)
	}

	return &Journal{db: db, log: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// EnsureRun creates the bucket for runID and pins the run's parameters. An
// existing run must carry an identical pin; resuming with different
// parameters is a configuration error.
func (j *Journal) EnsureRun(runID string, pin RunPin) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(runsBucket)
		key := []byte(runID)

		if b := root.Bucket(key); b != nil {
			data := b.Get(keyRunConfig)
			if len(data) == 0 {
				return fmt.Errorf("run %q has no pinned parameters", runID)
			}
			existing, err := decodeRunPin(data)
			if err != nil {
				return errors.Wrapf(err, "decode pinned parameters of run %q", runID)
			}
			if *existing != pin {
				return enterrors.NewErrConfigurationf(
					"run %q was started with input %q, output %q, threshold %d, store %q; refusing to resume with different parameters",
					runID, existing.InputPath, existing.OutputPath, existing.Threshold, existing.StoreBackend)
			}
			j.log.WithField("run", runID).Info("resuming existing run")
			return nil
		}

		b, err := root.CreateBucket(key)
		if err != nil {
			return fmt.Errorf("create bucket for run %q: %w", runID, err)
		}
		data, err := encodeRunPin(pin)
		if err != nil {
			return errors.Wrapf(err, "encode parameters of run %q", runID)
		}
		return b.Put(keyRunConfig, data)
	})
}

// Lookup returns the record of jobID, or nil while the job's subtree has not
// completed.
func (j *Journal) Lookup(runID, jobID string) (*Record, error) {
	var rec *Record
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("run %q not initialized", runID)
		}
		data := b.Get(encodeJobKey(jobID))
		if len(data) == 0 {
			return nil
		}
		var err error
		rec, err = decodeRecord(data)
		return errors.Wrapf(err, "decode record of job %q", jobID)
	})
	return rec, err
}

// Commit durably writes the record for jobID.
func (j *Journal) Commit(runID, jobID string, rec Record) error {
	data, err := encodeRecord(&rec)
	if err != nil {
		return errors.Wrapf(err, "encode record of job %q", jobID)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("run %q not initialized", runID)
		}
		return b.Put(encodeJobKey(jobID), data)
	})
}

// DeleteRun drops every record of runID. Deleting an absent run is not an
// error.
func (j *Journal) DeleteRun(runID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(runsBucket).DeleteBucket([]byte(runID))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
}
