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
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/lexsort/lexsort/entities/blob"
	"github.com/lexsort/lexsort/entities/diskio"
	enterrors "github.com/lexsort/lexsort/entities/errors"
	"github.com/lexsort/lexsort/usecases/monitoring"
)

const (
	DefaultMaxAttempts     = 3
	DefaultRetryInterval   = 100 * time.Millisecond
	DefaultJanitorInterval = time.Minute
)

// Runner executes a job tree. Admission of job bodies is gated by a
// CPU-weighted semaphore sized to Workers and, when a budget is configured, a
// memory-weighted semaphore sized to MemoryBudgetBytes; waiting for children
// holds no permits, so deep recursion cannot deadlock the pools.
type Runner struct {
	store   blob.Store
	journal *Journal
	runID   string

	clock   clockwork.Clock
	logger  logrus.FieldLogger
	metrics *monitoring.Metrics

	cpu       *semaphore.Weighted
	workers   int64
	mem       *semaphore.Weighted
	memBudget int64

	maxAttempts  int
	retryInitial time.Duration
	retryElapsed time.Duration

	scratchBase     string
	scratchTTL      time.Duration
	janitorInterval time.Duration
}

type RunnerParams struct {
	Store   blob.Store
	Journal *Journal
	RunID   string

	Clock   clockwork.Clock
	Logger  logrus.FieldLogger
	Metrics *monitoring.Metrics

	Workers           int
	MemoryBudgetBytes int64

	MaxAttempts          int
	RetryInitialInterval time.Duration
	RetryMaxElapsedTime  time.Duration

	// ScratchBase with a positive ScratchTTL enables the janitor sweeping
	// scratch directories abandoned by crashed attempts.
	ScratchBase     string
	ScratchTTL      time.Duration
	JanitorInterval time.Duration
}

func NewRunner(params RunnerParams) *Runner {
	if params.Clock == nil {
		params.Clock = clockwork.NewRealClock()
	}
	if params.Metrics == nil {
		params.Metrics = monitoring.NoopMetrics()
	}
	if params.Workers <= 0 {
		params.Workers = 1
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = DefaultMaxAttempts
	}
	if params.RetryInitialInterval <= 0 {
		params.RetryInitialInterval = DefaultRetryInterval
	}
	if params.JanitorInterval <= 0 {
		params.JanitorInterval = DefaultJanitorInterval
	}

	r := &Runner{
		store:   params.Store,
		journal: params.Journal,
		runID:   params.RunID,

		clock:   params.Clock,
		logger:  params.Logger,
		metrics: params.Metrics,

		cpu:       semaphore.NewWeighted(int64(params.Workers)),
		workers:   int64(params.Workers),
		memBudget: params.MemoryBudgetBytes,

		maxAttempts:  params.MaxAttempts,
		retryInitial: params.RetryInitialInterval,
		retryElapsed: params.RetryMaxElapsedTime,

		scratchBase:     params.ScratchBase,
		scratchTTL:      params.ScratchTTL,
		janitorInterval: params.JanitorInterval,
	}
	if params.MemoryBudgetBytes > 0 {
		r.mem = semaphore.NewWeighted(params.MemoryBudgetBytes)
	}
	return r
}

// Execute runs the job tree rooted at root and returns the root subtree's
// output. Subtrees already recorded in the journal are replayed from their
// records instead of re-executed, so calling Execute again after a crash
// resumes at the first incomplete frontier.
func (r *Runner) Execute(ctx context.Context, root Spec) ([]byte, error) {
	stopJanitor := make(chan struct{})
	defer close(stopJanitor)
	if r.scratchBase != "" && r.scratchTTL > 0 {
		enterrors.GoWrapper(func() { r.janitor(stopJanitor) }, r.logger)
	}

	var (
		out     []byte
		carried []string
	)
	eg := enterrors.NewErrorGroupWrapper(r.logger)
	eg.Go(func() error {
		var err error
		out, carried, err = r.runNode(ctx, newNode("root", root))
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// deletions deferred by non-checkpointed jobs above the last durable
	// frontier are issued once the whole tree is done
	if err := r.deleteHandles(ctx, r.logger, carried); err != nil {
		return nil, err
	}
	return out, nil
}

// runNode executes one node's body, then its children concurrently, then its
// follow-on, and finally records the completed subtree. It returns the
// subtree output (the follow-on's when one is set, the body's otherwise) plus
// the deferred deletions that still need a durable frontier: deletions are
// only issued under a journal record, so everything deferred beneath a
// non-checkpointed node bubbles up to its nearest checkpointed ancestor.
func (r *Runner) runNode(ctx context.Context, n *node) ([]byte, []string, error) {
	logger := r.logger.WithFields(logrus.Fields{
		"job":  n.id,
		"task": n.spec.Task.Name(),
	})

	if rec, err := r.journal.Lookup(r.runID, n.id); err != nil {
		return nil, nil, err
	} else if rec != nil {
		r.metrics.JournalReplays.Inc()
		logger.WithField("completed_at", rec.CompletedAt).Info("subtree already journaled, replaying result")
		if err := r.deleteHandles(ctx, logger, rec.Deferred); err != nil {
			return nil, nil, err
		}
		n.promise.resolve(rec.Output)
		return rec.Output, nil, nil
	}

	out, rt, attempts, err := r.runBody(ctx, n, logger)
	if err != nil {
		r.metrics.JobsCompleted.WithLabelValues(n.spec.Task.Name(), "failure").Inc()
		return nil, nil, errors.Wrapf(err, "job %s (%s)", n.id, n.spec.Task.Name())
	}

	pending := handleStrings(rt.deferred)

	if len(rt.children) > 0 {
		carriedByChild := make([][]string, len(rt.children))
		eg := enterrors.NewErrorGroupWrapper(logger)
		for i, child := range rt.children {
			i, child := i, child
			eg.Go(func() error {
				_, carried, err := r.runNode(ctx, child)
				carriedByChild[i] = carried
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, nil, err
		}
		for _, carried := range carriedByChild {
			pending = append(pending, carried...)
		}
	}

	subtreeOut := out
	if rt.followOn != nil {
		foOut, carried, err := r.runNode(ctx, rt.followOn)
		if err != nil {
			return nil, nil, err
		}
		subtreeOut = foOut
		pending = append(pending, carried...)
	}

	if !n.spec.Checkpoint {
		r.metrics.JobsCompleted.WithLabelValues(n.spec.Task.Name(), "success").Inc()
		n.promise.resolve(subtreeOut)
		return subtreeOut, pending, nil
	}

	rec := Record{
		Task:        n.spec.Task.Name(),
		Output:      subtreeOut,
		Deferred:    pending,
		Attempts:    attempts,
		CompletedAt: r.clock.Now(),
	}
	if err := r.journal.Commit(r.runID, n.id, rec); err != nil {
		return nil, nil, errors.Wrapf(err, "commit journal record of %s", n.id)
	}
	if err := r.deleteHandles(ctx, logger, pending); err != nil {
		return nil, nil, err
	}

	r.metrics.JobsCompleted.WithLabelValues(n.spec.Task.Name(), "success").Inc()
	n.promise.resolve(subtreeOut)
	return subtreeOut, nil, nil
}

// runBody runs the node's body with admission control and transient-failure
// retries. Each attempt gets a fresh Runtime, so spawns and deferred
// deletions of failed attempts are discarded.
func (r *Runner) runBody(ctx context.Context, n *node, logger logrus.FieldLogger) ([]byte, *Runtime, int, error) {
	var (
		name      = n.spec.Task.Name()
		cpuWeight = r.cpuWeight(n.spec.Resources)
		memWeight = r.memWeight(n.spec.Resources)
		attempts  = 0
		out       []byte
		rt        *Runtime
	)

	operation := func() error {
		attempts++
		rt = newRuntime(n.id, logger)

		if err := r.cpu.Acquire(ctx, cpuWeight); err != nil {
			return backoff.Permanent(errors.Wrap(err, "acquire worker slots"))
		}
		defer r.cpu.Release(cpuWeight)
		if r.mem != nil && memWeight > 0 {
			if err := r.mem.Acquire(ctx, memWeight); err != nil {
				return backoff.Permanent(errors.Wrap(err, "acquire memory budget"))
			}
			defer r.mem.Release(memWeight)
		}

		r.metrics.JobsRunning.WithLabelValues(name).Inc()
		start := r.clock.Now()
		defer func() {
			r.metrics.JobDuration.WithLabelValues(name).Observe(r.clock.Since(start).Seconds())
			r.metrics.JobsRunning.WithLabelValues(name).Dec()
		}()

		var err error
		out, err = n.spec.Task.Run(ctx, rt)
		if err == nil {
			return nil
		}
		if !enterrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		r.metrics.JobRetries.WithLabelValues(name).Inc()
		logger.WithError(err).WithField("retry_in", next).Warn("job body failed, retrying")
	}

	policy := backoff.WithContext(bodyBackOff(r.retryInitial, r.retryElapsed, r.maxAttempts), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, nil, attempts, err
	}
	return out, rt, attempts, nil
}

// deleteHandles removes consumed handles with a short retry. Store deletes
// are idempotent, replays re-issuing them are harmless.
func (r *Runner) deleteHandles(ctx context.Context, logger logrus.FieldLogger, handles []string) error {
	for _, raw := range handles {
		h := blob.Handle(raw)
		operation := func() error {
			if err := r.store.Delete(ctx, h); err != nil {
				if !enterrors.IsTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}
		if err := backoff.Retry(operation, backoff.WithContext(constantBackOff(3, 50*time.Millisecond), ctx)); err != nil {
			return errors.Wrapf(err, "delete handle %s", h)
		}
		logger.WithField("handle", h.String()).Debug("deleted consumed handle")
	}
	return nil
}

func (r *Runner) janitor(stop <-chan struct{}) {
	ticker := r.clock.NewTicker(r.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			swept, err := diskio.SweepScratch(r.scratchBase, r.scratchTTL, r.clock.Now())
			if err != nil {
				r.logger.WithError(err).Warn("scratch sweep failed")
				continue
			}
			if swept > 0 {
				r.metrics.ScratchDirsSwept.Add(float64(swept))
				r.logger.WithField("count", swept).Info("swept abandoned scratch directories")
			}
		case <-stop:
			return
		}
	}
}

func (r *Runner) cpuWeight(res Resources) int64 {
	w := int64(res.CPU)
	if w < 1 {
		w = 1
	}
	if w > r.workers {
		w = r.workers
	}
	return w
}

func (r *Runner) memWeight(res Resources) int64 {
	if r.mem == nil {
		return 0
	}
	w := res.MemoryBytes
	if w < 0 {
		w = 0
	}
	if w > r.memBudget {
		w = r.memBudget
	}
	return w
}

func handleStrings(handles []blob.Handle) []string {
	if len(handles) == 0 {
		return nil
	}
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.String()
	}
	return out
}
