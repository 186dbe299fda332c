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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsort/lexsort/entities/blob"
	enterrors "github.com/lexsort/lexsort/entities/errors"
)

type taskFunc struct {
	name string
	run  func(ctx context.Context, rt *Runtime) ([]byte, error)
}

func (t taskFunc) Name() string { return t.name }

func (t taskFunc) Run(ctx context.Context, rt *Runtime) ([]byte, error) {
	return t.run(ctx, rt)
}

// memStore is an in-memory blob.Store for runner tests. It counts Delete
// calls per handle, so replay tests can observe re-issued deletions.
type memStore struct {
	mu      sync.Mutex
	blobs   map[blob.Handle][]byte
	deletes map[blob.Handle]int
}

func newMemStore() *memStore {
	return &memStore{
		blobs:   map[blob.Handle][]byte{},
		deletes: map[blob.Handle]int{},
	}
}

func (s *memStore) put(data string) blob.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := blob.NewHandle()
	s.blobs[h] = []byte(data)
	return h
}

func (s *memStore) deleteCount(h blob.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[h]
}

func (s *memStore) Write(_ context.Context, localPath string) (blob.Handle, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := blob.NewHandle()
	s.blobs[h] = data
	return h, nil
}

func (s *memStore) WriteStream(context.Context) (io.WriteCloser, blob.Handle, error) {
	h := blob.NewHandle()
	return &memWriter{store: s, handle: h}, h, nil
}

type memWriter struct {
	store  *memStore
	handle blob.Handle
	buf    bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.handle] = w.buf.Bytes()
	return nil
}

func (s *memStore) Read(_ context.Context, h blob.Handle, localPath string) error {
	s.mu.Lock()
	data, ok := s.blobs[h]
	s.mu.Unlock()
	if !ok {
		return enterrors.NewErrNotFound(fmt.Errorf("handle %s", h))
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (s *memStore) ReadStream(_ context.Context, h blob.Handle) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[h]
	s.mu.Unlock()
	if !ok {
		return nil, enterrors.NewErrNotFound(fmt.Errorf("handle %s", h))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Size(_ context.Context, h blob.Handle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[h]
	if !ok {
		return 0, enterrors.NewErrNotFound(fmt.Errorf("handle %s", h))
	}
	return int64(len(data)), nil
}

func (s *memStore) Delete(_ context.Context, h blob.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[h]++
	delete(s.blobs, h)
	return nil
}

func (s *memStore) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = map[blob.Handle][]byte{}
	return nil
}

type runnerHarness struct {
	runner  *Runner
	journal *Journal
	store   *memStore
}

func newHarness(t *testing.T, mutate func(*RunnerParams)) *runnerHarness {
	t.Helper()

	logger, _ := test.NewNullLogger()
	journal := openTestJournal(t)
	require.NoError(t, journal.EnsureRun("test-run", testPin()))

	store := newMemStore()
	params := RunnerParams{
		Store:                store,
		Journal:              journal,
		RunID:                "test-run",
		Logger:               logger,
		Workers:              4,
		RetryInitialInterval: 2 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&params)
	}
	return &runnerHarness{runner: NewRunner(params), journal: journal, store: store}
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) index(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

func TestRunnerExecutesSingleJob(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	out, err := h.runner.Execute(context.Background(), Spec{
		Task: taskFunc{name: "solo", run: func(context.Context, *Runtime) ([]byte, error) {
			return []byte("done"), nil
		}},
		Checkpoint: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), out)

	rec, err := h.journal.Lookup("test-run", "root")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "solo", rec.Task)
	assert.Equal(t, []byte("done"), rec.Output)
	assert.Equal(t, 1, rec.Attempts)
}

func TestRunnerFollowOnOrdering(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)
	log := &eventLog{}

	grandchild := taskFunc{name: "grandchild", run: func(context.Context, *Runtime) ([]byte, error) {
		log.add("grandchild done")
		return []byte("g"), nil
	}}
	childFollowOn := taskFunc{name: "child-follow-on", run: func(context.Context, *Runtime) ([]byte, error) {
		log.add("child follow-on done")
		return []byte("cf"), nil
	}}
	child0 := taskFunc{name: "child0", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		rt.SpawnChild(Spec{Task: grandchild})
		rt.SetFollowOn(Spec{Task: childFollowOn})
		return []byte("c0-body"), nil
	}}
	child1 := taskFunc{name: "child1", run: func(context.Context, *Runtime) ([]byte, error) {
		log.add("child1 done")
		return []byte("c1"), nil
	}}

	var p0, p1 *Promise
	followOn := taskFunc{name: "follow-on", run: func(context.Context, *Runtime) ([]byte, error) {
		log.add("follow-on start")
		// child0's subtree output is its follow-on's output, not its body's
		assert.Equal(t, []byte("cf"), p0.Get())
		assert.Equal(t, []byte("c1"), p1.Get())
		return []byte("merged"), nil
	}}
	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		p0 = rt.SpawnChild(Spec{Task: child0})
		p1 = rt.SpawnChild(Spec{Task: child1})
		rt.SetFollowOn(Spec{Task: followOn})
		return []byte("root-body"), nil
	}}

	out, err := h.runner.Execute(context.Background(), Spec{Task: root, Checkpoint: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("merged"), out, "root subtree output is its follow-on's output")

	// the root follow-on runs only after the entire child subtree, including
	// child0's own follow-on, completed
	require.NotEqual(t, -1, log.index("follow-on start"))
	assert.Less(t, log.index("grandchild done"), log.index("child follow-on done"))
	assert.Less(t, log.index("child follow-on done"), log.index("follow-on start"))
	assert.Less(t, log.index("child1 done"), log.index("follow-on start"))
}

func TestRunnerSiblingsRunConcurrently(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()
	h := newHarness(t, nil)

	var both sync.WaitGroup
	both.Add(2)
	sibling := func(name string) taskFunc {
		return taskFunc{name: name, run: func(context.Context, *Runtime) ([]byte, error) {
			both.Done()
			met := make(chan struct{})
			go func() {
				both.Wait()
				close(met)
			}()
			select {
			case <-met:
				return []byte(name), nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		}}
	}

	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		rt.SpawnChild(Spec{Task: sibling("left")})
		rt.SpawnChild(Spec{Task: sibling("right")})
		return nil, nil
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: root, Checkpoint: true})
	require.NoError(t, err)
}

func TestRunnerWorkerLimitBoundsRunningBodies(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()
	h := newHarness(t, func(p *RunnerParams) { p.Workers = 2 })

	var running, maxRunning int32
	child := taskFunc{name: "child", run: func(context.Context, *Runtime) ([]byte, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			max := atomic.LoadInt32(&maxRunning)
			if cur <= max || atomic.CompareAndSwapInt32(&maxRunning, max, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}}

	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		for i := 0; i < 5; i++ {
			rt.SpawnChild(Spec{Task: child})
		}
		return nil, nil
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: root, Checkpoint: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxRunning), int32(1))
}

func TestRunnerMemoryBudgetSerializesHeavyBodies(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()
	h := newHarness(t, func(p *RunnerParams) {
		p.Workers = 4
		p.MemoryBudgetBytes = 100
	})

	var running, maxRunning int32
	heavy := taskFunc{name: "heavy", run: func(context.Context, *Runtime) ([]byte, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			max := atomic.LoadInt32(&maxRunning)
			if cur <= max || atomic.CompareAndSwapInt32(&maxRunning, max, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}}

	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		for i := 0; i < 3; i++ {
			rt.SpawnChild(Spec{Task: heavy, Resources: Resources{MemoryBytes: 100}})
		}
		return nil, nil
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: root, Checkpoint: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxRunning),
		"bodies requiring the whole budget must never overlap")
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	var attempts int32
	flaky := taskFunc{name: "flaky", run: func(context.Context, *Runtime) ([]byte, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return nil, errors.New("worker lost")
		}
		return []byte("ok"), nil
	}}

	out, err := h.runner.Execute(context.Background(), Spec{Task: flaky, Checkpoint: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))

	rec, err := h.journal.Lookup("test-run", "root")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRunnerAbortsOnPermanentErrors(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	var attempts int32
	broken := taskFunc{name: "broken", run: func(context.Context, *Runtime) ([]byte, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, enterrors.NewErrDataInvariantf("no complete line in range [0,10)")
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: broken, Checkpoint: true})
	require.Error(t, err)
	assert.True(t, enterrors.IsDataInvariant(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts), "data invariant errors are not retried")

	rec, err := h.journal.Lookup("test-run", "root")
	require.NoError(t, err)
	assert.Nil(t, rec, "failed subtrees are not journaled")
}

func TestRunnerContainsPanickingBodies(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	bomb := taskFunc{name: "bomb", run: func(context.Context, *Runtime) ([]byte, error) {
		panic("boom")
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: bomb, Checkpoint: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRunnerCancellation(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	waiting := taskFunc{name: "waiting", run: func(ctx context.Context, _ *Runtime) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := h.runner.Execute(ctx, Spec{Task: waiting, Checkpoint: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunnerReplaySkipsCompletedSubtrees(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	var bodyRuns int32
	spec := Spec{
		Task: taskFunc{name: "once", run: func(context.Context, *Runtime) ([]byte, error) {
			atomic.AddInt32(&bodyRuns, 1)
			return []byte("v1"), nil
		}},
		Checkpoint: true,
	}

	out1, err := h.runner.Execute(context.Background(), spec)
	require.NoError(t, err)
	out2, err := h.runner.Execute(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&bodyRuns), "journaled bodies must not re-run")
}

func TestRunnerReplayReissuesDeferredDeletes(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	var bodyRuns int32
	handle := h.store.put("consumed input")
	spec := Spec{
		Task: taskFunc{name: "consumer", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
			atomic.AddInt32(&bodyRuns, 1)
			rt.DeferDelete(handle)
			return []byte("ok"), nil
		}},
		Checkpoint: true,
	}

	_, err := h.runner.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.deleteCount(handle))

	_, err = h.runner.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.deleteCount(handle), "replay re-issues recorded deletions")
	assert.EqualValues(t, 1, atomic.LoadInt32(&bodyRuns))
}

func TestRunnerDeferredDeletionNeedsDurableFrontier(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, nil)

	handle := h.store.put("consumed input")
	child := taskFunc{name: "child", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		rt.DeferDelete(handle)
		return []byte("c"), nil
	}}
	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		rt.SpawnChild(Spec{Task: child}) // not checkpointed
		return nil, nil
	}}

	_, err := h.runner.Execute(context.Background(), Spec{Task: root, Checkpoint: true})
	require.NoError(t, err)

	rec, err := h.journal.Lookup("test-run", "root.c0")
	require.NoError(t, err)
	assert.Nil(t, rec, "non-checkpointed jobs are not journaled")

	rec, err = h.journal.Lookup("test-run", "root")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{handle.String()}, rec.Deferred,
		"deletions of non-checkpointed jobs bubble up to the nearest checkpointed ancestor")
	assert.Equal(t, 1, h.store.deleteCount(handle))
}

func TestRunnerResumesAtFailureFrontier(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	h := newHarness(t, func(p *RunnerParams) { p.MaxAttempts = 1 })

	var rootRuns, c0Runs, c1Runs int32
	var failC1 atomic.Bool
	failC1.Store(true)

	c0 := taskFunc{name: "c0", run: func(context.Context, *Runtime) ([]byte, error) {
		atomic.AddInt32(&c0Runs, 1)
		return []byte("c0"), nil
	}}
	c1 := taskFunc{name: "c1", run: func(context.Context, *Runtime) ([]byte, error) {
		atomic.AddInt32(&c1Runs, 1)
		if failC1.Load() {
			return nil, errors.New("worker lost")
		}
		return []byte("c1"), nil
	}}

	var p0, p1 *Promise
	followOn := taskFunc{name: "combine", run: func(context.Context, *Runtime) ([]byte, error) {
		return append(append([]byte{}, p0.Get()...), p1.Get()...), nil
	}}
	root := taskFunc{name: "root", run: func(_ context.Context, rt *Runtime) ([]byte, error) {
		atomic.AddInt32(&rootRuns, 1)
		p0 = rt.SpawnChild(Spec{Task: c0, Checkpoint: true})
		p1 = rt.SpawnChild(Spec{Task: c1, Checkpoint: true})
		rt.SetFollowOn(Spec{Task: followOn, Checkpoint: true})
		return nil, nil
	}}
	spec := Spec{Task: root, Checkpoint: true}

	_, err := h.runner.Execute(context.Background(), spec)
	require.Error(t, err)

	failC1.Store(false)
	out, err := h.runner.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []byte("c0c1"), out)

	assert.EqualValues(t, 2, atomic.LoadInt32(&rootRuns), "unrecorded ancestors re-run")
	assert.EqualValues(t, 1, atomic.LoadInt32(&c0Runs), "completed subtrees replay from the journal")
	assert.EqualValues(t, 2, atomic.LoadInt32(&c1Runs))
}

func TestRunnerJanitorSweepsAbandonedScratch(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	scratchBase := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Now())
	h := newHarness(t, func(p *RunnerParams) {
		p.Clock = clock
		p.ScratchBase = scratchBase
		p.ScratchTTL = 30 * time.Second
		p.JanitorInterval = time.Minute
	})

	stale := filepath.Join(scratchBase, "root.c1-attempt1")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	release := make(chan struct{})
	blocked := taskFunc{name: "blocked", run: func(context.Context, *Runtime) ([]byte, error) {
		<-release
		return []byte("ok"), nil
	}}

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Execute(context.Background(), Spec{Task: blocked, Checkpoint: true})
		done <- err
	}()

	// wait for the janitor's ticker, then move past the TTL
	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond, "stale scratch dir was not swept")

	close(release)
	require.NoError(t, <-done)
}

func TestPromise(t *testing.T) {
	t.Run("read before resolution is a programming error", func(t *testing.T) {
		assert.Panics(t, func() { (&Promise{}).Get() })
	})

	t.Run("resolved value is returned", func(t *testing.T) {
		p := &Promise{}
		assert.False(t, p.Resolved())
		p.resolve([]byte("x"))
		assert.True(t, p.Resolved())
		assert.Equal(t, []byte("x"), p.Get())
	})
}

func TestRuntimeSingleFollowOn(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := newRuntime("root", logger)

	noop := taskFunc{name: "noop", run: func(context.Context, *Runtime) ([]byte, error) {
		return nil, nil
	}}
	rt.SetFollowOn(Spec{Task: noop})
	assert.Panics(t, func() { rt.SetFollowOn(Spec{Task: noop}) })
}
