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

// Package scheduler is an in-process checkpointing job runner. A job body may
// spawn child jobs and at most one follow-on; children of the same job run
// concurrently, a follow-on runs only after the spawning job's entire child
// subtree, transitively including the children's own follow-ons, has
// completed. Completed subtrees are recorded in a durable journal so an
// interrupted run can resume from its last completed frontier instead of
// starting over.
package scheduler

import "context"

// Task is a single job body. Run may spawn children and a follow-on through
// the Runtime; its returned bytes become the job's output unless a follow-on
// is set, in which case the follow-on's subtree output takes its place.
//
// Bodies must be safe to re-run with identical inputs: after a crash the
// runner re-executes every body whose subtree has no journal record yet.
type Task interface {
	Name() string
	Run(ctx context.Context, rt *Runtime) ([]byte, error)
}

// Resources declares what a job body needs from the runner before it may
// start. CPU counts against the worker limit, MemoryBytes against the
// configured memory budget. The accounting is admission control only, the
// runner does not enforce limits against the running body. Requirements
// exceeding a pool's capacity are clamped to it.
type Resources struct {
	CPU         int
	MemoryBytes int64
	DiskBytes   int64
	Preemptable bool
}

// Spec describes one job to spawn: the body, its resource requirements and
// whether its completed subtree is checkpointed in the journal.
type Spec struct {
	Task       Task
	Resources  Resources
	Checkpoint bool
}
