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

	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
)

// node is one vertex of the in-memory job tree. Node IDs are deterministic
// tree paths (root, root.c0, root.c1, root.f, ...), so a resumed run derives
// the same IDs and finds its predecessors' journal records.
type node struct {
	id      string
	spec    Spec
	promise *Promise
}

func newNode(id string, spec Spec) *node {
	return &node{id: id, spec: spec, promise: &Promise{}}
}

// Runtime is handed to a job body for the duration of one attempt. It
// collects the body's spawns and deferred deletions; the runner acts on them
// only after the body returned without error, so a failed attempt leaves no
// half-registered children behind.
type Runtime struct {
	jobID  string
	logger logrus.FieldLogger

	children []*node
	followOn *node
	deferred []blob.Handle
}

func newRuntime(jobID string, logger logrus.FieldLogger) *Runtime {
	return &Runtime{jobID: jobID, logger: logger}
}

// SpawnChild registers a child job. Children start only after the spawning
// body returns; children of the same body run concurrently with no ordering
// between them.
func (rt *Runtime) SpawnChild(spec Spec) *Promise {
	child := newNode(fmt.Sprintf("%s.c%d", rt.jobID, len(rt.children)), spec)
	rt.children = append(rt.children, child)
	return child.promise
}

// SetFollowOn registers the job's follow-on, which runs only after the job's
// entire child subtree completed. At most one follow-on per job; a second
// call is a programming error.
func (rt *Runtime) SetFollowOn(spec Spec) *Promise {
	if rt.followOn != nil {
		panic(fmt.Sprintf("job %s: follow-on already set", rt.jobID))
	}
	rt.followOn = newNode(rt.jobID+".f", spec)
	return rt.followOn.promise
}

// DeferDelete schedules h for deletion once this job's subtree is recorded
// complete. Deferring instead of deleting inline keeps inputs intact for
// re-runs: a body that crashes after consuming its input can still be
// retried, the input disappears only after the result is durable.
func (rt *Runtime) DeferDelete(h blob.Handle) {
	rt.deferred = append(rt.deferred, h)
}

// ID returns the job's deterministic tree-path ID.
func (rt *Runtime) ID() string {
	return rt.jobID
}

// Logger returns a logger scoped to this job.
func (rt *Runtime) Logger() logrus.FieldLogger {
	return rt.logger
}
