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

// Package sorttree expresses one large sort as a recursive job tree: a setup
// root registers the input with the durable store, a down phase splits ranges
// at line boundaries until they fit the threshold and sorts the leaves, an up
// phase merges sorted halves on the way back, and a cleanup follow-on writes
// the final result to its destination. Jobs exchange data only through store
// handles and every body is safely re-runnable, so an interrupted run resumes
// from the runner's journal instead of starting over.
package sorttree

import (
	"github.com/lexsort/lexsort/entities/blob"
	"github.com/lexsort/lexsort/usecases/scheduler"
)

// Params carries the collaborators and tuning every job of the tree receives
// explicitly. There are no process-wide defaults to fall back to.
type Params struct {
	Store       blob.Store
	ScratchBase string

	// Threshold is N: ranges of at most N bytes are sorted in memory, larger
	// ones are split. Every line must fit into N bytes or the run fails.
	Threshold int64

	// SortMemoryBytes and MergeMemoryBytes are handed to the runner's
	// resource accounting for leaf sorts and merges respectively.
	SortMemoryBytes  int64
	MergeMemoryBytes int64
}

// NewSetup builds the root job spec for sorting inputPath into destination.
// Hand it to the runner's Execute, the returned subtree output is the
// destination path.
func NewSetup(params Params, inputPath, destination string) scheduler.Spec {
	return scheduler.Spec{
		Task: &SetupTask{
			Params:      params,
			InputPath:   inputPath,
			Destination: destination,
		},
		Resources:  scheduler.Resources{CPU: 1},
		Checkpoint: true,
	}
}
