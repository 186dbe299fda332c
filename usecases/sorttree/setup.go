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

package sorttree

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/usecases/scheduler"
)

// SetupTask registers the input file with the store and spawns the recursive
// down phase, with cleanup as the whole tree's follow-on. Re-running it
// registers the input again under a fresh handle; completed descendants keep
// replaying their journaled outputs and the superseded copy is reclaimed when
// the run's namespace is destroyed.
type SetupTask struct {
	Params
	InputPath   string
	Destination string
}

func (t *SetupTask) Name() string { return "setup" }

func (t *SetupTask) Run(ctx context.Context, rt *scheduler.Runtime) ([]byte, error) {
	input, err := t.Store.Write(ctx, t.InputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "register input %q", t.InputPath)
	}
	size, err := t.Store.Size(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "size of input %s", input)
	}

	// the root down job does not own the top-level input handle, it stays
	// readable until the namespace is destroyed
	result := rt.SpawnChild(scheduler.Spec{
		Task: &DownTask{Params: t.Params, Input: input},
		Resources: scheduler.Resources{
			CPU:         1,
			MemoryBytes: t.SortMemoryBytes,
			DiskBytes:   2 * size,
			Preemptable: true,
		},
		Checkpoint: true,
	})
	rt.SetFollowOn(scheduler.Spec{
		Task: &CleanupTask{
			Params:      t.Params,
			Result:      result,
			Destination: t.Destination,
		},
		Resources:  scheduler.Resources{CPU: 1, DiskBytes: 2 * size},
		Checkpoint: true,
	})

	rt.Logger().WithFields(logrus.Fields{
		"input":  t.InputPath,
		"handle": input,
		"bytes":  size,
	}).Info("registered input file")
	return nil, nil
}
