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
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
	"github.com/lexsort/lexsort/entities/diskio"
	enterrors "github.com/lexsort/lexsort/entities/errors"
	"github.com/lexsort/lexsort/usecases/scheduler"
	"github.com/lexsort/lexsort/usecases/sorting"
)

// DownTask is the recursive descent. A range at most Threshold bytes long is
// sorted in memory (leaf); anything larger is split at a line boundary near
// its midpoint into two new blobs, one down child per half plus an up
// follow-on merging their results.
//
// OwnsInput marks handles produced by a parent's split. The owner defers
// their deletion, so a half is reclaimed exactly once, after the subtree that
// consumed it is durably recorded. The top-level input handle has no owner.
type DownTask struct {
	Params
	Input     blob.Handle
	OwnsInput bool
}

func (t *DownTask) Name() string { return "down" }

func (t *DownTask) Run(ctx context.Context, rt *scheduler.Runtime) ([]byte, error) {
	length, err := t.Store.Size(ctx, t.Input)
	if err != nil {
		return nil, errors.Wrapf(err, "size of input %s", t.Input)
	}

	scratch, err := diskio.NewScratch(t.ScratchBase, rt.ID())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			rt.Logger().WithError(err).Warn("release scratch dir")
		}
	}()

	if length <= t.Threshold {
		return t.sortLeaf(ctx, rt, scratch, length)
	}
	return t.split(ctx, rt, scratch, length)
}

func (t *DownTask) sortLeaf(ctx context.Context, rt *scheduler.Runtime,
	scratch *diskio.Scratch, length int64,
) ([]byte, error) {
	local := scratch.Path("chunk")
	if err := t.Store.Read(ctx, t.Input, local); err != nil {
		return nil, errors.Wrapf(err, "materialize input %s", t.Input)
	}
	if err := sorting.SortFile(local); err != nil {
		return nil, errors.Wrapf(err, "sort chunk of %d bytes", length)
	}
	out, err := t.Store.Write(ctx, local)
	if err != nil {
		return nil, errors.Wrap(err, "store sorted chunk")
	}

	if t.OwnsInput {
		rt.DeferDelete(t.Input)
	}
	rt.Logger().WithFields(logrus.Fields{
		"input":  t.Input,
		"output": out,
		"bytes":  length,
	}).Debug("sorted leaf chunk in memory")
	return []byte(out), nil
}

func (t *DownTask) split(ctx context.Context, rt *scheduler.Runtime,
	scratch *diskio.Scratch, length int64,
) ([]byte, error) {
	local := scratch.Path("input")
	if err := t.Store.Read(ctx, t.Input, local); err != nil {
		return nil, errors.Wrapf(err, "materialize input %s", t.Input)
	}
	src, err := os.Open(local)
	if err != nil {
		return nil, errors.Wrap(err, "open materialized input")
	}
	defer src.Close()

	mid, err := sorting.FindSplitPoint(src, 0, length)
	if err != nil {
		return nil, err
	}
	if mid+1 >= length {
		// the fallback scan landed on the range's last byte: a single line
		// spans the whole range and splitting it cannot make progress
		return nil, enterrors.NewErrDataInvariantf(
			"input %s: line ending at offset %d spans the whole %d byte range, longer than threshold %d",
			t.Input, mid, length, t.Threshold)
	}

	halves := []struct {
		name       string
		start, end int64
	}{
		{"half1", 0, mid + 1},
		{"half2", mid + 1, length},
	}
	handles := make([]blob.Handle, len(halves))

	// disjoint ranges, independent outputs: both halves copy concurrently
	eg := enterrors.NewErrorGroupWrapper(rt.Logger())
	for i, half := range halves {
		i, half := i, half
		eg.Go(func() error {
			f, err := scratch.Create(half.name)
			if err != nil {
				return err
			}
			if err := sorting.CopyRange(f, src, half.start, half.end); err != nil {
				f.Close()
				return errors.Wrapf(err, "copy bytes [%d,%d)", half.start, half.end)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "close %s", half.name)
			}
			h, err := t.Store.Write(ctx, scratch.Path(half.name))
			if err != nil {
				return errors.Wrapf(err, "store %s", half.name)
			}
			handles[i] = h
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	a := rt.SpawnChild(scheduler.Spec{
		Task: &DownTask{Params: t.Params, Input: handles[0], OwnsInput: true},
		Resources: scheduler.Resources{
			CPU:         1,
			MemoryBytes: t.SortMemoryBytes,
			DiskBytes:   2 * (mid + 1),
			Preemptable: true,
		},
		Checkpoint: true,
	})
	b := rt.SpawnChild(scheduler.Spec{
		Task: &DownTask{Params: t.Params, Input: handles[1], OwnsInput: true},
		Resources: scheduler.Resources{
			CPU:         1,
			MemoryBytes: t.SortMemoryBytes,
			DiskBytes:   2 * (length - mid - 1),
			Preemptable: true,
		},
		Checkpoint: true,
	})
	rt.SetFollowOn(scheduler.Spec{
		Task: &UpTask{Params: t.Params, A: a, B: b},
		Resources: scheduler.Resources{
			CPU:         1,
			MemoryBytes: t.MergeMemoryBytes,
			DiskBytes:   2 * length,
			Preemptable: true,
		},
		Checkpoint: true,
	})

	if t.OwnsInput {
		rt.DeferDelete(t.Input)
	}
	rt.Logger().WithFields(logrus.Fields{
		"input": t.Input,
		"split": mid,
		"bytes": length,
	}).Debug("split range for recursion")
	return nil, nil
}
