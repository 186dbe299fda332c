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
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lexsort/lexsort/entities/blob"
	"github.com/lexsort/lexsort/usecases/scheduler"
	"github.com/lexsort/lexsort/usecases/sorting"
)

// UpTask streams the two sorted halves of a split into one sorted blob. Both
// promises are resolved by the time it runs, the runner schedules a follow-on
// only after the spawning job's entire child subtree completed.
//
// The input handles are deferred for deletion only after a successful merge;
// a crash mid-merge leaves them intact for the re-run and at worst an
// orphaned partial output, reclaimed when the namespace is destroyed.
type UpTask struct {
	Params
	A, B *scheduler.Promise
}

func (t *UpTask) Name() string { return "up" }

func (t *UpTask) Run(ctx context.Context, rt *scheduler.Runtime) ([]byte, error) {
	a := blob.Handle(t.A.Get())
	b := blob.Handle(t.B.Get())

	inA, err := t.Store.ReadStream(ctx, a)
	if err != nil {
		return nil, errors.Wrapf(err, "open sorted half %s", a)
	}
	defer inA.Close()
	inB, err := t.Store.ReadStream(ctx, b)
	if err != nil {
		return nil, errors.Wrapf(err, "open sorted half %s", b)
	}
	defer inB.Close()

	w, out, err := t.Store.WriteStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open merge output stream")
	}
	if err := t.merge(ctx, rt, inA, inB, w, out); err != nil {
		return nil, err
	}

	rt.DeferDelete(a)
	rt.DeferDelete(b)
	rt.Logger().WithFields(logrus.Fields{
		"input_a": a,
		"input_b": b,
		"output":  out,
	}).Debug("merged sorted halves")
	return []byte(out), nil
}

func (t *UpTask) merge(ctx context.Context, rt *scheduler.Runtime,
	inA, inB io.Reader, w io.WriteCloser, out blob.Handle,
) error {
	if err := sorting.Merge(inA, inB, w); err != nil {
		w.Close()
		if derr := t.Store.Delete(ctx, out); derr != nil {
			rt.Logger().WithError(derr).WithField("handle", out).
				Warn("discard partial merge output")
		}
		return errors.Wrapf(err, "merge into %s", out)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "finalize merge output %s", out)
	}
	return nil
}
