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
	"github.com/lexsort/lexsort/usecases/scheduler"
)

// CleanupTask runs once the whole tree below setup completed. It copies the
// final sorted blob to the destination path, the only write outside the
// durable store, through a temp file so a crash never leaves a half-written
// destination visible.
type CleanupTask struct {
	Params
	Result      *scheduler.Promise
	Destination string
}

func (t *CleanupTask) Name() string { return "cleanup" }

func (t *CleanupTask) Run(ctx context.Context, rt *scheduler.Runtime) ([]byte, error) {
	result := blob.Handle(t.Result.Get())

	tmp := t.Destination + ".tmp"
	if err := t.Store.Read(ctx, result, tmp); err != nil {
		return nil, errors.Wrapf(err, "materialize result %s", result)
	}
	if err := os.Rename(tmp, t.Destination); err != nil {
		return nil, errors.Wrapf(err, "move result to %q", t.Destination)
	}
	if err := diskio.Fsync(t.Destination); err != nil {
		return nil, errors.Wrapf(err, "sync %q", t.Destination)
	}

	rt.DeferDelete(result)
	rt.Logger().WithFields(logrus.Fields{
		"handle":      result,
		"destination": t.Destination,
	}).Info("wrote sorted output")
	return []byte(t.Destination), nil
}
