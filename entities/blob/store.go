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

package blob

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Handle is an opaque reference to a blob in the durable store. A handle is
// produced by exactly one job, consumed by its designated downstream jobs and
// deleted exactly once, by the job that folds it into a new output.
type Handle string

func (h Handle) String() string {
	return string(h)
}

// NewHandle mints a fresh handle. Backends never derive handles from content,
// two writes of identical bytes still yield two distinct handles.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// Store is durable blob storage keyed by opaque handles, independent of any
// single worker's local disk. All data a job tree exchanges between steps
// flows through here.
//
// Delete is idempotent: deleting a handle that is already gone is not an
// error. Replayed steps re-issue their recorded deletions, so backends must
// tolerate the second round.
type Store interface {
	// Write registers the file at localPath and returns its new handle.
	Write(ctx context.Context, localPath string) (Handle, error)

	// WriteStream opens a write stream for a new blob. The handle is valid
	// once Close has returned without error.
	WriteStream(ctx context.Context) (io.WriteCloser, Handle, error)

	// Read materializes the blob at localPath.
	Read(ctx context.Context, h Handle, localPath string) error

	// ReadStream opens the blob for sequential reading.
	ReadStream(ctx context.Context, h Handle) (io.ReadCloser, error)

	// Size returns the blob's length in bytes.
	Size(ctx context.Context, h Handle) (int64, error)

	// Delete removes the blob. Absent handles are not an error.
	Delete(ctx context.Context, h Handle) error

	// Destroy removes the store's whole namespace, including any orphaned
	// blobs left behind by interrupted attempts.
	Destroy(ctx context.Context) error
}
