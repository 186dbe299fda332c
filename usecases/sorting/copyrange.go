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

package sorting

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	enterrors "github.com/lexsort/lexsort/entities/errors"
)

// CopyRange copies exactly the bytes [start,end) of src into dst. Reading
// fewer bytes than the range demands means the source was truncated or
// modified underneath us, which is a broken data invariant, not an IO error.
func CopyRange(dst io.Writer, src io.ReaderAt, start, end int64) error {
	if start < 0 || end < start {
		return enterrors.NewErrDataInvariantf("copy range [%d,%d) is not a valid interval", start, end)
	}

	want := end - start
	n, err := io.Copy(dst, io.NewSectionReader(src, start, want))
	if err != nil {
		return errors.Wrapf(err, "copy range [%d,%d)", start, end)
	}
	if n != want {
		return enterrors.NewErrDataInvariant(fmt.Errorf(
			"copied %d bytes of range [%d,%d), want %d", n, start, end, want))
	}
	return nil
}
