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
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"

	enterrors "github.com/lexsort/lexsort/entities/errors"
)

// FindSplitPoint returns an offset i with start <= i < end such that i is the
// position of a '\n': everything in [start,i] is whole lines and [i+1,end)
// begins at a line boundary. It aims for the line containing the range's
// midpoint; if that line runs to or past end it falls back to the first line
// of the range. A range without a single complete line is a broken data
// invariant.
func FindSplitPoint(src io.ReaderAt, start, end int64) (int64, error) {
	if start < 0 || end <= start {
		return 0, enterrors.NewErrDataInvariantf("split range [%d,%d) is not a valid interval", start, end)
	}

	mid := (start + end) / 2

	// A '\n' at end-1 would leave the second half empty, so the forward scan
	// stops one byte short.
	i, found, err := scanLineEnd(src, mid, end-1)
	if err != nil {
		return 0, err
	}
	if found {
		return i, nil
	}

	// The line containing the midpoint extends to or past the range end.
	// Split after the first line of the range instead.
	i, found, err = scanLineEnd(src, start, end)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, enterrors.NewErrDataInvariant(
			fmt.Errorf("no complete line in range [%d,%d)", start, end))
	}
	return i, nil
}

// scanLineEnd returns the offset of the first '\n' in [from,limit), or
// found=false if the window contains none.
func scanLineEnd(src io.ReaderAt, from, limit int64) (int64, bool, error) {
	if limit <= from {
		return 0, false, nil
	}

	r := bufio.NewReader(io.NewSectionReader(src, from, limit-from))
	var off int64
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, errors.Wrapf(err, "scan for line end from %d", from)
		}
		if b == '\n' {
			return from + off, true, nil
		}
		off++
	}
}
