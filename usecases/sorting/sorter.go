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

// Package sorting holds the line-level building blocks of the pipeline:
// locating line-safe split points, copying exact byte ranges, sorting bounded
// files in memory and streaming two-way merges.
package sorting

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/lexsort/lexsort/entities/diskio"
)

// SortFile loads path entirely into memory, sorts its lines by byte-wise
// comparison of the full line content (terminators included, the final line
// may lack one) and rewrites the file atomically. Callers only hand it ranges
// already known to fit the leaf threshold. Sorting an already-sorted file
// rewrites identical content, so re-running after a crash is safe.
func SortFile(path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i], lines[j]) < 0
	})

	tmp := path + ".tmp"
	if err := writeLines(tmp, lines); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %q into place", tmp)
	}
	return nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	var lines [][]byte
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read lines of %q", path)
		}
	}
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %q", path)
	}

	w := bufio.NewWriterSize(f, 1e6)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			f.Close()
			return errors.Wrapf(err, "write line to %q", path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %q", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %q", path)
	}
	return diskio.Fsync(path)
}
