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
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Merge streams a two-way merge of the individually sorted inputs into out.
// Memory use is one buffered line per side regardless of input size: the
// aggregate dataset may exceed memory even though each leaf chunk fit.
//
// Equal lines surface input-2 before input-1. That ordering is not globally
// stable but equal lines are byte-identical, so it cannot be observed in the
// output content.
func Merge(in1, in2 io.Reader, out io.Writer) error {
	m := &merger{
		in1:  bufio.NewReader(in1),
		in2:  bufio.NewReader(in2),
		bufw: bufio.NewWriterSize(out, 1e6),
	}
	return m.do()
}

type merger struct {
	// in2 provides the single line of lookahead, so on equal lines it wins
	in1  *bufio.Reader
	in2  *bufio.Reader
	bufw *bufio.Writer
}

func (m *merger) do() error {
	line2, err := readLine(m.in2)
	if err != nil {
		return errors.Wrap(err, "prime lookahead")
	}

	for {
		line1, err := readLine(m.in1)
		if err != nil {
			return errors.Wrap(err, "advance input 1")
		}
		if line1 == nil {
			break
		}

		for line2 != nil && bytes.Compare(line2, line1) <= 0 {
			if _, err := m.bufw.Write(line2); err != nil {
				return errors.Wrap(err, "write merged line")
			}
			if line2, err = readLine(m.in2); err != nil {
				return errors.Wrap(err, "advance input 2")
			}
		}

		if _, err := m.bufw.Write(line1); err != nil {
			return errors.Wrap(err, "write merged line")
		}
	}

	for line2 != nil {
		if _, err := m.bufw.Write(line2); err != nil {
			return errors.Wrap(err, "write merged line")
		}
		if line2, err = readLine(m.in2); err != nil {
			return errors.Wrap(err, "advance input 2")
		}
	}

	return errors.Wrap(m.bufw.Flush(), "flush buffered")
}

// readLine returns the next line including its terminator, the final line
// bare if the input does not end in '\n', and nil once the input is drained.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err == io.EOF {
		if len(line) == 0 {
			return nil, nil
		}
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}
