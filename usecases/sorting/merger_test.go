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
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeHelper(t *testing.T, in1, in2 string) string {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, Merge(strings.NewReader(in1), strings.NewReader(in2), &out))
	return out.String()
}

func TestMerge(t *testing.T) {
	type testCase struct {
		name     string
		in1      string
		in2      string
		expected string
	}

	tests := []testCase{
		{
			name:     "interleaved inputs",
			in1:      "apple\ncherry\n",
			in2:      "banana\ndate\n",
			expected: "apple\nbanana\ncherry\ndate\n",
		},
		{
			name:     "input 2 drains first",
			in1:      "x\ny\nz\n",
			in2:      "a\n",
			expected: "a\nx\ny\nz\n",
		},
		{
			name:     "input 1 drains first",
			in1:      "a\n",
			in2:      "x\ny\nz\n",
			expected: "a\nx\ny\nz\n",
		},
		{
			name:     "empty input 1",
			in1:      "",
			in2:      "a\nb\n",
			expected: "a\nb\n",
		},
		{
			name:     "empty input 2",
			in1:      "a\nb\n",
			in2:      "",
			expected: "a\nb\n",
		},
		{
			name:     "both empty",
			in1:      "",
			in2:      "",
			expected: "",
		},
		{
			name: "duplicate line on both sides of the split",
			in1:  "apple\nbanana\n",
			in2:  "apple\ncherry\n",
			// both copies survive the merge
			expected: "apple\napple\nbanana\ncherry\n",
		},
		{
			name:     "unterminated final line sorts after its prefix",
			in1:      "a\nc",
			in2:      "b\n",
			expected: "a\nb\nc",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, mergeHelper(t, tc.in1, tc.in2))
		})
	}
}

func TestMergeMultisetUnion(t *testing.T) {
	r := rand.New(rand.NewSource(31))

	for trial := 0; trial < 20; trial++ {
		var all, side1, side2 []string
		for i := 0; i < r.Intn(500); i++ {
			line := fmt.Sprintf("%d\n", r.Intn(50))
			all = append(all, line)
			if r.Intn(2) == 0 {
				side1 = append(side1, line)
			} else {
				side2 = append(side2, line)
			}
		}
		sort.Strings(all)
		sort.Strings(side1)
		sort.Strings(side2)

		out := mergeHelper(t, strings.Join(side1, ""), strings.Join(side2, ""))
		require.Equal(t, strings.Join(all, ""), out, "trial %d", trial)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestMergeReadFailure(t *testing.T) {
	t.Run("input 1 fails", func(t *testing.T) {
		var out bytes.Buffer
		err := Merge(failingReader{}, strings.NewReader("a\n"), &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
	})

	t.Run("input 2 fails", func(t *testing.T) {
		var out bytes.Buffer
		err := Merge(strings.NewReader("a\n"), failingReader{}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
	})
}
