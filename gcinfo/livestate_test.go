// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/dotnet-gcinfo/gcinfo"
)

// The vectors are assembled by hand for AMD64, where run chunks have base 2 and
// skip chunks base 4. Each one starts with its RLE flag.
func TestLiveStateVectors(t *testing.T) {
	tests := map[string]struct {
		buf      []byte
		numSlots uint32
		expected []uint32
		endPos   uint
	}{
		"bit vector": {
			// 0 | 1 0 1
			buf:      []byte{0x0a},
			numSlots: 3,
			expected: []uint32{0, 2},
			endPos:   4,
		},
		"leading run swapped bases": {
			// 1 1 | skip U2(0) | run U4(1) | skip U2(0)
			buf:      []byte{0x23, 0x00},
			numSlots: 3,
			expected: []uint32{0, 1},
			endPos:   13,
		},
		"leading skip": {
			// 1 0 | skip U4(1) | run U2(1) | skip U4(0) | run U2(0)
			buf:      []byte{0x85, 0x00, 0x00},
			numSlots: 5,
			expected: []uint32{1, 2, 4},
			endPos:   18,
		},
		"leading skip swapped bases": {
			// 1 1 | skip U2(2) | run U4(5) | skip U2(0)
			buf:      []byte{0xab, 0x00},
			numSlots: 9,
			expected: []uint32{2, 3, 4, 5, 6, 7},
			endPos:   13,
		},
		"all live": {
			// 1 0 | skip U4(0) | run U2(2)
			buf:      []byte{0x01, 0x01},
			numSlots: 3,
			expected: []uint32{0, 1, 2},
			endPos:   10,
		},
		"all dead": {
			// 1 0 | skip U4(3)
			buf:      []byte{0x0d},
			numSlots: 3,
			endPos:   7,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			set, endPos := gcinfo.LiveStates(tc.buf, amd64(), tc.numSlots)
			assert.Equal(t, tc.expected, set)
			assert.Equal(t, tc.endPos, endPos)
			assert.Equal(t, tc.expected,
				gcinfo.IterateLiveStates(tc.buf, amd64(), len(tc.expected)))
		})
	}
}
