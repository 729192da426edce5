// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader provides little convenience utilities to read little endian
// values from a slice at given offset. Zeroes are returned on out of bounds access
// instead of panic.
package nopanicslicereader // import "go.opentelemetry.io/dotnet-gcinfo/nopanicslicereader"

import (
	"encoding/binary"
)

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint) uint64 {
	if offs+8 > uint(len(b)) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}

// Word reads one 64-bit little endian word from given byte slice offset. Unlike
// Uint64, a word straddling the end of the slice keeps its in-bounds bytes and
// has the missing high bytes zero filled.
func Word(b []byte, offs uint) uint64 {
	if offs+8 <= uint(len(b)) {
		return Uint64(b, offs)
	}
	var w uint64
	for i := uint(0); offs+i < uint(len(b)) && i < 8; i++ {
		w |= uint64(b[offs+i]) << (8 * i)
	}
	return w
}
