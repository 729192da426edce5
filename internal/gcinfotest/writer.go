// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gcinfotest encodes GC info blobs for tests.
package gcinfotest // import "go.opentelemetry.io/dotnet-gcinfo/internal/gcinfotest"

// BitWriter appends bits least significant bit first to a byte stream.
type BitWriter struct {
	buf []byte
	pos uint
}

// Pos returns the number of bits written.
func (w *BitWriter) Pos() uint {
	return w.pos
}

// Write appends the low numBits bits of value.
func (w *BitWriter) Write(value uint64, numBits int) {
	for i := 0; i < numBits; i++ {
		if w.pos/8 >= uint(len(w.buf)) {
			w.buf = append(w.buf, 0)
		}
		if value>>uint(i)&1 != 0 {
			w.buf[w.pos/8] |= 1 << (w.pos % 8)
		}
		w.pos++
	}
}

func (w *BitWriter) WriteBool(b bool) {
	if b {
		w.Write(1, 1)
	} else {
		w.Write(0, 1)
	}
}

// AlignToByte pads with zero bits up to the next byte boundary.
func (w *BitWriter) AlignToByte() {
	if pad := (8 - w.pos%8) % 8; pad != 0 {
		w.Write(0, int(pad))
	}
}

// EncodeVarLengthUnsigned appends n in chunks of base bits, each followed by a
// continuation bit.
func (w *BitWriter) EncodeVarLengthUnsigned(n uint64, base int) {
	mask := uint64(1)<<uint(base) - 1
	for {
		chunk := n & mask
		n >>= uint(base)
		if n == 0 {
			w.Write(chunk, base+1)
			return
		}
		w.Write(chunk|(mask+1), base+1)
	}
}

// EncodeVarLengthSigned appends n in chunks of base bits. The top bit of the last
// chunk holds the sign.
func (w *BitWriter) EncodeVarLengthSigned(n int64, base int) {
	mask := int64(1)<<uint(base) - 1
	for {
		chunk := n & mask
		n >>= uint(base)
		// Done once the remaining bits are all copies of the chunk's sign bit.
		signBit := chunk >> uint(base-1) & 1
		if (n == 0 && signBit == 0) || (n == -1 && signBit == 1) {
			w.Write(uint64(chunk), base+1)
			return
		}
		w.Write(uint64(chunk|(mask+1)), base+1)
	}
}

// Bytes returns the written stream.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

// Image returns the stream put at byte offset pad of a new buffer, followed by
// trailing zero bytes so that reads of whole words stay in bounds.
func (w *BitWriter) Image(pad uint) []byte {
	out := make([]byte, pad+uint(len(w.buf))+8)
	copy(out[pad:], w.buf)
	return out
}
