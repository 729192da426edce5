// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package bitstream implements the bit level cursor used to read GC info as emitted by
// the CoreCLR JIT. The stream is addressed in 64-bit little endian words, least
// significant bit first. The logical start of the stream may sit anywhere inside
// the first word; positions are always reported relative to that logical start.
// https://github.com/dotnet/runtime/blob/v9.0.0/src/coreclr/inc/gcinfodecoder.h
package bitstream // import "go.opentelemetry.io/dotnet-gcinfo/bitstream"

import (
	"math/bits"

	"go.opentelemetry.io/dotnet-gcinfo/internal/contract"
	npsr "go.opentelemetry.io/dotnet-gcinfo/nopanicslicereader"
)

const (
	// WordBits is the width of the chunks the stream is fetched in.
	WordBits = 64

	wordBytes = WordBits / 8
)

// Reader is a cursor over an immutable GC info buffer. The zero value is not usable,
// use NewReader. A Reader is a small value type: copying it snapshots the cursor
// state, which is how decoders save and resume positions.
type Reader struct {
	// buf is the image holding the stream. It is never written to.
	buf []byte
	// base is the byte offset in buf of the word containing the logical start.
	base uint
	// initialRelPos is the bit offset of the logical start within the first word.
	initialRelPos int

	// word is the index, relative to base, of the word cached in current.
	// It is -1 only transiently after a Skip to the very start of an aligned stream.
	word int
	// relPos is the number of bits of the cached word already consumed.
	// relPos == WordBits means the next word has not been fetched yet.
	relPos int
	// current holds the not yet consumed bits of the cached word.
	current uint64
}

// NewReader returns a Reader for the stream starting at byte offset offs of buf.
func NewReader(buf []byte, offs uint) Reader {
	r := Reader{
		buf:           buf,
		base:          offs &^ (wordBytes - 1),
		initialRelPos: int(offs%wordBytes) * 8,
	}
	r.relPos = r.initialRelPos
	// There are always some bits in the GC info, at least the header.
	// It is ok to prefetch.
	r.current = r.fetch(0) >> uint(r.relPos)
	return r
}

func (r *Reader) fetch(word int) uint64 {
	return npsr.Word(r.buf, r.base+uint(word)*wordBytes)
}

// Read returns the next numBits bits, 1 <= numBits <= WordBits, and advances the cursor.
// NOTE: This routine is perf-critical
func (r *Reader) Read(numBits int) uint64 {
	contract.Assert(numBits > 0 && numBits <= WordBits, "read width out of range")

	result := r.current
	r.current >>= uint(numBits)
	newRelPos := r.relPos + numBits
	if newRelPos > WordBits {
		r.word++
		r.current = r.fetch(r.word)
		newRelPos -= WordBits
		extraBits := r.current << uint(numBits-newRelPos)
		result |= extraBits
		r.current >>= uint(newRelPos)
	}
	r.relPos = newRelPos
	result &= ^uint64(0) >> uint(WordBits-numBits)
	return result
}

// ReadOneFast reads one bit.
// NOTE: This routine is perf-critical
func (r *Reader) ReadOneFast() uint64 {
	// relPos == WordBits means that current is not yet fetched.
	if r.relPos == WordBits {
		r.word++
		r.current = r.fetch(r.word)
		r.relPos = 0
	}

	r.relPos++
	result := r.current & 1
	r.current >>= 1
	return result
}

// ReadBool reads one bit as a flag.
func (r *Reader) ReadBool() bool {
	return r.ReadOneFast() != 0
}

// CurrentPos returns the bit position relative to the logical start of the stream.
func (r *Reader) CurrentPos() uint {
	return uint(r.word*WordBits + r.relPos - r.initialRelPos)
}

// SetCurrentPos moves the cursor to the absolute bit position pos.
func (r *Reader) SetCurrentPos(pos uint) {
	adjPos := pos + uint(r.initialRelPos)
	r.word = int(adjPos / WordBits)
	r.relPos = int(adjPos % WordBits)

	// SetCurrentPos is always called just before reading.
	// It is ok to prefetch.
	r.current = r.fetch(r.word) >> uint(r.relPos)
	contract.Assert(r.CurrentPos() == pos, "seek did not land on the requested position")
}

// Skip moves the cursor by a signed number of bits.
func (r *Reader) Skip(numBitsToSkip int) {
	pos := uint(int(r.CurrentPos()) + numBitsToSkip)
	adjPos := pos + uint(r.initialRelPos)
	r.word = int(adjPos / WordBits)
	r.relPos = int(adjPos % WordBits)

	// Skipping ahead may go to a position at the edge-exclusive end of the stream.
	// The location may have no more data. Do not prefetch on a word boundary, the
	// next word is fetched lazily by the next read.
	if r.relPos == 0 {
		r.word--
		r.relPos = WordBits
		r.current = 0
	} else {
		r.current = r.fetch(r.word) >> uint(r.relPos)
	}
	contract.Assert(r.CurrentPos() == pos, "skip did not land on the requested position")
}

// DecodeVarLengthUnsigned decodes a variable length unsigned integer. Each chunk is
// base+1 bits: base value bits and a continuation flag in the top bit.
func (r *Reader) DecodeVarLengthUnsigned(base int) uint64 {
	contract.Assert(base > 0 && base < WordBits, "encoding base out of range")

	result := r.Read(base + 1)
	if result&(uint64(1)<<uint(base)) != 0 {
		result ^= r.decodeVarLengthUnsignedMore(base)
	}
	return result
}

// decodeVarLengthUnsignedMore decodes the chunks following a first chunk with the
// continuation bit set. The initial numEncodings term cancels that bit when the
// result is XORed into the first chunk.
func (r *Reader) decodeVarLengthUnsignedMore(base int) uint64 {
	numEncodings := uint64(1) << uint(base)
	result := numEncodings
	for shift := base; ; shift += base {
		contract.Assert(shift+base <= WordBits, "variable length unsigned overflows a word")

		currentChunk := r.Read(base + 1)
		result ^= (currentChunk & (numEncodings - 1)) << uint(shift)
		if currentChunk&numEncodings == 0 {
			// Extension bit is not set, we're done.
			return result
		}
	}
}

// DecodeVarLengthSigned decodes a variable length signed integer. Chunks are ORed
// together and the most significant decoded bit is the sign.
func (r *Reader) DecodeVarLengthSigned(base int) int64 {
	contract.Assert(base > 0 && base < WordBits, "encoding base out of range")

	numEncodings := uint64(1) << uint(base)
	var result uint64
	for shift := 0; ; shift += base {
		contract.Assert(shift+base <= WordBits, "variable length signed overflows a word")

		currentChunk := r.Read(base + 1)
		result |= (currentChunk & (numEncodings - 1)) << uint(shift)
		if currentChunk&numEncodings == 0 {
			// Extension bit is not set, sign-extend and we're done.
			sbits := uint(WordBits - (shift + base))
			return int64(result<<sbits) >> sbits
		}
	}
}

// NumBytesRead returns the number of bytes covered by the stream up to the cursor.
func (r *Reader) NumBytesRead() uint {
	return (r.CurrentPos() + 7) / 8
}

// CeilOfLog2 returns the number of bits needed to represent values below x.
func CeilOfLog2(x uint32) uint32 {
	if x <= 1 {
		return 0
	}
	return uint32(bits.Len32(x - 1))
}
