// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import "go.opentelemetry.io/dotnet-gcinfo/bitstream"

// walkBitVector reads numSlots single bit states and calls fn, if not nil, with
// the index of every set one.
func walkBitVector(r *bitstream.Reader, numSlots uint32, fn func(slotIndex uint32)) uint32 {
	var count uint32
	for i := uint32(0); i < numSlots; i++ {
		if r.ReadBool() {
			count++
			if fn != nil {
				fn(i)
			}
		}
	}
	return count
}

// walkRLEVector reads a run length encoded vector covering numSlots states. The
// chunks alternate starting with a skip of dead states, which may be empty. All
// later chunks hold at least one state.
func walkRLEVector(r *bitstream.Reader, layout *Layout, numSlots uint32,
	fn func(slotIndex uint32)) uint32 {
	skipBase, runBase := rleBases(r, layout)
	readSlots := uint32(r.DecodeVarLengthUnsigned(skipBase))
	var count uint32
	for inRun := true; readSlots < numSlots; inRun = !inRun {
		if !inRun {
			readSlots += uint32(r.DecodeVarLengthUnsigned(skipBase)) + 1
			continue
		}
		chunk := uint32(r.DecodeVarLengthUnsigned(runBase)) + 1
		count += chunk
		if fn != nil {
			for i := readSlots; i < readSlots+chunk; i++ {
				fn(i)
			}
		}
		readSlots += chunk
	}
	return count
}

// walkLiveStateVector reads a live state vector prefixed by its RLE flag.
func walkLiveStateVector(r *bitstream.Reader, layout *Layout, numSlots uint32,
	fn func(slotIndex uint32)) uint32 {
	if r.ReadBool() {
		return walkRLEVector(r, layout, numSlots, fn)
	}
	return walkBitVector(r, numSlots, fn)
}

// rleBases reads the polarity bit of a run length encoded vector and returns
// the encoding bases of its skip and run chunks. A set bit swaps them.
func rleBases(r *bitstream.Reader, layout *Layout) (skipBase, runBase int) {
	skipBase, runBase = layout.LiveStateRLESkipEncBase, layout.LiveStateRLERunEncBase
	if r.ReadBool() {
		return runBase, skipBase
	}
	return skipBase, runBase
}

// liveStateIterator yields the indexes of the set states of a live state vector
// one at a time, so the vector can be walked in step with data following it.
type liveStateIterator struct {
	r   bitstream.Reader
	rle bool

	skipBase, runBase int

	next      uint32
	started   bool
	remaining uint32
}

func newLiveStateIterator(r bitstream.Reader, layout *Layout) liveStateIterator {
	it := liveStateIterator{r: r}
	it.rle = it.r.ReadBool()
	if it.rle {
		it.skipBase, it.runBase = rleBases(&it.r, layout)
		it.next = uint32(it.r.DecodeVarLengthUnsigned(it.skipBase))
	}
	return it
}

// Next returns the index of the next set state. It must not be called more
// often than there are set states.
func (it *liveStateIterator) Next() uint32 {
	if !it.rle {
		for it.r.ReadOneFast() == 0 {
			it.next++
		}
		idx := it.next
		it.next++
		return idx
	}

	if it.remaining == 0 {
		// Every run but the first one follows a skip.
		if it.started {
			it.next += uint32(it.r.DecodeVarLengthUnsigned(it.skipBase)) + 1
		}
		it.started = true
		it.remaining = uint32(it.r.DecodeVarLengthUnsigned(it.runBase)) + 1
	}
	it.remaining--
	idx := it.next
	it.next++
	return idx
}
