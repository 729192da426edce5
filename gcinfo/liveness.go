// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// safePointLinearSearch is the window size below which the safe point lookup
// stops bisecting and scans.
const safePointLinearSearch = 32

// readSafePoint returns the normalized offset stored in safe point entry i.
func (d *Decoder[E]) readSafePoint(i uint32) uint32 {
	if d.numBitsPerSafePoint == 0 {
		return 0
	}
	r := d.reader
	r.SetCurrentPos(d.safePointsPos + uint(i*d.numBitsPerSafePoint))
	return uint32(r.Read(int(d.numBitsPerSafePoint)))
}

// narrowSafePointSearch bisects the sorted safe point table down to a window
// [low, high) small enough for a scan that contains normOffset if it is present.
func (d *Decoder[E]) narrowSafePointSearch(normOffset uint32) (low, high uint32) {
	low, high = 0, d.numSafePoints
	for high-low > safePointLinearSearch {
		mid := low + (high-low)/2
		if d.readSafePoint(mid) <= normOffset {
			low = mid
		} else {
			high = mid
		}
	}
	return low, high
}

// findSafePoint returns the index of the safe point recorded for breakOffset, or
// numSafePoints if there is none.
func (d *Decoder[E]) findSafePoint(breakOffset uint32) uint32 {
	result := d.numSafePoints
	if d.numSafePoints == 0 {
		return result
	}
	// Safe points are stored as offset-1 of an aligned return address. On these
	// targets a lookup for an even offset cannot match.
	if d.layout.OddSafePointOffsets && breakOffset&1 == 0 {
		return result
	}

	normOffset := d.normalizeCodeOffset(breakOffset)
	low, high := d.narrowSafePointSearch(normOffset)
	for i := low; i < high; i++ {
		spOffset := d.readSafePoint(i)
		if spOffset == normOffset {
			result = i
			break
		}
		if spOffset > normOffset {
			break
		}
	}
	return result
}

// IsSafePoint reports whether the instruction offset given to Init is a safe
// point. It needs DecodeInterruptibility or DecodeGCLifetimes.
func (d *Decoder[E]) IsSafePoint() bool {
	d.assertTables()
	return d.safePointIndex != d.numSafePoints
}

// IsSafePointAt reports whether codeOffset is the return address of a call
// recorded as safe point.
func (d *Decoder[E]) IsSafePointAt(codeOffset uint32) bool {
	d.assertTables()
	if d.numSafePoints == 0 {
		return false
	}
	return d.findSafePoint(codeOffset-1) != d.numSafePoints
}

// IsInterruptible reports whether the instruction offset given to Init with
// DecodeInterruptibility lies within an interruptible range.
func (d *Decoder[E]) IsInterruptible() bool {
	return d.isInterruptible
}

// HasInterruptibleRanges reports whether the method has fully interruptible code.
func (d *Decoder[E]) HasInterruptibleRanges() bool {
	d.assertTables()
	return d.numInterruptibleRanges > 0
}

// CouldBeSafePoint reports whether the thread may be stopped for a GC at the
// instruction offset.
func (d *Decoder[E]) CouldBeSafePoint() bool {
	return d.IsSafePoint() || d.isInterruptible
}

func (d *Decoder[E]) NumSafePoints() uint32          { return d.numSafePoints }
func (d *Decoder[E]) NumInterruptibleRanges() uint32 { return d.numInterruptibleRanges }

// EnumerateSafePoints calls fn with the return address of each safe point, in
// increasing order, until fn returns true.
func (d *Decoder[E]) EnumerateSafePoints(fn func(offset uint32) bool) {
	d.assertTables()
	r := d.reader
	r.SetCurrentPos(d.safePointsPos)
	for i := uint32(0); i < d.numSafePoints; i++ {
		var normOffset uint32
		if d.numBitsPerSafePoint > 0 {
			normOffset = uint32(r.Read(int(d.numBitsPerSafePoint)))
		}
		if fn(d.denormalizeCodeOffset(normOffset + 1)) {
			return
		}
	}
}

// EnumerateInterruptibleRanges calls fn with the [start, stop) code offsets of each
// interruptible range, in increasing order, until fn returns true.
func (d *Decoder[E]) EnumerateInterruptibleRanges(fn func(start, stop uint32) bool) {
	d.assertTables()
	r := d.reader
	r.SetCurrentPos(d.rangesPos)
	var lastStop uint32
	for i := uint32(0); i < d.numInterruptibleRanges; i++ {
		startDelta := uint32(r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta1EncBase))
		stopDelta := uint32(r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta2EncBase)) + 1
		normStart := lastStop + startDelta
		normStop := normStart + stopDelta
		if fn(d.denormalizeCodeOffset(normStart), d.denormalizeCodeOffset(normStop)) {
			return
		}
		lastStop = normStop
	}
}

func (d *Decoder[E]) offsetInRanges(codeOffset uint32) bool {
	found := false
	d.EnumerateInterruptibleRanges(func(start, stop uint32) bool {
		found = codeOffset >= start && codeOffset < stop
		return found
	})
	return found
}
