// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// Summary is the offset independent part of a method's GC info.
type Summary struct {
	Layout  string
	Version uint32

	HeaderFlags HeaderFlags
	SlimHeader  bool
	CodeLength  uint32
	ReturnKind  ReturnKind

	GSCookieStackSlot            int32
	GSCookieValidRangeStart      uint32
	GSCookieValidRangeEnd        uint32
	PSPSymStackSlot              int32
	GenericsInstContextStackSlot int32
	ReversePInvokeFrameStackSlot int32
	StackBaseRegister            uint32

	SizeOfEditAndContinuePreservedArea   uint32
	SizeOfEditAndContinueFixedStackFrame uint32
	SizeOfStackParameterArea             uint32

	NumSafePoints          uint32
	NumInterruptibleRanges uint32
	NumRegisters           uint32
	NumTrackedSlots        uint32
	NumUntrackedSlots      uint32
}

// Summary returns the header fields and table sizes. It needs the decoder to be
// initialized with DecodeEverything.
func (d *Decoder[E]) Summary() Summary {
	var sd SlotDecoder
	d.DecodeSlotTable(&sd)
	return Summary{
		Layout:                               d.layout.Name,
		Version:                              d.version,
		HeaderFlags:                          d.headerFlags,
		SlimHeader:                           d.slimHeader,
		CodeLength:                           d.codeLength,
		ReturnKind:                           d.returnKind,
		GSCookieStackSlot:                    d.gsCookieStackSlot,
		GSCookieValidRangeStart:              d.validRangeStart,
		GSCookieValidRangeEnd:                d.validRangeEnd,
		PSPSymStackSlot:                      d.pspSymStackSlot,
		GenericsInstContextStackSlot:         d.genericsInstContextStackSlot,
		ReversePInvokeFrameStackSlot:         d.reversePInvokeFrameStackSlot,
		StackBaseRegister:                    d.stackBaseRegister,
		SizeOfEditAndContinuePreservedArea:   d.sizeOfEditAndContinuePreservedArea,
		SizeOfEditAndContinueFixedStackFrame: d.sizeOfEditAndContinueFixedStackFrame,
		SizeOfStackParameterArea:             d.sizeOfStackOutgoingAndScratchArea,
		NumSafePoints:                        d.numSafePoints,
		NumInterruptibleRanges:               d.numInterruptibleRanges,
		NumRegisters:                         sd.NumRegisters(),
		NumTrackedSlots:                      sd.NumTracked(),
		NumUntrackedSlots:                    sd.NumUntracked(),
	}
}
