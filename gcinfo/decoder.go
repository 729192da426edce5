// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gcinfo decodes the per-method GC info emitted by the CoreCLR JIT: the
// method header, the safe point and interruptible range tables, the slot table
// and the slot liveness, and reports the slots holding live references at an
// instruction offset.
// https://github.com/dotnet/runtime/blob/v9.0.0/src/coreclr/inc/gcinfodecoder.h
package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/dotnet-gcinfo/bitstream"
	"go.opentelemetry.io/dotnet-gcinfo/internal/contract"
)

// Decoder decodes the GC info of one method for the encoding E. A Decoder is
// bound to one instruction offset and is not safe for concurrent use. Any number
// of decoders may read the same image concurrently.
type Decoder[E Encoding] struct {
	layout *Layout
	reader bitstream.Reader

	instructionOffset uint32
	flags             DecodeFlags
	version           uint32

	headerFlags     HeaderFlags
	slimHeader      bool
	isInterruptible bool

	codeLength                           uint32
	validRangeStart                      uint32
	validRangeEnd                        uint32
	gsCookieStackSlot                    int32
	pspSymStackSlot                      int32
	genericsInstContextStackSlot         int32
	reversePInvokeFrameStackSlot         int32
	stackBaseRegister                    uint32
	sizeOfEditAndContinuePreservedArea   uint32
	sizeOfEditAndContinueFixedStackFrame uint32
	sizeOfStackOutgoingAndScratchArea    uint32
	returnKind                           ReturnKind

	// tablesDecoded is set when decoding ran up to the safe point table.
	tablesDecoded          bool
	numSafePoints          uint32
	numInterruptibleRanges uint32
	safePointIndex         uint32
	numBitsPerSafePoint    uint32
	safePointsPos          uint
	rangesPos              uint
}

// TargetDecoder decodes the GC info of the build architecture.
type TargetDecoder = Decoder[Target]

// NewDecoder returns a Decoder initialized with Init.
func NewDecoder[E Encoding](token Token, flags DecodeFlags, instructionOffset uint32) (
	*Decoder[E], error) {
	d := &Decoder[E]{}
	if err := d.Init(token, flags, instructionOffset); err != nil {
		return nil, err
	}
	return d, nil
}

// Init decodes the parts of the GC info referenced by token that flags ask for.
// With DecodeInterruptibility the instruction offset is a return address and the
// safe point is looked up at offset-1; with DecodeGCLifetimes the offset is used
// as given. Init reuses d and does not allocate.
func (d *Decoder[E]) Init(token Token, flags DecodeFlags, instructionOffset uint32) error {
	if token.Offset >= uint(len(token.Image)) {
		return ErrEmptyBlob
	}
	if token.Version < MinVersion || token.Version > CurrentVersion {
		return fmt.Errorf("version %d: %w", token.Version, ErrUnsupportedVersion)
	}
	if token.Version < CurrentVersion && !LegacyFormats {
		return fmt.Errorf("version %d needs the gcinfo_legacy build tag: %w",
			token.Version, ErrUnsupportedVersion)
	}
	if flags&DecodeInterruptibility != 0 && flags&DecodeGCLifetimes != 0 {
		return fmt.Errorf("interruptibility and lifetimes requested together: %w",
			ErrInvalidFlags)
	}

	var enc E
	*d = Decoder[E]{
		layout:                             enc.Layout(),
		reader:                             bitstream.NewReader(token.Image, token.Offset),
		instructionOffset:                  instructionOffset,
		flags:                              flags,
		version:                            token.Version,
		gsCookieStackSlot:                  NoGSCookie,
		pspSymStackSlot:                    NoPSPSym,
		genericsInstContextStackSlot:       NoGenericsInstContext,
		reversePInvokeFrameStackSlot:       NoReversePInvokeFrame,
		stackBaseRegister:                  NoStackBaseRegister,
		sizeOfEditAndContinuePreservedArea: NoSizeOfEditAndContinuePreservedArea,
		returnKind:                         ReturnIllegal,
	}
	d.predecode()
	return nil
}

func (d *Decoder[E]) legacy() bool {
	return LegacyFormats && d.version < CurrentVersion
}

// normalizeCodeOffset is the identity for legacy versions, which store raw offsets.
func (d *Decoder[E]) normalizeCodeOffset(x uint32) uint32 {
	if d.legacy() {
		return x
	}
	return d.layout.NormalizeCodeOffset(x)
}

func (d *Decoder[E]) denormalizeCodeOffset(x uint32) uint32 {
	if d.legacy() {
		return x
	}
	return d.layout.DenormalizeCodeOffset(x)
}

func (d *Decoder[E]) predecode() {
	r := &d.reader
	layout := d.layout

	remaining := d.flags
	if remaining == DecodeEverything {
		remaining = ^DecodeFlags(0)
	}

	d.slimHeader = r.ReadOneFast() == 0
	if d.slimHeader {
		if r.ReadBool() {
			d.headerFlags = HeaderHasStackBaseRegister
			d.stackBaseRegister = layout.DenormalizeStackBaseRegister(0)
		}
		if d.legacy() {
			d.returnKind = ReturnKind(r.Read(returnKindSlimBitSize))
		}
		d.codeLength = layout.DenormalizeCodeLength(
			uint32(r.DecodeVarLengthUnsigned(layout.CodeLengthEncBase)))
		d.sizeOfStackOutgoingAndScratchArea = 0

		// A slim header has no optional fields.
		remaining &^= DecodeReturnKind | DecodeVarArg | DecodeHasTailCalls |
			DecodeCodeLength | DecodePrologLength | DecodeGSCookie | DecodePSPSym |
			DecodeGenericsInstContext | DecodeEditAndContinue | DecodeReversePInvokeVar
		if remaining == 0 {
			return
		}
	} else if d.predecodeFatHeader(&remaining) {
		return
	}

	d.numSafePoints = uint32(r.DecodeVarLengthUnsigned(layout.NumSafePointsEncBase))
	if !d.slimHeader {
		d.numInterruptibleRanges = uint32(
			r.DecodeVarLengthUnsigned(layout.NumInterruptibleRangesEncBase))
	}
	d.numBitsPerSafePoint = bitstream.CeilOfLog2(d.normalizeCodeOffset(d.codeLength))
	d.safePointsPos = r.CurrentPos()
	d.rangesPos = d.safePointsPos + uint(d.numSafePoints*d.numBitsPerSafePoint)
	d.tablesDecoded = true

	d.safePointIndex = d.numSafePoints
	switch {
	case d.flags&DecodeInterruptibility != 0:
		// The offset is a return address, safe points are recorded at offset-1.
		d.safePointIndex = d.findSafePoint(d.instructionOffset - 1)
	case d.flags&DecodeGCLifetimes != 0:
		d.safePointIndex = d.findSafePoint(d.instructionOffset)
	}
	r.SetCurrentPos(d.rangesPos)

	if d.flags&DecodeInterruptibility != 0 {
		d.isInterruptible = d.offsetInRanges(d.instructionOffset)
	}
}

// predecodeFatHeader decodes the fat header fields. It returns true when every
// field asked for is decoded and the caller can stop.
func (d *Decoder[E]) predecodeFatHeader(remaining *DecodeFlags) bool {
	r := &d.reader
	layout := d.layout

	numFlagBits := headerFlagsBitSize
	if d.version == 1 {
		numFlagBits = headerFlagsBitSizeV1
	}
	d.headerFlags = HeaderFlags(r.Read(numFlagBits))
	if d.legacy() {
		d.returnKind = ReturnKind(r.Read(returnKindFatBitSize))
	}
	*remaining &^= DecodeReturnKind | DecodeVarArg | DecodeHasTailCalls
	if *remaining == 0 {
		return true
	}

	d.codeLength = layout.DenormalizeCodeLength(
		uint32(r.DecodeVarLengthUnsigned(layout.CodeLengthEncBase)))
	*remaining &^= DecodeCodeLength
	if *remaining == 0 {
		return true
	}

	switch {
	case d.headerFlags&HeaderHasGSCookie != 0:
		normCodeLength := d.normalizeCodeOffset(d.codeLength)
		normPrologSize := uint32(r.DecodeVarLengthUnsigned(layout.NormPrologSizeEncBase)) + 1
		normEpilogSize := uint32(r.DecodeVarLengthUnsigned(layout.NormEpilogSizeEncBase))
		d.validRangeStart = d.denormalizeCodeOffset(normPrologSize)
		d.validRangeEnd = d.denormalizeCodeOffset(normCodeLength - normEpilogSize)
		contract.Assert(d.validRangeStart < d.validRangeEnd, "empty GS cookie valid range")
	case d.headerFlags&HeaderGenericsInstContextMask != HeaderGenericsInstContextNone:
		normPrologSize := uint32(r.DecodeVarLengthUnsigned(layout.NormPrologSizeEncBase)) + 1
		d.validRangeStart = d.denormalizeCodeOffset(normPrologSize)
		d.validRangeEnd = d.validRangeStart + 1
	}
	*remaining &^= DecodePrologLength
	if *remaining == 0 {
		return true
	}

	if d.headerFlags&HeaderHasGSCookie != 0 {
		d.gsCookieStackSlot = layout.DenormalizeStackSlot(
			r.DecodeVarLengthSigned(layout.GSCookieStackSlotEncBase))
	}
	*remaining &^= DecodeGSCookie
	if *remaining == 0 {
		return true
	}

	if d.headerFlags&HeaderHasPSPSym != 0 {
		d.pspSymStackSlot = layout.DenormalizeStackSlot(
			r.DecodeVarLengthSigned(layout.PSPSymStackSlotEncBase))
	}
	*remaining &^= DecodePSPSym
	if *remaining == 0 {
		return true
	}

	if d.headerFlags&HeaderGenericsInstContextMask != HeaderGenericsInstContextNone {
		d.genericsInstContextStackSlot = layout.DenormalizeStackSlot(
			r.DecodeVarLengthSigned(layout.GenericsInstContextStackSlotEncBase))
	}
	*remaining &^= DecodeGenericsInstContext
	if *remaining == 0 {
		return true
	}

	if d.headerFlags&HeaderHasStackBaseRegister != 0 {
		d.stackBaseRegister = layout.DenormalizeStackBaseRegister(
			uint32(r.DecodeVarLengthUnsigned(layout.StackBaseRegisterEncBase)))
	}

	if d.headerFlags&HeaderHasEditAndContinueInfo != 0 {
		d.sizeOfEditAndContinuePreservedArea = uint32(
			r.DecodeVarLengthUnsigned(layout.SizeOfEditAndContinuePreservedAreaEncBase))
		if layout.HasEditAndContinueFixedStackFrame {
			d.sizeOfEditAndContinueFixedStackFrame = uint32(
				r.DecodeVarLengthUnsigned(layout.SizeOfEditAndContinueFixedStackFrameEncBase))
		}
	}
	*remaining &^= DecodeEditAndContinue
	if *remaining == 0 {
		return true
	}

	if d.headerFlags&HeaderReversePInvokeFrame != 0 {
		d.reversePInvokeFrameStackSlot = layout.DenormalizeStackSlot(
			r.DecodeVarLengthSigned(layout.ReversePInvokeFrameEncBase))
	}
	*remaining &^= DecodeReversePInvokeVar
	if *remaining == 0 {
		return true
	}

	if layout.HasStackParameterScratchArea {
		d.sizeOfStackOutgoingAndScratchArea = layout.DenormalizeSizeOfStackArea(
			uint32(r.DecodeVarLengthUnsigned(layout.SizeOfStackAreaEncBase)))
	}
	return false
}

func (d *Decoder[E]) assertTables() {
	contract.Assert(d.tablesDecoded, "decode flags stopped before the safe point table")
}

// Layout returns the encoding layout the decoder was instantiated for.
func (d *Decoder[E]) Layout() *Layout { return d.layout }

// Version returns the format version of the blob.
func (d *Decoder[E]) Version() uint32 { return d.version }

// CodeLength returns the length of the method code in bytes.
func (d *Decoder[E]) CodeLength() uint32 { return d.codeLength }

// HeaderFlags returns the raw flags of a fat header.
func (d *Decoder[E]) HeaderFlags() HeaderFlags { return d.headerFlags }

// IsSlimHeader reports whether the blob uses the compact header form.
func (d *Decoder[E]) IsSlimHeader() bool { return d.slimHeader }

// IsVarArg reports whether the method takes a variable argument list.
func (d *Decoder[E]) IsVarArg() bool {
	return d.headerFlags&HeaderIsVarArg != 0
}

// WantsReportOnlyLeaf is only meaningful on encodings where header bit 0x80
// carries that flag.
func (d *Decoder[E]) WantsReportOnlyLeaf() bool {
	return d.layout.ArchHeaderBit == ArchBitWantsReportOnlyLeaf &&
		d.headerFlags&HeaderArchBit != 0
}

// HasTailCalls reports whether the method makes tail calls. It is only
// meaningful on encodings where header bit 0x80 carries that flag and is false
// elsewhere.
func (d *Decoder[E]) HasTailCalls() bool {
	return d.layout.ArchHeaderBit == ArchBitHasTailCalls &&
		d.headerFlags&HeaderArchBit != 0
}

// HasStackBaseRegister reports whether frame relative slots are addressed off
// StackBaseRegister.
func (d *Decoder[E]) HasStackBaseRegister() bool {
	return d.headerFlags&HeaderHasStackBaseRegister != 0
}

// HasMethodDescGenericsInstContext reports whether the generics instantiation
// context is a method descriptor.
func (d *Decoder[E]) HasMethodDescGenericsInstContext() bool {
	return d.headerFlags&HeaderGenericsInstContextMask == HeaderGenericsInstContextMD
}

// HasMethodTableGenericsInstContext reports whether the generics instantiation
// context is a method table.
func (d *Decoder[E]) HasMethodTableGenericsInstContext() bool {
	return d.headerFlags&HeaderGenericsInstContextMask == HeaderGenericsInstContextMT
}

// GSCookieStackSlot returns the stack offset of the GS cookie, or NoGSCookie.
func (d *Decoder[E]) GSCookieStackSlot() int32 { return d.gsCookieStackSlot }

func (d *Decoder[E]) GSCookieValidRangeStart() uint32 {
	contract.Assert(d.headerFlags&HeaderHasGSCookie != 0, "method has no GS cookie")
	return d.validRangeStart
}

func (d *Decoder[E]) GSCookieValidRangeEnd() uint32 {
	contract.Assert(d.headerFlags&HeaderHasGSCookie != 0, "method has no GS cookie")
	return d.validRangeEnd
}

// IsGSCookieValid reports whether the GS cookie is set up at the instruction offset.
func (d *Decoder[E]) IsGSCookieValid() bool {
	return d.headerFlags&HeaderHasGSCookie != 0 &&
		d.instructionOffset >= d.validRangeStart &&
		d.instructionOffset < d.validRangeEnd
}

// PrologSize returns the size of the prolog for methods with a GS cookie or a
// generics instantiation context.
func (d *Decoder[E]) PrologSize() uint32 {
	contract.Assert(d.headerFlags&(HeaderHasGSCookie|HeaderGenericsInstContextMask) != 0,
		"method has no recorded prolog")
	return d.validRangeStart
}

// PSPSymStackSlot returns the stack offset of the PSP symbol, or NoPSPSym.
func (d *Decoder[E]) PSPSymStackSlot() int32 { return d.pspSymStackSlot }

// GenericsInstContextStackSlot returns the stack offset of the generics
// instantiation context, or NoGenericsInstContext.
func (d *Decoder[E]) GenericsInstContextStackSlot() int32 { return d.genericsInstContextStackSlot }

// ReversePInvokeFrameStackSlot returns the stack offset of the reverse P/Invoke
// frame, or NoReversePInvokeFrame.
func (d *Decoder[E]) ReversePInvokeFrameStackSlot() int32 { return d.reversePInvokeFrameStackSlot }

// StackBaseRegister returns the register frame relative slots are based on, or
// NoStackBaseRegister.
func (d *Decoder[E]) StackBaseRegister() uint32 { return d.stackBaseRegister }

// SizeOfEditAndContinuePreservedArea returns the size of the area kept across
// an edit and continue remap, or NoSizeOfEditAndContinuePreservedArea.
func (d *Decoder[E]) SizeOfEditAndContinuePreservedArea() uint32 {
	return d.sizeOfEditAndContinuePreservedArea
}

func (d *Decoder[E]) SizeOfEditAndContinueFixedStackFrame() uint32 {
	return d.sizeOfEditAndContinueFixedStackFrame
}

// SizeOfStackParameterArea returns the size of the outgoing argument and scratch
// area at the bottom of the frame.
func (d *Decoder[E]) SizeOfStackParameterArea() uint32 {
	return d.sizeOfStackOutgoingAndScratchArea
}

// ReturnKind returns the encoded return kind, ReturnIllegal for formats without it.
func (d *Decoder[E]) ReturnKind() ReturnKind { return d.returnKind }

// NumBytesRead returns the number of bytes of the blob consumed by Init.
func (d *Decoder[E]) NumBytesRead() uint { return d.reader.NumBytesRead() }

// DecodeSlotTable decodes the slot table of the method into sd.
func (d *Decoder[E]) DecodeSlotTable(sd *SlotDecoder) {
	r := d.slotTableReader()
	sd.Decode(&r, d.layout)
}

// slotTableReader returns a reader positioned at the slot table.
func (d *Decoder[E]) slotTableReader() bitstream.Reader {
	d.assertTables()
	r := d.reader
	r.SetCurrentPos(d.rangesPos)
	for i := uint32(0); i < d.numInterruptibleRanges; i++ {
		r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta1EncBase)
		r.DecodeVarLengthUnsigned(d.layout.InterruptibleRangeDelta2EncBase)
	}
	return r
}

// tracef logs decoding steps. Callers check contract.Enabled first so release
// builds do not box the arguments.
func (d *Decoder[E]) tracef(format string, args ...any) {
	log.Debugf("gcinfo: "+format, args...)
}
