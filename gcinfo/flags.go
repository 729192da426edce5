// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

import "fmt"

// HeaderFlags are the flags stored in a fat GC info header.
type HeaderFlags uint32

const (
	HeaderIsVarArg                HeaderFlags = 0x1
	HeaderHasGSCookie             HeaderFlags = 0x4
	HeaderHasPSPSym               HeaderFlags = 0x8
	HeaderGenericsInstContextMask HeaderFlags = 0x30
	HeaderGenericsInstContextNone HeaderFlags = 0x00
	HeaderGenericsInstContextMT   HeaderFlags = 0x10
	HeaderGenericsInstContextMD   HeaderFlags = 0x20
	HeaderGenericsInstContextThis HeaderFlags = 0x30
	HeaderHasStackBaseRegister    HeaderFlags = 0x40
	// HeaderArchBit is WantsReportOnlyLeaf on AMD64 and HasTailCalls elsewhere.
	HeaderArchBit                HeaderFlags = 0x80
	HeaderHasEditAndContinueInfo HeaderFlags = 0x100
	HeaderReversePInvokeFrame    HeaderFlags = 0x200

	headerFlagsBitSize   = 10
	headerFlagsBitSizeV1 = 9
)

// DecodeFlags select which parts of the GC info are decoded up front.
type DecodeFlags uint32

const (
	DecodeEverything          DecodeFlags = 0x0
	DecodeSecurityObject      DecodeFlags = 0x01
	DecodeCodeLength          DecodeFlags = 0x02
	DecodeVarArg              DecodeFlags = 0x04
	DecodeInterruptibility    DecodeFlags = 0x08
	DecodeGCLifetimes         DecodeFlags = 0x10
	DecodeNoValidation        DecodeFlags = 0x20
	DecodePSPSym              DecodeFlags = 0x40
	DecodeGenericsInstContext DecodeFlags = 0x80
	DecodeGSCookie            DecodeFlags = 0x100
	DecodeForRangesCallback   DecodeFlags = 0x200
	DecodePrologLength        DecodeFlags = 0x400
	DecodeEditAndContinue     DecodeFlags = 0x800
	DecodeReversePInvokeVar   DecodeFlags = 0x1000
	DecodeReturnKind          DecodeFlags = 0x2000
	DecodeHasTailCalls        DecodeFlags = 0x4000
)

// CodeManagerFlags describe the frame being enumerated.
type CodeManagerFlags uint32

const (
	ActiveStackFrame          CodeManagerFlags = 0x1
	ExecutionAborted          CodeManagerFlags = 0x2
	ParentOfFuncletStackFrame CodeManagerFlags = 0x40
	NoReportUntracked         CodeManagerFlags = 0x80
	ReportFPBasedSlotsOnly    CodeManagerFlags = 0x200
)

// SlotFlags are the per slot flags of the slot table.
type SlotFlags uint8

const (
	SlotBase     SlotFlags = 0x0
	SlotInterior SlotFlags = 0x1
	SlotPinned   SlotFlags = 0x2
	// SlotUntracked is never encoded, the decoder sets it on untracked slots.
	SlotUntracked SlotFlags = 0x4

	slotFlagsBitSize = 2
)

func (f SlotFlags) String() string {
	s := "base"
	if f&SlotInterior != 0 {
		s = "interior"
	}
	if f&SlotPinned != 0 {
		s += ",pinned"
	}
	if f&SlotUntracked != 0 {
		s += ",untracked"
	}
	return s
}

// StackSlotBase is the register a stack slot offset is relative to.
type StackSlotBase uint8

const (
	CallerSPRel StackSlotBase = 0x0
	SPRel       StackSlotBase = 0x1
	FrameRegRel StackSlotBase = 0x2

	slotBaseBitSize = 2
)

func (b StackSlotBase) String() string {
	switch b {
	case CallerSPRel:
		return "caller.sp"
	case SPRel:
		return "sp"
	case FrameRegRel:
		return "frame"
	default:
		return fmt.Sprintf("base(%d)", uint8(b))
	}
}

// ReportFlags are passed to the report callback with every live slot.
type ReportFlags uint32

const (
	ReportInterior ReportFlags = 0x1
	ReportPinned   ReportFlags = 0x2
)

// ReturnKind is the GC kind of the return value. It is only encoded by legacy
// format versions.
type ReturnKind uint8

const (
	ReturnScalar  ReturnKind = 0
	ReturnObject  ReturnKind = 1
	ReturnByRef   ReturnKind = 2
	ReturnUnset   ReturnKind = 3
	ReturnIllegal ReturnKind = 0xff

	returnKindSlimBitSize = 2
	returnKindFatBitSize  = 4
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnScalar:
		return "scalar"
	case ReturnObject:
		return "object"
	case ReturnByRef:
		return "byref"
	case ReturnUnset:
		return "unset"
	case ReturnIllegal:
		return "illegal"
	default:
		// Multi-register struct returns combine two kinds in the fat encoding.
		return fmt.Sprintf("struct(%d,%d)", uint8(k)&3, uint8(k)>>2)
	}
}

// Sentinels returned for fields a method does not have.
const (
	NoGSCookie                           int32  = -1
	NoPSPSym                             int32  = -1
	NoGenericsInstContext                int32  = -1
	NoReversePInvokeFrame                int32  = -1
	NoStackBaseRegister                  uint32 = 0xffffffff
	NoSizeOfEditAndContinuePreservedArea uint32 = 0xffffffff
)

// Lifetime chunking of fully interruptible code.
const (
	numNormCodeOffsetsPerChunk     = 64
	numNormCodeOffsetsPerChunkLog2 = 6
)
