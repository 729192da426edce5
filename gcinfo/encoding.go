// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gcinfo // import "go.opentelemetry.io/dotnet-gcinfo/gcinfo"

// ArchHeaderBit is the meaning of header flag bit 0x80 for an encoding family.
type ArchHeaderBit uint8

const (
	// ArchBitWantsReportOnlyLeaf is used by AMD64.
	ArchBitWantsReportOnlyLeaf ArchHeaderBit = iota
	// ArchBitHasTailCalls is used by ARM, ARM64, LoongArch64 and RISC-V64.
	ArchBitHasTailCalls
)

// Layout describes the target specific constants of the GC info format: the
// encoding bases of every variable length field and the normalization of code
// offsets, stack slots and registers.
// https://github.com/dotnet/runtime/blob/v9.0.0/src/coreclr/inc/gcinfotypes.h
type Layout struct {
	Name string

	ArchHeaderBit ArchHeaderBit
	// HasEditAndContinueFixedStackFrame is set when EnC info carries the fixed frame size.
	HasEditAndContinueFixedStackFrame bool
	// HasStackParameterScratchArea is set when the fat header ends with the size of
	// the outgoing argument and scratch area (FIXED_STACK_PARAMETER_SCRATCH_AREA).
	HasStackParameterScratchArea bool
	// OddSafePointOffsets is set when safe points, stored with a -1 adjustment of
	// an aligned return address, can only match odd lookup offsets.
	OddSafePointOffsets bool

	CodeOffsetShift      uint
	CodeLengthShift      uint
	StackSlotShift       uint
	StackAreaShift       uint
	StackBaseRegisterXor uint32

	PSPSymStackSlotEncBase                      int
	GenericsInstContextStackSlotEncBase         int
	GSCookieStackSlotEncBase                    int
	CodeLengthEncBase                           int
	StackBaseRegisterEncBase                    int
	SizeOfStackAreaEncBase                      int
	SizeOfEditAndContinuePreservedAreaEncBase   int
	SizeOfEditAndContinueFixedStackFrameEncBase int
	ReversePInvokeFrameEncBase                  int
	NumRegistersEncBase                         int
	NumStackSlotsEncBase                        int
	NumUntrackedSlotsEncBase                    int
	NormPrologSizeEncBase                       int
	NormEpilogSizeEncBase                       int
	InterruptibleRangeDelta1EncBase             int
	InterruptibleRangeDelta2EncBase             int
	RegisterEncBase                             int
	RegisterDeltaEncBase                        int
	StackSlotEncBase                            int
	StackSlotDeltaEncBase                       int
	NumSafePointsEncBase                        int
	NumInterruptibleRangesEncBase               int
	PointerSizeEncBase                          int
	LiveStateRLERunEncBase                      int
	LiveStateRLESkipEncBase                     int
}

func (l *Layout) NormalizeCodeOffset(x uint32) uint32   { return x >> l.CodeOffsetShift }
func (l *Layout) DenormalizeCodeOffset(x uint32) uint32 { return x << l.CodeOffsetShift }
func (l *Layout) NormalizeCodeLength(x uint32) uint32   { return x >> l.CodeLengthShift }
func (l *Layout) DenormalizeCodeLength(x uint32) uint32 { return x << l.CodeLengthShift }

// NormalizeStackSlot drops the alignment bits of a stack offset. The shift is
// arithmetic, negative offsets stay negative.
func (l *Layout) NormalizeStackSlot(x int32) int64 { return int64(x) >> l.StackSlotShift }

func (l *Layout) DenormalizeStackSlot(x int64) int32 { return int32(x << l.StackSlotShift) }

// NormalizeStackBaseRegister maps the usual frame pointer register to 0.
func (l *Layout) NormalizeStackBaseRegister(x uint32) uint32   { return x ^ l.StackBaseRegisterXor }
func (l *Layout) DenormalizeStackBaseRegister(x uint32) uint32 { return x ^ l.StackBaseRegisterXor }

func (l *Layout) NormalizeSizeOfStackArea(x uint32) uint32   { return x >> l.StackAreaShift }
func (l *Layout) DenormalizeSizeOfStackArea(x uint32) uint32 { return x << l.StackAreaShift }

func (l *Layout) NormalizeRegister(x uint32) uint32   { return x }
func (l *Layout) DenormalizeRegister(x uint32) uint32 { return x }

// Encoding selects the Layout a Decoder is instantiated for. Implementations are
// empty marker types so the choice is made by the type argument at compile time.
type Encoding interface {
	Layout() *Layout
}

type (
	AMD64       struct{}
	ARM64       struct{}
	ARM         struct{}
	LoongArch64 struct{}
	RISCV64     struct{}
)

func (AMD64) Layout() *Layout       { return &amd64Layout }
func (ARM64) Layout() *Layout       { return &arm64Layout }
func (ARM) Layout() *Layout         { return &armLayout }
func (LoongArch64) Layout() *Layout { return &loongArch64Layout }
func (RISCV64) Layout() *Layout     { return &riscv64Layout }

var amd64Layout = Layout{
	Name:                         "amd64",
	ArchHeaderBit:                ArchBitWantsReportOnlyLeaf,
	HasStackParameterScratchArea: true,

	StackSlotShift:       3,
	StackAreaShift:       3,
	StackBaseRegisterXor: 5, // rbp

	PSPSymStackSlotEncBase:                    6,
	GenericsInstContextStackSlotEncBase:       6,
	GSCookieStackSlotEncBase:                  6,
	CodeLengthEncBase:                         8,
	StackBaseRegisterEncBase:                  3,
	SizeOfStackAreaEncBase:                    3,
	SizeOfEditAndContinuePreservedAreaEncBase: 4,
	ReversePInvokeFrameEncBase:                6,
	NumRegistersEncBase:                       2,
	NumStackSlotsEncBase:                      2,
	NumUntrackedSlotsEncBase:                  1,
	NormPrologSizeEncBase:                     5,
	NormEpilogSizeEncBase:                     3,
	InterruptibleRangeDelta1EncBase:           6,
	InterruptibleRangeDelta2EncBase:           6,
	RegisterEncBase:                           3,
	RegisterDeltaEncBase:                      2,
	StackSlotEncBase:                          6,
	StackSlotDeltaEncBase:                     4,
	NumSafePointsEncBase:                      2,
	NumInterruptibleRangesEncBase:             1,
	PointerSizeEncBase:                        3,
	LiveStateRLERunEncBase:                    2,
	LiveStateRLESkipEncBase:                   4,
}

var arm64Layout = Layout{
	Name:                              "arm64",
	ArchHeaderBit:                     ArchBitHasTailCalls,
	HasEditAndContinueFixedStackFrame: true,
	HasStackParameterScratchArea:      true,
	OddSafePointOffsets:               true,

	CodeOffsetShift:      2,
	CodeLengthShift:      2,
	StackSlotShift:       3,
	StackAreaShift:       3,
	StackBaseRegisterXor: 29, // fp

	PSPSymStackSlotEncBase:                      6,
	GenericsInstContextStackSlotEncBase:         6,
	GSCookieStackSlotEncBase:                    6,
	CodeLengthEncBase:                           8,
	StackBaseRegisterEncBase:                    2,
	SizeOfStackAreaEncBase:                      3,
	SizeOfEditAndContinuePreservedAreaEncBase:   4,
	SizeOfEditAndContinueFixedStackFrameEncBase: 4,
	ReversePInvokeFrameEncBase:                  6,
	NumRegistersEncBase:                         3,
	NumStackSlotsEncBase:                        2,
	NumUntrackedSlotsEncBase:                    1,
	NormPrologSizeEncBase:                       5,
	NormEpilogSizeEncBase:                       3,
	InterruptibleRangeDelta1EncBase:             6,
	InterruptibleRangeDelta2EncBase:             6,
	RegisterEncBase:                             3,
	RegisterDeltaEncBase:                        2,
	StackSlotEncBase:                            6,
	StackSlotDeltaEncBase:                       4,
	NumSafePointsEncBase:                        3,
	NumInterruptibleRangesEncBase:               1,
	PointerSizeEncBase:                          3,
	LiveStateRLERunEncBase:                      2,
	LiveStateRLESkipEncBase:                     4,
}

var armLayout = Layout{
	Name:                         "arm",
	ArchHeaderBit:                ArchBitHasTailCalls,
	HasStackParameterScratchArea: true,
	OddSafePointOffsets:          true,

	CodeOffsetShift:      1,
	CodeLengthShift:      1,
	StackSlotShift:       2,
	StackAreaShift:       2,
	StackBaseRegisterXor: 7, // r7

	PSPSymStackSlotEncBase:                    5,
	GenericsInstContextStackSlotEncBase:       5,
	GSCookieStackSlotEncBase:                  5,
	CodeLengthEncBase:                         7,
	StackBaseRegisterEncBase:                  1,
	SizeOfStackAreaEncBase:                    3,
	SizeOfEditAndContinuePreservedAreaEncBase: 3,
	ReversePInvokeFrameEncBase:                5,
	NumRegistersEncBase:                       2,
	NumStackSlotsEncBase:                      3,
	NumUntrackedSlotsEncBase:                  3,
	NormPrologSizeEncBase:                     5,
	NormEpilogSizeEncBase:                     3,
	InterruptibleRangeDelta1EncBase:           4,
	InterruptibleRangeDelta2EncBase:           6,
	RegisterEncBase:                           2,
	RegisterDeltaEncBase:                      1,
	StackSlotEncBase:                          6,
	StackSlotDeltaEncBase:                     4,
	NumSafePointsEncBase:                      3,
	NumInterruptibleRangesEncBase:             2,
	PointerSizeEncBase:                        3,
	LiveStateRLERunEncBase:                    2,
	LiveStateRLESkipEncBase:                   4,
}

// loongArch64Layout and riscv64Layout share the ARM64 field widths and differ in
// the frame pointer register number.
var loongArch64Layout = func() Layout {
	l := arm64Layout
	l.Name = "loongarch64"
	l.HasEditAndContinueFixedStackFrame = false
	l.StackBaseRegisterXor = 22 // fp
	return l
}()

var riscv64Layout = func() Layout {
	l := arm64Layout
	l.Name = "riscv64"
	l.HasEditAndContinueFixedStackFrame = false
	l.StackBaseRegisterXor = 8 // fp
	return l
}()

// LayoutByName returns the Layout with the given Name.
func LayoutByName(name string) (*Layout, bool) {
	for _, l := range []*Layout{&amd64Layout, &arm64Layout, &armLayout,
		&loongArch64Layout, &riscv64Layout} {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}
