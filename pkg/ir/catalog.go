package ir

// Info holds static metadata for an IR opcode: how many arguments it takes,
// whether it has an observable side effect (and so survives dead-code
// elimination even with a zero use count), and whether a pseudo-op is
// allowed to attach to it as a producer.
type Info struct {
	Name           string
	NumArgs        int
	ResultType     Type
	HasSideEffects bool
	// PseudoAllowed lists which pseudo-ops may reference this opcode as
	// their sole producer (spec.md §3: "pseudo-ops reference exactly one
	// producer whose opcode is in a fixed allowed set").
	PseudoAllowed []Opcode
}

// Catalog maps every Opcode to its Info, filled once in init().
var Catalog [opcodeCount]Info

func init() {
	def := func(op Opcode, name string, numArgs int, resultType Type, sideEffects bool) {
		Catalog[op] = Info{Name: name, NumArgs: numArgs, ResultType: resultType, HasSideEffects: sideEffects}
	}

	// Arithmetic: two operands, pure. Pseudo-ops may attach to Add/Sub (see
	// pseudoProducers below) but not to Mul/Div.
	arith32 := []Opcode{Add32, Sub32, Mul32, SignedDiv32, UnsignedDiv32}
	arith64 := []Opcode{Add64, Sub64, Mul64, SignedDiv64, UnsignedDiv64}
	for _, op := range arith32 {
		def(op, op.String(), 2, TypeU32, false)
	}
	for _, op := range arith64 {
		def(op, op.String(), 2, TypeU64, false)
	}
	def(Neg32, "Neg32", 1, TypeU32, false)
	def(Neg64, "Neg64", 1, TypeU64, false)
	def(AddWithCarry32, "AddWithCarry32", 3, TypeU32, false)
	def(AddWithCarry64, "AddWithCarry64", 3, TypeU64, false)
	def(SubWithCarry32, "SubWithCarry32", 3, TypeU32, false)
	def(SubWithCarry64, "SubWithCarry64", 3, TypeU64, false)

	// Bit operations.
	def(And32, "And32", 2, TypeU32, false)
	def(And64, "And64", 2, TypeU64, false)
	def(Or32, "Or32", 2, TypeU32, false)
	def(Or64, "Or64", 2, TypeU64, false)
	def(Xor32, "Xor32", 2, TypeU32, false)
	def(Xor64, "Xor64", 2, TypeU64, false)
	def(Not32, "Not32", 1, TypeU32, false)
	def(Not64, "Not64", 1, TypeU64, false)
	def(LogicalShiftLeft32, "LogicalShiftLeft32", 2, TypeU32, false)
	def(LogicalShiftLeft64, "LogicalShiftLeft64", 2, TypeU64, false)
	def(LogicalShiftRight32, "LogicalShiftRight32", 2, TypeU32, false)
	def(LogicalShiftRight64, "LogicalShiftRight64", 2, TypeU64, false)
	def(ArithShiftRight32, "ArithShiftRight32", 2, TypeU32, false)
	def(ArithShiftRight64, "ArithShiftRight64", 2, TypeU64, false)
	def(RotateRight32, "RotateRight32", 2, TypeU32, false)
	def(RotateRight64, "RotateRight64", 2, TypeU64, false)
	def(ZeroExtendToWord, "ZeroExtendToWord", 1, TypeU32, false)
	def(ZeroExtendToLong, "ZeroExtendToLong", 1, TypeU64, false)
	def(SignExtendToWord, "SignExtendToWord", 1, TypeU32, false)
	def(SignExtendToLong, "SignExtendToLong", 1, TypeU64, false)
	def(ByteReverseWord, "ByteReverseWord", 1, TypeU32, false)
	def(CountLeadingZeros32, "CountLeadingZeros32", 1, TypeU32, false)
	def(Pack2x32To1x64, "Pack2x32To1x64", 2, TypeU64, false)
	def(Unpack1x64To2x32, "Unpack1x64To2x32", 1, TypeU64, false)

	// Memory: side-effecting (writes) or must-not-be-eliminated-blindly
	// (reads, since a read can fault even if its value is unused).
	for _, op := range []Opcode{ReadMemory8, ReadMemory16, ReadMemory32, ReadMemory64, ReadMemory128} {
		def(op, op.String(), 1, memReadType(op), true)
	}
	for _, op := range []Opcode{WriteMemory8, WriteMemory16, WriteMemory32, WriteMemory64, WriteMemory128} {
		def(op, op.String(), 2, TypeVoid, true)
	}
	for _, op := range []Opcode{ExclusiveReadMemory8, ExclusiveReadMemory16, ExclusiveReadMemory32, ExclusiveReadMemory64, ExclusiveReadMemory128} {
		def(op, op.String(), 1, memReadType(op-ExclusiveReadMemory8+ReadMemory8), true)
	}
	for _, op := range []Opcode{ExclusiveWriteMemory8, ExclusiveWriteMemory16, ExclusiveWriteMemory32, ExclusiveWriteMemory64, ExclusiveWriteMemory128} {
		def(op, op.String(), 2, TypeU32, true) // returns 0/1 success code
	}

	// FP / SIMD.
	def(FPAdd32, "FPAdd32", 2, TypeU32, false)
	def(FPAdd64, "FPAdd64", 2, TypeU64, false)
	def(FPSub32, "FPSub32", 2, TypeU32, false)
	def(FPSub64, "FPSub64", 2, TypeU64, false)
	def(FPMul32, "FPMul32", 2, TypeU32, false)
	def(FPMul64, "FPMul64", 2, TypeU64, false)
	def(FPDiv32, "FPDiv32", 2, TypeU32, false)
	def(FPDiv64, "FPDiv64", 2, TypeU64, false)
	def(FPCompare32, "FPCompare32", 2, TypeU32, false)
	def(FPCompare64, "FPCompare64", 2, TypeU32, false)
	def(FPMove32, "FPMove32", 1, TypeU32, false)
	def(FPMove64, "FPMove64", 1, TypeU64, false)
	def(FPNeg32, "FPNeg32", 1, TypeU32, false)
	def(FPNeg64, "FPNeg64", 1, TypeU64, false)
	def(FPAbs32, "FPAbs32", 1, TypeU32, false)
	def(FPAbs64, "FPAbs64", 1, TypeU64, false)
	def(FPSqrt32, "FPSqrt32", 1, TypeU32, false)
	def(FPSqrt64, "FPSqrt64", 1, TypeU64, false)
	def(FPMulAdd32, "FPMulAdd32", 3, TypeU32, false)
	def(FPMulAdd64, "FPMulAdd64", 3, TypeU64, false)
	def(FPRecipEstimate32, "FPRecipEstimate32", 1, TypeU32, false)
	def(FPRecipEstimate64, "FPRecipEstimate64", 1, TypeU64, false)
	def(FPRSqrtEstimate32, "FPRSqrtEstimate32", 1, TypeU32, false)
	def(FPRSqrtEstimate64, "FPRSqrtEstimate64", 1, TypeU64, false)
	def(FPConvert32To64, "FPConvert32To64", 1, TypeU64, false)
	def(FPConvert64To32, "FPConvert64To32", 1, TypeU32, false)
	def(FPToFixedS32, "FPToFixedS32", 2, TypeU32, false)
	def(FPToFixedS64, "FPToFixedS64", 2, TypeU64, false)
	def(FixedS32ToFP, "FixedS32ToFP", 2, TypeU32, false)
	def(FixedS64ToFP, "FixedS64ToFP", 2, TypeU64, false)
	def(VectorGetElement, "VectorGetElement", 2, TypeU64, false)
	def(VectorSetElement, "VectorSetElement", 3, TypeU128, false)

	// Guest-register get/set.
	def(GetRegister, "GetRegister", 1, TypeU64, false)
	def(SetRegister, "SetRegister", 2, TypeVoid, true)
	def(GetExtendedRegister32, "GetExtendedRegister32", 1, TypeU32, false)
	def(SetExtendedRegister32, "SetExtendedRegister32", 2, TypeVoid, true)
	def(GetExtendedRegister64, "GetExtendedRegister64", 1, TypeU64, false)
	def(SetExtendedRegister64, "SetExtendedRegister64", 2, TypeVoid, true)
	def(GetVector, "GetVector", 1, TypeU128, false)
	def(SetVector, "SetVector", 2, TypeVoid, true)
	def(GetSP, "GetSP", 0, TypeU64, false)
	def(SetSP, "SetSP", 1, TypeVoid, true)
	def(GetPC, "GetPC", 0, TypeU64, false)
	def(SetPC, "SetPC", 1, TypeVoid, true)
	def(GetFPCR, "GetFPCR", 0, TypeU32, false)
	def(SetFPCR, "SetFPCR", 1, TypeVoid, true)
	def(GetFPSR, "GetFPSR", 0, TypeU32, false)
	def(SetFPSR, "SetFPSR", 1, TypeVoid, true)

	// Flag get/set.
	def(GetCFlag, "GetCFlag", 0, TypeU1, false)
	def(SetCFlag, "SetCFlag", 1, TypeVoid, true)
	def(GetNFlag, "GetNFlag", 0, TypeU1, false)
	def(SetNFlag, "SetNFlag", 1, TypeVoid, true)
	def(GetZFlag, "GetZFlag", 0, TypeU1, false)
	def(SetZFlag, "SetZFlag", 1, TypeVoid, true)
	def(GetVFlag, "GetVFlag", 0, TypeU1, false)
	def(SetVFlag, "SetVFlag", 1, TypeVoid, true)
	def(GetGEFlags, "GetGEFlags", 0, TypeU32, false)
	def(SetGEFlags, "SetGEFlags", 1, TypeVoid, true)
	def(OrQFlag, "OrQFlag", 1, TypeVoid, true)

	// Pseudo-ops.
	def(GetCarryFromOp, "GetCarryFromOp", 1, TypeU1, false)
	def(GetOverflowFromOp, "GetOverflowFromOp", 1, TypeU1, false)
	def(GetNZCVFromOp, "GetNZCVFromOp", 1, TypeU32, false)
	def(GetGEFromOp, "GetGEFromOp", 1, TypeU32, false)

	// Calls / exceptions.
	def(CallSupervisor, "CallSupervisor", 1, TypeVoid, true)
	def(ExceptionRaised, "ExceptionRaised", 2, TypeVoid, true)
	def(Breakpoint, "Breakpoint", 0, TypeVoid, true)
	def(PushRSB, "PushRSB", 1, TypeVoid, true)
	def(ClearExclusive, "ClearExclusive", 0, TypeVoid, true)

	pseudoProducers := []Opcode{
		Add32, Add64, Sub32, Sub64, AddWithCarry32, AddWithCarry64,
		SubWithCarry32, SubWithCarry64, And32, And64, Or32, Or64,
		Xor32, Xor64, LogicalShiftLeft32, LogicalShiftLeft64,
		LogicalShiftRight32, LogicalShiftRight64, ArithShiftRight32,
		ArithShiftRight64, RotateRight32, RotateRight64,
	}
	for op := range Catalog {
		if isPseudoOp(Opcode(op)) {
			Catalog[op].PseudoAllowed = pseudoProducers
		}
	}
}

func isPseudoOp(op Opcode) bool {
	switch op {
	case GetCarryFromOp, GetOverflowFromOp, GetNZCVFromOp, GetGEFromOp:
		return true
	}
	return false
}

func memReadType(op Opcode) Type {
	switch op {
	case ReadMemory8:
		return TypeU8
	case ReadMemory16:
		return TypeU16
	case ReadMemory32:
		return TypeU32
	case ReadMemory64:
		return TypeU64
	case ReadMemory128:
		return TypeU128
	default:
		return TypeU64
	}
}

// AllowsPseudoProducer reports whether producer's opcode may be the sole
// argument of a GetCarryFromOp/GetNZCVFromOp/GetOverflowFromOp/GetGEFromOp
// pseudo-op, per spec.md §3's "fixed allowed set" invariant.
func AllowsPseudoProducer(producer Opcode) bool {
	for _, op := range Catalog[GetNZCVFromOp].PseudoAllowed {
		if op == producer {
			return true
		}
	}
	return false
}
