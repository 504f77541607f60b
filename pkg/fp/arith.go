package fp

import "math"

// pickNaN32 and pickNaN64 implement FPProcessNaNs: given the unpack results of the two
// operands to a two-operand operation, reports whether either is a NaN and,
// if so, which (raw bits, type) pair should flow into ProcessNaN — an SNaN
// is preferred over a QNaN, and the first operand is preferred over the
// second when both are the same kind, matching the reference
// implementation's argument order.
func pickNaN32(ta Type, a uint32, tb Type, b uint32) (Type, uint32, bool) {
	aNaN := ta == TypeQNaN || ta == TypeSNaN
	bNaN := tb == TypeQNaN || tb == TypeSNaN
	switch {
	case ta == TypeSNaN:
		return ta, a, true
	case tb == TypeSNaN:
		return tb, b, true
	case aNaN:
		return ta, a, true
	case bNaN:
		return tb, b, true
	default:
		return TypeNonzero, 0, false
	}
}

func pickNaN64(ta Type, a uint64, tb Type, b uint64) (Type, uint64, bool) {
	aNaN := ta == TypeQNaN || ta == TypeSNaN
	bNaN := tb == TypeQNaN || tb == TypeSNaN
	switch {
	case ta == TypeSNaN:
		return ta, a, true
	case tb == TypeSNaN:
		return tb, b, true
	case aNaN:
		return ta, a, true
	case bNaN:
		return tb, b, true
	default:
		return TypeNonzero, 0, false
	}
}

// flush32 returns op's raw bits with a flushed-to-zero denormal replaced by
// a signed zero, per Unpack32's own FZ handling (kept separate so callers
// that already unpacked the operand don't need to re-decode it).
func flush32(op uint32, t Type, sign bool) uint32 {
	if t == TypeZero {
		// (subsumes both "was already zero" and "flushed by FZ")
		return uint32(info32.zero(sign))
	}
	return op
}

func flush64(op uint64, t Type, sign bool) uint64 {
	if t == TypeZero {
		return info64.zero(sign)
	}
	return op
}

func isSubnormalNonZero32(bits uint32) bool {
	exp := (bits >> 23) & 0xFF
	frac := bits & 0x007FFFFF
	return exp == 0 && frac != 0
}

func isSubnormalNonZero64(bits uint64) bool {
	exp := (bits >> 52) & 0x7FF
	frac := bits & 0x000FFFFFFFFFFFFF
	return exp == 0 && frac != 0
}

// postProcess32 applies the guest's flush-to-zero-on-output behaviour to a
// native arithmetic result: a nonzero subnormal result is replaced by a
// signed zero and raises FPExc.Underflow into fpsr.
func postProcess32(resultBits uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	if fpcr.FZ && isSubnormalNonZero32(resultBits) {
		ProcessException(ExcUnderflow, fpcr, fpsr)
		sign := resultBits&uint32(info32.signMask) != 0
		return uint32(info32.zero(sign))
	}
	return resultBits
}

func postProcess64(resultBits uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	if fpcr.FZ && isSubnormalNonZero64(resultBits) {
		ProcessException(ExcUnderflow, fpcr, fpsr)
		sign := resultBits&info64.signMask != 0
		return info64.zero(sign)
	}
	return resultBits
}

// Add32 computes a+b under fpcr, returning the raw single-precision result
// and updating fpsr's cumulative exception flags. Basic arithmetic
// (add/sub/mul/div/compare) is delegated to Go's native float32/float64
// operations — the same IEEE-754 binary arithmetic host hardware executes
// for the corresponding ADDSS/MULSS/etc emitter — and this library supplies
// only the ARM-specific deltas those native operations don't: SNaN
// quieting, default-NaN substitution, and flush-to-zero on both input and
// output. See DESIGN.md for why this split, rather than a full bit-level
// software adder, is the grounded choice.
func Add32(a, b uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	ta, sa, _ := Unpack32(a, fpcr, fpsr)
	tb, sb, _ := Unpack32(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN32(ta, a, tb, b); isNaN {
		return ProcessNaN32(nt, nop, fpcr, fpsr)
	}
	if ta == TypeInfinity && tb == TypeInfinity && sa != sb {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN32()
	}
	af := math.Float32frombits(flush32(a, ta, sa))
	bf := math.Float32frombits(flush32(b, tb, sb))
	return postProcess32(math.Float32bits(af+bf), fpcr, fpsr)
}

// Add64 is Add32 for double precision.
func Add64(a, b uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	ta, sa, _ := Unpack64(a, fpcr, fpsr)
	tb, sb, _ := Unpack64(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN64(ta, a, tb, b); isNaN {
		return ProcessNaN64(nt, nop, fpcr, fpsr)
	}
	if ta == TypeInfinity && tb == TypeInfinity && sa != sb {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN64()
	}
	af := math.Float64frombits(flush64(a, ta, sa))
	bf := math.Float64frombits(flush64(b, tb, sb))
	return postProcess64(math.Float64bits(af+bf), fpcr, fpsr)
}

// Sub32 computes a-b; see Add32.
func Sub32(a, b uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	return Add32(a, b^uint32(info32.signMask), fpcr, fpsr)
}

// Sub64 computes a-b; see Add64.
func Sub64(a, b uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	return Add64(a, b^info64.signMask, fpcr, fpsr)
}

// Mul32 computes a*b.
func Mul32(a, b uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	ta, sa, _ := Unpack32(a, fpcr, fpsr)
	tb, sb, _ := Unpack32(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN32(ta, a, tb, b); isNaN {
		return ProcessNaN32(nt, nop, fpcr, fpsr)
	}
	if (ta == TypeInfinity && tb == TypeZero) || (ta == TypeZero && tb == TypeInfinity) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN32()
	}
	af := math.Float32frombits(flush32(a, ta, sa))
	bf := math.Float32frombits(flush32(b, tb, sb))
	return postProcess32(math.Float32bits(af*bf), fpcr, fpsr)
}

// Mul64 computes a*b.
func Mul64(a, b uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	ta, sa, _ := Unpack64(a, fpcr, fpsr)
	tb, sb, _ := Unpack64(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN64(ta, a, tb, b); isNaN {
		return ProcessNaN64(nt, nop, fpcr, fpsr)
	}
	if (ta == TypeInfinity && tb == TypeZero) || (ta == TypeZero && tb == TypeInfinity) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN64()
	}
	af := math.Float64frombits(flush64(a, ta, sa))
	bf := math.Float64frombits(flush64(b, tb, sb))
	return postProcess64(math.Float64bits(af*bf), fpcr, fpsr)
}

// Div32 computes a/b.
func Div32(a, b uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	ta, sa, _ := Unpack32(a, fpcr, fpsr)
	tb, sb, _ := Unpack32(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN32(ta, a, tb, b); isNaN {
		return ProcessNaN32(nt, nop, fpcr, fpsr)
	}
	if (ta == TypeZero && tb == TypeZero) || (ta == TypeInfinity && tb == TypeInfinity) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN32()
	}
	if ta == TypeNonzero && tb == TypeZero {
		ProcessException(ExcDivideByZero, fpcr, fpsr)
		return uint32(info32.infinity(sa != sb))
	}
	af := math.Float32frombits(flush32(a, ta, sa))
	bf := math.Float32frombits(flush32(b, tb, sb))
	return postProcess32(math.Float32bits(af/bf), fpcr, fpsr)
}

// Div64 computes a/b.
func Div64(a, b uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	ta, sa, _ := Unpack64(a, fpcr, fpsr)
	tb, sb, _ := Unpack64(b, fpcr, fpsr)
	if nt, nop, isNaN := pickNaN64(ta, a, tb, b); isNaN {
		return ProcessNaN64(nt, nop, fpcr, fpsr)
	}
	if (ta == TypeZero && tb == TypeZero) || (ta == TypeInfinity && tb == TypeInfinity) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN64()
	}
	if ta == TypeNonzero && tb == TypeZero {
		ProcessException(ExcDivideByZero, fpcr, fpsr)
		return info64.infinity(sa != sb)
	}
	af := math.Float64frombits(flush64(a, ta, sa))
	bf := math.Float64frombits(flush64(b, tb, sb))
	return postProcess64(math.Float64bits(af/bf), fpcr, fpsr)
}

// Neg32 flips a's sign bit — a pure bit operation, never raises an
// exception or consults fpcr, matching the ARM FNEG instruction.
func Neg32(a uint32) uint32 { return a ^ uint32(info32.signMask) }

// Neg64 is Neg32 for double precision.
func Neg64(a uint64) uint64 { return a ^ info64.signMask }

// Abs32 clears a's sign bit.
func Abs32(a uint32) uint32 { return a &^ uint32(info32.signMask) }

// Abs64 clears a's sign bit.
func Abs64(a uint64) uint64 { return a &^ info64.signMask }

// Sqrt32 computes the square root of a.
func Sqrt32(a uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	ta, sa, _ := Unpack32(a, fpcr, fpsr)
	if ta == TypeQNaN || ta == TypeSNaN {
		return ProcessNaN32(ta, a, fpcr, fpsr)
	}
	if sa && ta == TypeNonzero {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN32()
	}
	af := math.Float32frombits(flush32(a, ta, sa))
	return postProcess32(math.Float32bits(float32(math.Sqrt(float64(af)))), fpcr, fpsr)
}

// Sqrt64 is Sqrt32 for double precision.
func Sqrt64(a uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	ta, sa, _ := Unpack64(a, fpcr, fpsr)
	if ta == TypeQNaN || ta == TypeSNaN {
		return ProcessNaN64(ta, a, fpcr, fpsr)
	}
	if sa && ta == TypeNonzero {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN64()
	}
	af := math.Float64frombits(flush64(a, ta, sa))
	return postProcess64(math.Float64bits(math.Sqrt(af)), fpcr, fpsr)
}

// CompareResult packs the N,Z,C,V condition flags an ARM FCMP instruction
// produces.
type CompareResult struct {
	N, Z, C, V bool
}

func unordered() CompareResult { return CompareResult{N: false, Z: false, C: true, V: true} }

// Compare32 implements FCMP: unordered (one operand is NaN) sets N=0,Z=0,
// C=1,V=1 and raises InvalidOp for a signalling comparison (signalNaNs, as
// every IR-level FPCompare does per spec.md's representative slice).
func Compare32(a, b uint32, signalNaNs bool, fpcr FPCR, fpsr *FPSR) CompareResult {
	ta, _, _ := Unpack32(a, fpcr, fpsr)
	tb, _, _ := Unpack32(b, fpcr, fpsr)
	if ta == TypeSNaN || tb == TypeSNaN || ((ta == TypeQNaN || tb == TypeQNaN) && signalNaNs) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return unordered()
	}
	if ta == TypeQNaN || tb == TypeQNaN {
		return unordered()
	}
	af := math.Float32frombits(a)
	bf := math.Float32frombits(b)
	switch {
	case af == bf:
		return CompareResult{Z: true, C: true}
	case af < bf:
		return CompareResult{N: true}
	default:
		return CompareResult{C: true}
	}
}

// Compare64 is Compare32 for double precision.
func Compare64(a, b uint64, signalNaNs bool, fpcr FPCR, fpsr *FPSR) CompareResult {
	ta, _, _ := Unpack64(a, fpcr, fpsr)
	tb, _, _ := Unpack64(b, fpcr, fpsr)
	if ta == TypeSNaN || tb == TypeSNaN || ((ta == TypeQNaN || tb == TypeQNaN) && signalNaNs) {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return unordered()
	}
	if ta == TypeQNaN || tb == TypeQNaN {
		return unordered()
	}
	af := math.Float64frombits(a)
	bf := math.Float64frombits(b)
	switch {
	case af == bf:
		return CompareResult{Z: true, C: true}
	case af < bf:
		return CompareResult{N: true}
	default:
		return CompareResult{C: true}
	}
}
