package fp

// ProcessNaN32 implements the single-precision NaN-handling algorithm: an
// SNaN is quieted (top fraction bit set) and raises InvalidOp; if the
// guest's FPCR selects default-NaN mode, the result is replaced with the
// literal default-NaN bit pattern for the width.
func ProcessNaN32(t Type, op uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	if t != TypeQNaN && t != TypeSNaN {
		panic("fp: ProcessNaN32 called with a non-NaN type")
	}
	result := op
	if t == TypeSNaN {
		result = op | (1 << (info32.explicitMantissaWidth - 1))
		ProcessException(ExcInvalidOp, fpcr, fpsr)
	}
	if fpcr.DN {
		result = DefaultNaN32()
	}
	return result
}

// ProcessNaN64 is ProcessNaN32 for double precision.
func ProcessNaN64(t Type, op uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	if t != TypeQNaN && t != TypeSNaN {
		panic("fp: ProcessNaN64 called with a non-NaN type")
	}
	result := op
	if t == TypeSNaN {
		result = op | (1 << (info64.explicitMantissaWidth - 1))
		ProcessException(ExcInvalidOp, fpcr, fpsr)
	}
	if fpcr.DN {
		result = DefaultNaN64()
	}
	return result
}
