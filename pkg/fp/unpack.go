package fp

import "math/bits"

// highestSetBit returns the index of the highest set bit in v, or -1 if v
// is zero (ported from Common::HighestSetBit in the reference
// implementation).
func highestSetBit(v uint64) int {
	if v == 0 {
		return -1
	}
	return 63 - bits.LeadingZeros64(v)
}

func unpack(op uint64, w widthInfo, fpcr FPCR, fpsr *FPSR) (Type, bool, Unpacked) {
	signBit := uint(w.exponentWidth + w.explicitMantissaWidth)
	sign := (op>>signBit)&1 != 0
	expRaw := (op >> w.explicitMantissaWidth) & ((uint64(1) << w.exponentWidth) - 1)
	fracRaw := op & w.mantissaMask
	denormalExponent := w.exponentMin - w.explicitMantissaWidth

	if expRaw == 0 {
		if fracRaw == 0 || fpcr.FZ {
			if fracRaw != 0 {
				ProcessException(ExcInputDenorm, fpcr, fpsr)
			}
			return TypeZero, sign, Unpacked{Sign: sign, Exponent: 0, Mantissa: 0}
		}
		return TypeNonzero, sign, Unpacked{Sign: sign, Exponent: denormalExponent, Mantissa: fracRaw}
	}

	allOnesExp := (uint64(1) << w.exponentWidth) - 1
	if expRaw == allOnesExp {
		if fracRaw == 0 {
			return TypeInfinity, sign, Unpacked{Sign: sign, Exponent: 1000000, Mantissa: 1}
		}
		topFracBit := uint(w.explicitMantissaWidth - 1)
		isQuiet := (fracRaw>>topFracBit)&1 != 0
		if isQuiet {
			return TypeQNaN, sign, Unpacked{Sign: sign}
		}
		return TypeSNaN, sign, Unpacked{Sign: sign}
	}

	exp := int(expRaw) - w.exponentBias - w.explicitMantissaWidth
	frac := fracRaw | w.implicitLeadingBit
	return TypeNonzero, sign, Unpacked{Sign: sign, Exponent: exp, Mantissa: frac}
}

// Unpack32 decodes a raw single-precision bit pattern into its FPType,
// sign, and unpacked (sign, exponent, mantissa) representation, raising
// FPExc.InputDenorm as a side effect on a flushed denormal input.
func Unpack32(op uint32, fpcr FPCR, fpsr *FPSR) (Type, bool, Unpacked) {
	return unpack(uint64(op), info32, fpcr, fpsr)
}

// Unpack64 is Unpack32 for double-precision operands.
func Unpack64(op uint64, fpcr FPCR, fpsr *FPSR) (Type, bool, Unpacked) {
	return unpack(op, info64, fpcr, fpsr)
}
