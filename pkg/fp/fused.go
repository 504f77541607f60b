package fp

// normalizedPointPosition is the fixed mantissa bit-position FusedMulAdd's
// internal 128-bit arithmetic normalizes every operand to before
// multiplying or aligning, so that the product and the addend can be
// compared and combined as plain fixed-point values (ported from fused.cpp,
// where both FusedMulAdd and FPRecipEstimate share the same constant).
const normalizedPointPosition = 62
const productPointPosition = normalizedPointPosition * 2

// normalizeUnpacked left-shifts op's mantissa so its highest set bit sits
// at normalizedPointPosition, compensating the exponent to match.
func normalizeUnpacked(op Unpacked) Unpacked {
	highestBit := highestSetBit(op.Mantissa)
	offset := normalizedPointPosition - highestBit
	op.Mantissa <<= uint(offset)
	op.Exponent -= offset
	return op
}

// fusedMulAdd computes addend + op1*op2 to infinite precision and returns
// the unrounded, unpacked result (ported from FusedMulAdd in fused.cpp).
// Callers must round the result themselves; a zero addend, or a zero
// product, is returned as-is rather than specially flagged, matching the
// reference implementation's contract.
func fusedMulAdd(addend, op1, op2 Unpacked) Unpacked {
	addend = normalizeUnpacked(addend)
	op1 = normalizeUnpacked(op1)
	op2 = normalizeUnpacked(op2)

	productSign := op1.Sign != op2.Sign
	productExponent := op1.Exponent + op2.Exponent
	productValue := mul64To128(op1.Mantissa, op2.Mantissa)
	if productValue.bit(productPointPosition + 1) {
		productValue = productValue.shiftRightSticky(1)
		productExponent++
	}

	if productValue.isZero() {
		return addend
	}

	if addend.Mantissa == 0 {
		return Unpacked{
			Sign:     productSign,
			Exponent: productExponent + 64,
			Mantissa: productValue.Hi | stickyBit(productValue.Lo != 0),
		}
	}

	expDiff := productExponent - (addend.Exponent - normalizedPointPosition)

	if productSign == addend.Sign {
		if expDiff <= 0 {
			shifted := productValue.shiftRightSticky(normalizedPointPosition - expDiff)
			result := addend.Mantissa + shifted.Lo
			return Unpacked{Sign: addend.Sign, Exponent: addend.Exponent, Mantissa: result}
		}
		addendShifted := u128{Lo: addend.Mantissa}.shiftRightSticky(expDiff - normalizedPointPosition)
		result := productValue.add(addendShifted)
		return Unpacked{
			Sign:     productSign,
			Exponent: productExponent + 64,
			Mantissa: result.Hi | stickyBit(result.Lo != 0),
		}
	}

	// Subtraction.
	addendLong := u128{Lo: addend.Mantissa}.shiftLeft(normalizedPointPosition)

	var resultSign bool
	var result u128
	var resultExponent int

	switch {
	case expDiff == 0 && productValue.cmp(addendLong) > 0:
		resultSign = productSign
		resultExponent = productExponent
		result = productValue.sub(addendLong)
	case expDiff <= 0:
		resultSign = !productSign
		resultExponent = addend.Exponent - normalizedPointPosition
		result = addendLong.sub(productValue.shiftRightSticky(-expDiff))
	default:
		resultSign = productSign
		resultExponent = productExponent
		result = productValue.sub(addendLong.shiftRightSticky(expDiff))
	}

	if result.Hi == 0 {
		return Unpacked{Sign: resultSign, Exponent: resultExponent, Mantissa: result.Lo}
	}

	requiredShift := normalizedPointPosition - highestSetBit(result.Hi)
	result = result.shiftLeft(requiredShift)
	resultExponent -= requiredShift
	return Unpacked{
		Sign:     resultSign,
		Exponent: resultExponent + 64,
		Mantissa: result.Hi | stickyBit(result.Lo != 0),
	}
}

func stickyBit(nonzero bool) uint64 {
	if nonzero {
		return 1
	}
	return 0
}

// FPMulAdd32 implements FMADD/VMLA's fused-multiply-add: addend + op1*op2
// rounded once, with ARM's NaN-propagation and infinity/zero special cases
// applied before the fused arithmetic runs.
func FPMulAdd32(addend, op1, op2 uint32, fpcr FPCR, fpsr *FPSR) uint32 {
	at, asign, aval := Unpack32(addend, fpcr, fpsr)
	t1, s1, v1 := Unpack32(op1, fpcr, fpsr)
	t2, s2, v2 := Unpack32(op2, fpcr, fpsr)

	if nt, nb, isNaN := pickNaN32(t1, op1, t2, op2); isNaN {
		if nt2, nb2, isNaN2 := pickNaN32(nt, nb, at, addend); isNaN2 {
			return ProcessNaN32(nt2, nb2, fpcr, fpsr)
		}
	} else if at == TypeQNaN || at == TypeSNaN {
		return ProcessNaN32(at, addend, fpcr, fpsr)
	}

	productIsZeroTimesInf := (t1 == TypeInfinity && t2 == TypeZero) || (t1 == TypeZero && t2 == TypeInfinity)
	if productIsZeroTimesInf {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN32()
	}

	productSign := s1 != s2
	productIsInf := t1 == TypeInfinity || t2 == TypeInfinity
	if productIsInf || at == TypeInfinity {
		if at == TypeInfinity && productIsInf && asign != productSign {
			ProcessException(ExcInvalidOp, fpcr, fpsr)
			return DefaultNaN32()
		}
		sign := productSign
		if at == TypeInfinity {
			sign = asign
		}
		return uint32(info32.infinity(sign))
	}

	if at == TypeZero && (t1 == TypeZero || t2 == TypeZero) {
		if asign == productSign {
			return uint32(info32.zero(asign))
		}
		if fpcr.RMode == RoundTowardsMinusInfinity {
			return uint32(info32.zero(true))
		}
		return uint32(info32.zero(false))
	}

	result := fusedMulAdd(aval, v1, v2)
	if result.Mantissa == 0 {
		return uint32(info32.zero(result.Sign))
	}
	return Round32(result, fpcr, fpcr.RMode, fpsr)
}

// FPMulAdd64 is FPMulAdd32 for double precision.
func FPMulAdd64(addend, op1, op2 uint64, fpcr FPCR, fpsr *FPSR) uint64 {
	at, asign, aval := Unpack64(addend, fpcr, fpsr)
	t1, s1, v1 := Unpack64(op1, fpcr, fpsr)
	t2, s2, v2 := Unpack64(op2, fpcr, fpsr)

	if nt, nb, isNaN := pickNaN64(t1, op1, t2, op2); isNaN {
		if nt2, nb2, isNaN2 := pickNaN64(nt, nb, at, addend); isNaN2 {
			return ProcessNaN64(nt2, nb2, fpcr, fpsr)
		}
	} else if at == TypeQNaN || at == TypeSNaN {
		return ProcessNaN64(at, addend, fpcr, fpsr)
	}

	productIsZeroTimesInf := (t1 == TypeInfinity && t2 == TypeZero) || (t1 == TypeZero && t2 == TypeInfinity)
	if productIsZeroTimesInf {
		ProcessException(ExcInvalidOp, fpcr, fpsr)
		return DefaultNaN64()
	}

	productSign := s1 != s2
	productIsInf := t1 == TypeInfinity || t2 == TypeInfinity
	if productIsInf || at == TypeInfinity {
		if at == TypeInfinity && productIsInf && asign != productSign {
			ProcessException(ExcInvalidOp, fpcr, fpsr)
			return DefaultNaN64()
		}
		sign := productSign
		if at == TypeInfinity {
			sign = asign
		}
		return info64.infinity(sign)
	}

	if at == TypeZero && (t1 == TypeZero || t2 == TypeZero) {
		if asign == productSign {
			return info64.zero(asign)
		}
		if fpcr.RMode == RoundTowardsMinusInfinity {
			return info64.zero(true)
		}
		return info64.zero(false)
	}

	result := fusedMulAdd(aval, v1, v2)
	if result.Mantissa == 0 {
		return info64.zero(result.Sign)
	}
	return Round64(result, fpcr, fpcr.RMode, fpsr)
}
