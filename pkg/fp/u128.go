package fp

import "math/bits"

// u128 is a 128-bit unsigned integer (Hi holds the most-significant 64
// bits), the Go stand-in for the reference implementation's own u128
// helper type, built on math/bits instead of compiler intrinsics.
type u128 struct {
	Hi, Lo uint64
}

func mul64To128(a, b uint64) u128 {
	hi, lo := bits.Mul64(a, b)
	return u128{Hi: hi, Lo: lo}
}

func (v u128) add(o u128) u128 {
	lo, carry := bits.Add64(v.Lo, o.Lo, 0)
	hi, _ := bits.Add64(v.Hi, o.Hi, carry)
	return u128{Hi: hi, Lo: lo}
}

func (v u128) addU64(o uint64) u128 {
	return v.add(u128{Lo: o})
}

// sub computes v-o, assuming v>=o (the only case this package needs).
func (v u128) sub(o u128) u128 {
	lo, borrow := bits.Sub64(v.Lo, o.Lo, 0)
	hi, _ := bits.Sub64(v.Hi, o.Hi, borrow)
	return u128{Hi: hi, Lo: lo}
}

func (v u128) cmp(o u128) int {
	switch {
	case v.Hi != o.Hi:
		if v.Hi < o.Hi {
			return -1
		}
		return 1
	case v.Lo != o.Lo:
		if v.Lo < o.Lo {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (v u128) isZero() bool { return v.Hi == 0 && v.Lo == 0 }

// bit reports the value of bit position pos (0 = least significant).
func (v u128) bit(pos int) bool {
	if pos >= 64 {
		return (v.Hi>>(uint(pos)-64))&1 != 0
	}
	return (v.Lo>>uint(pos))&1 != 0
}

func (v u128) shiftLeft(n int) u128 {
	switch {
	case n <= 0:
		return v
	case n >= 128:
		return u128{}
	case n < 64:
		return u128{
			Hi: (v.Hi << uint(n)) | (v.Lo >> uint(64-n)),
			Lo: v.Lo << uint(n),
		}
	default:
		return u128{Hi: v.Lo << uint(n-64)}
	}
}

// shiftRightSticky shifts v right by n bits, OR-ing the least-significant
// result bit with 1 if any bit shifted out was set — the "sticky" rounding
// bit the reference implementation threads through FPRoundBase and
// FusedMulAdd via Safe::LogicalShiftRightDouble / StickyLogicalShiftRight.
func (v u128) shiftRightSticky(n int) u128 {
	switch {
	case n <= 0:
		return v
	case n >= 128:
		sticky := uint64(0)
		if !v.isZero() {
			sticky = 1
		}
		return u128{Lo: sticky}
	case n < 64:
		mask := (uint64(1) << uint(n)) - 1
		sticky := v.Lo & mask
		out := u128{
			Hi: v.Hi >> uint(n),
			Lo: (v.Lo >> uint(n)) | (v.Hi << uint(64-n)),
		}
		if sticky != 0 {
			out.Lo |= 1
		}
		return out
	default:
		s := n - 64
		mask := uint64(0)
		if s < 64 {
			mask = (uint64(1) << uint(s)) - 1
		} else {
			mask = ^uint64(0)
		}
		stickyFromHi := v.Hi & mask
		stickyFromLo := v.Lo != 0
		var shiftedHi uint64
		if s < 64 {
			shiftedHi = v.Hi >> uint(s)
		}
		out := u128{Lo: shiftedHi}
		if stickyFromHi != 0 || stickyFromLo {
			out.Lo |= 1
		}
		return out
	}
}
