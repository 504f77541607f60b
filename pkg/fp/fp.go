// Package fp is the guest floating-point reference library: IEEE-754
// semantics with the ARM extensions (FPCR/FPSR, default-NaN, flush-to-zero,
// fused multiply-add with a 128-bit intermediate) that the optimizer's
// constant-propagation pass and a handful of directly-lowered IR opcodes
// depend on (spec.md §4.8).
package fp

// Type classifies an unpacked operand.
type Type uint8

const (
	TypeNonzero Type = iota
	TypeZero
	TypeInfinity
	TypeQNaN
	TypeSNaN
)

// RoundingMode covers both FPCR.RMode's four encodings and the two extra
// modes used only as an explicit argument to specific operations rather
// than decoded from FPCR: RoundToNearestTiesAwayFromZero (FCVTA's rounding)
// and RoundToOdd (used internally by narrowing conversions to avoid double
// rounding). DecodeFPCR never produces the latter two.
type RoundingMode uint8

const (
	RoundToNearestTiesToEven RoundingMode = iota
	RoundTowardsPlusInfinity
	RoundTowardsMinusInfinity
	RoundTowardsZero
	RoundToNearestTiesAwayFromZero
	RoundToOdd
)

// Exception is one of the six IEEE/ARM floating-point exception classes.
type Exception uint8

const (
	ExcInvalidOp Exception = iota
	ExcDivideByZero
	ExcOverflow
	ExcUnderflow
	ExcInexact
	ExcInputDenorm
)

// FPCR is the guest Floating-Point Control Register, decoded field by
// field exactly as A64's FPCR (spec.md treats A32's FPSCR mode bits as the
// same logical fields, packed differently by state.State.Fpscr).
type FPCR struct {
	AHP   bool
	DN    bool // default-NaN mode
	FZ    bool // flush-to-zero (normal precision)
	FZ16  bool // flush-to-zero (half precision)
	RMode RoundingMode
	IDE   bool
	IXE   bool
	UFE   bool
	OFE   bool
	DZE   bool
	IOE   bool
}

// DecodeFPCR unpacks a raw 32-bit FPCR value per the A64 bit layout.
func DecodeFPCR(raw uint32) FPCR {
	return FPCR{
		AHP:   raw&(1<<26) != 0,
		DN:    raw&(1<<25) != 0,
		FZ:    raw&(1<<24) != 0,
		RMode: RoundingMode((raw >> 22) & 0x3),
		FZ16:  raw&(1<<19) != 0,
		IDE:   raw&(1<<15) != 0,
		IXE:   raw&(1<<12) != 0,
		UFE:   raw&(1<<11) != 0,
		OFE:   raw&(1<<10) != 0,
		DZE:   raw&(1<<9) != 0,
		IOE:   raw&(1<<8) != 0,
	}
}

// FPSR is the guest Floating-Point Status Register: the cumulative
// exception flags this library sets as a side effect of every operation.
type FPSR struct {
	IOC, DZC, OFC, UFC, IXC, IDC bool
	QC                           bool
}

func (s *FPSR) set(e Exception) {
	switch e {
	case ExcInvalidOp:
		s.IOC = true
	case ExcDivideByZero:
		s.DZC = true
	case ExcOverflow:
		s.OFC = true
	case ExcUnderflow:
		s.UFC = true
	case ExcInexact:
		s.IXC = true
	case ExcInputDenorm:
		s.IDC = true
	}
}

// ProcessException raises exception under fpcr/fpsr. A host application
// that enabled exception traps (fpcr's corresponding *E bit) would trap
// here in the reference implementation (`UNIMPLEMENTED()`); this port
// never enables trapping, matching the conservative SetFpscr decision
// recorded in DESIGN.md, so it always just sets the cumulative bit.
func ProcessException(e Exception, fpcr FPCR, fpsr *FPSR) {
	fpsr.set(e)
}

// Unpacked is value = (sign ? -1 : +1) * mantissa * 2^exponent, with
// mantissa always carried in a 64-bit field regardless of the packed
// format's width (ported from FPUnpacked<u64> in the reference
// implementation, which uses the same widening for both single and double
// precision operands).
type Unpacked struct {
	Sign     bool
	Exponent int
	Mantissa uint64
}
