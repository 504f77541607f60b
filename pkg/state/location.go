// Package state holds the per-JIT guest CPU state record and the location
// descriptor used to key translated blocks.
package state

// Arch selects the guest instruction set a LocationDescriptor decodes under.
type Arch uint8

const (
	ArchA32 Arch = iota
	ArchA64
)

func (a Arch) String() string {
	if a == ArchA64 {
		return "A64"
	}
	return "A32"
}

// Descriptor uniquely identifies a translation context: the guest PC plus
// every bit of architectural state that affects decoding. Two guest states
// that would decode to different IR must produce different descriptors.
//
// Bit layout (low to high):
//
//	[0:32)  PC (low 32 bits; A64 uses the full virtual address space but
//	        blocks never straddle a 4GiB boundary difference in practice,
//	        so the low 32 bits plus the Arch/mode bits below are sufficient
//	        to disambiguate within one JIT instance's address space)
//	[32]    Thumb
//	[33:41) IT-state (8 bits, A32 Thumb only)
//	[41:43) FPCR rounding mode (2 bits that affect constant folding)
//	[43]    FZ (flush-to-zero)
//	[44]    big-endian
//	[45]    single-step
//	[46]    Arch (0=A32, 1=A64)
//	[47:64) PC high bits (A64 only)
type Descriptor uint64

const (
	descPCLowBits     = 32
	descPCLowMask     = (uint64(1) << descPCLowBits) - 1
	descThumbShift    = 32
	descITShift       = 33
	descITMask        = 0xFF
	descRoundShift    = 41
	descRoundMask     = 0x3
	descFZShift       = 43
	descBEShift       = 44
	descSingleStep    = 45
	descArchShift     = 46
	descPCHighShift   = 47
	descPCHighBits    = 17
	descPCHighMask    = (uint64(1) << descPCHighBits) - 1
)

// NewDescriptor builds a Descriptor from the pieces of architectural state
// that affect decoding.
func NewDescriptor(arch Arch, pc uint64, thumb bool, itState uint8, roundMode uint8, fz, bigEndian, singleStep bool) Descriptor {
	var d uint64
	d |= pc & descPCLowMask
	if arch == ArchA64 {
		d |= ((pc >> descPCLowBits) & descPCHighMask) << descPCHighShift
		d |= uint64(1) << descArchShift
	}
	if thumb {
		d |= 1 << descThumbShift
	}
	d |= uint64(itState&descITMask) << descITShift
	d |= uint64(roundMode&descRoundMask) << descRoundShift
	if fz {
		d |= 1 << descFZShift
	}
	if bigEndian {
		d |= 1 << descBEShift
	}
	if singleStep {
		d |= 1 << descSingleStep
	}
	return Descriptor(d)
}

// PC reconstructs the full guest program counter encoded in the descriptor.
func (d Descriptor) PC() uint64 {
	low := uint64(d) & descPCLowMask
	if d.Arch() == ArchA64 {
		high := (uint64(d) >> descPCHighShift) & descPCHighMask
		return low | (high << descPCLowBits)
	}
	return low
}

func (d Descriptor) Arch() Arch {
	if (uint64(d)>>descArchShift)&1 != 0 {
		return ArchA64
	}
	return ArchA32
}

func (d Descriptor) Thumb() bool { return (uint64(d)>>descThumbShift)&1 != 0 }

func (d Descriptor) ITState() uint8 { return uint8((uint64(d) >> descITShift) & descITMask) }

func (d Descriptor) RoundMode() uint8 { return uint8((uint64(d) >> descRoundShift) & descRoundMask) }

func (d Descriptor) FlushToZero() bool { return (uint64(d)>>descFZShift)&1 != 0 }

func (d Descriptor) BigEndian() bool { return (uint64(d)>>descBEShift)&1 != 0 }

func (d Descriptor) SingleStep() bool { return (uint64(d)>>descSingleStep)&1 != 0 }

// WithIT returns a copy of d with a new IT-state, used by the frontend as it
// advances through a Thumb IT block instruction by instruction.
func (d Descriptor) WithIT(it uint8) Descriptor {
	cleared := uint64(d) &^ (uint64(descITMask) << descITShift)
	return Descriptor(cleared | uint64(it&descITMask)<<descITShift)
}

// WithPC returns a copy of d at a new PC, same decode-affecting state.
func (d Descriptor) WithPC(pc uint64) Descriptor {
	arch := d.Arch()
	return NewDescriptor(arch, pc, d.Thumb(), d.ITState(), d.RoundMode(), d.FlushToZero(), d.BigEndian(), d.SingleStep())
}
