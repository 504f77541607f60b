package backend

import (
	"unsafe"

	"github.com/oisee/armjit/pkg/state"
)

// StateOffsets gives both backends the same byte offsets into pkg/state.State
// for the fields GetRegister/SetRegister-family opcodes address directly,
// the Go analogue of the host assembler computing `offsetof(JitState, ...)`
// once and baking it into every emitted load/store.
type StateOffsets struct {
	GPR32Base  uintptr
	GPR64Base  uintptr
	SP64       uintptr
	VecBase    uintptr
	NZCV       uintptr
	FPCR       uintptr
	FPSR       uintptr
	HaltReason uintptr
}

// Offsets is computed once; pkg/state.State's layout is fixed for the
// lifetime of a build, so every backend instance shares it.
var Offsets = StateOffsets{
	GPR32Base: unsafe.Offsetof(state.State{}.GPR32),
	GPR64Base: unsafe.Offsetof(state.State{}.GPR64),
	SP64:      unsafe.Offsetof(state.State{}.SP64),
	VecBase:   unsafe.Offsetof(state.State{}.Vec),
	NZCV:      unsafe.Offsetof(state.State{}.NZCV),
	FPCR:      unsafe.Offsetof(state.State{}.FPCR),
	FPSR:      unsafe.Offsetof(state.State{}.FPSR),
}

// GPR32Offset is the byte offset of GPR32[n] within State.
func (o StateOffsets) GPR32Offset(n int) uintptr { return o.GPR32Base + uintptr(n)*4 }

// GPR64Offset is the byte offset of GPR64[n] within State.
func (o StateOffsets) GPR64Offset(n int) uintptr { return o.GPR64Base + uintptr(n)*8 }

// VecOffset is the byte offset of Vec[n] within State (each VecReg is 16 bytes).
func (o StateOffsets) VecOffset(n int) uintptr { return o.VecBase + uintptr(n)*16 }
