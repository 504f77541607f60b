package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/oisee/armjit/pkg/backend"
)

// resolveLocalBranches patches every intra-block Relocation (If/CheckBit's
// conditional-vs-taken edges) now that both sides have been emitted and
// every label's final byte offset is known — the same label-then-patch
// sequencing _examples/other_examples' jit-arm64 codegen uses in its own
// resolveRelocations, just split out so BlockRelocations (which cross a
// whole other guest block's translation, resolved later by pkg/codecache)
// aren't touched here.
func resolveLocalBranches(code []byte, relocs []backend.Relocation) error {
	for _, r := range relocs {
		delta := r.Target - r.Offset
		if delta%4 != 0 {
			return fmt.Errorf("arm64: branch offset %d not word-aligned", delta)
		}
		words := int32(delta / 4)
		word := binary.LittleEndian.Uint32(code[r.Offset:])
		switch r.Kind {
		case backend.RelocBranchArm64:
			if words < -0x2000000 || words > 0x1FFFFFF {
				return fmt.Errorf("arm64: branch offset %d out of range", words)
			}
			word = word&0xFC000000 | uint32(words)&0x3FFFFFF
		case backend.RelocBranch19Arm64:
			if words < -0x40000 || words > 0x3FFFF {
				return fmt.Errorf("arm64: conditional branch offset %d out of range", words)
			}
			word = word&0xFF00001F | (uint32(words)&0x7FFFF)<<5
		default:
			return fmt.Errorf("arm64: unexpected relocation kind %v", r.Kind)
		}
		binary.LittleEndian.PutUint32(code[r.Offset:], word)
	}
	return nil
}
