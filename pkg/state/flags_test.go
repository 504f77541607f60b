package state

import "testing"

func TestConditionPassesBasicCases(t *testing.T) {
	zero := packNZCV(false, true, false, false)
	if !ConditionPasses(CondEQ, zero) {
		t.Error("EQ should pass when Z is set")
	}
	if ConditionPasses(CondNE, zero) {
		t.Error("NE should not pass when Z is set")
	}

	nzcv := packNZCV(true, false, false, false)
	if !ConditionPasses(CondMI, nzcv) {
		t.Error("MI should pass when N is set")
	}
	if !ConditionPasses(CondLT, nzcv) {
		t.Error("LT should pass when N!=V")
	}
}

func TestConditionALAlwaysPasses(t *testing.T) {
	for nzcv := 0; nzcv < 16; nzcv++ {
		if !ConditionPasses(CondAL, uint32(nzcv)<<28) {
			t.Errorf("AL should always pass, failed for nzcv=%d", nzcv)
		}
	}
}

func TestAddWithFlagsDetectsCarryAndOverflow(t *testing.T) {
	result, nzcv := AddWithFlags(0xFFFFFFFF, 1, false)
	if result != 0 {
		t.Errorf("result = %#x, want 0", result)
	}
	if nzcv&FlagC == 0 {
		t.Error("expected carry out of 0xFFFFFFFF+1")
	}
	if nzcv&FlagZ == 0 {
		t.Error("expected zero flag for wraparound to 0")
	}

	result, nzcv = AddWithFlags(0x7FFFFFFF, 1, false)
	if result != 0x80000000 {
		t.Errorf("result = %#x, want 0x80000000", result)
	}
	if nzcv&FlagV == 0 {
		t.Error("expected signed overflow adding 1 to INT32_MAX")
	}
	if nzcv&FlagN == 0 {
		t.Error("expected negative result")
	}
}

func TestSubWithFlagsNoBorrow(t *testing.T) {
	result, nzcv := SubWithFlags(5, 3, true)
	if result != 2 {
		t.Errorf("result = %d, want 2", result)
	}
	if nzcv&FlagC == 0 {
		t.Error("expected carry set (no borrow) for 5-3")
	}
}

func TestSubWithFlagsBorrow(t *testing.T) {
	result, nzcv := SubWithFlags(3, 5, true)
	if result != 0xFFFFFFFE {
		t.Errorf("result = %#x, want 0xfffffffe", result)
	}
	if nzcv&FlagC != 0 {
		t.Error("expected carry clear (borrow occurred) for 3-5")
	}
}
