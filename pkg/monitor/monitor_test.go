package monitor

import "testing"

func TestDoExclusiveOperationSucceedsWhenReservationIntact(t *testing.T) {
	m := NewGlobalMonitor()
	m.ReadAndMark(0, 0x1000, 4)

	ran := false
	ok := m.DoExclusiveOperation(0, 0x1000, 4, func() bool {
		ran = true
		return true
	})
	if !ok || !ran {
		t.Fatalf("DoExclusiveOperation = (%v, ran=%v), want (true, true)", ok, ran)
	}
}

func TestDoExclusiveOperationFailsWithoutReservation(t *testing.T) {
	m := NewGlobalMonitor()
	ok := m.DoExclusiveOperation(0, 0x1000, 4, func() bool { return true })
	if ok {
		t.Fatal("DoExclusiveOperation succeeded with no prior ReadAndMark")
	}
}

func TestDoExclusiveOperationBreaksOtherProcessorsOverlappingReservation(t *testing.T) {
	m := NewGlobalMonitor()
	m.ReadAndMark(0, 0x1000, 4)
	m.ReadAndMark(1, 0x1000, 4)

	if !m.DoExclusiveOperation(0, 0x1000, 4, func() bool { return true }) {
		t.Fatal("processor 0's exclusive store failed")
	}
	if m.DoExclusiveOperation(1, 0x1000, 4, func() bool { return true }) {
		t.Fatal("processor 1's reservation should have been broken by processor 0's store")
	}
}

func TestDoExclusiveOperationConsumesReservationEvenOnMismatch(t *testing.T) {
	m := NewGlobalMonitor()
	m.ReadAndMark(0, 0x1000, 4)

	if m.DoExclusiveOperation(0, 0x2000, 4, func() bool { return true }) {
		t.Fatal("DoExclusiveOperation succeeded against a different address")
	}
	if m.DoExclusiveOperation(0, 0x1000, 4, func() bool { return true }) {
		t.Fatal("reservation should be consumed after the first attempt, matching STREX's one-shot semantics")
	}
}

func TestClearProcessorReleasesReservation(t *testing.T) {
	m := NewGlobalMonitor()
	m.ReadAndMark(0, 0x1000, 4)
	m.ClearProcessor(0)

	if m.DoExclusiveOperation(0, 0x1000, 4, func() bool { return true }) {
		t.Fatal("DoExclusiveOperation succeeded after ClearProcessor")
	}
}
