package faultmem

import "testing"

func TestLookupFindsRegisteredRange(t *testing.T) {
	r := &Registry{}
	want := FakeCall{CallRIP: 0x4000, RetRIP: 0x4010}
	r.AddCodeBlock(0x1000, 0x2000, func(pc uintptr) FakeCall { return want })

	cb := r.Lookup(0x1500)
	if cb == nil {
		t.Fatal("Lookup found no callback for an address inside the registered range")
	}
	if got := cb(0x1500); got != want {
		t.Fatalf("callback returned %+v, want %+v", got, want)
	}
}

func TestLookupMissOutsideRange(t *testing.T) {
	r := &Registry{}
	r.AddCodeBlock(0x1000, 0x2000, func(uintptr) FakeCall { return FakeCall{} })

	if cb := r.Lookup(0x2000); cb != nil {
		t.Fatal("Lookup matched an address at the exclusive upper bound")
	}
	if cb := r.Lookup(0x0FFF); cb != nil {
		t.Fatal("Lookup matched an address below the range")
	}
}

func TestRemoveCodeBlockUnregisters(t *testing.T) {
	r := &Registry{}
	r.AddCodeBlock(0x1000, 0x2000, func(uintptr) FakeCall { return FakeCall{} })
	r.RemoveCodeBlock(0x1000, 0x2000)

	if cb := r.Lookup(0x1500); cb != nil {
		t.Fatal("Lookup still found a callback after RemoveCodeBlock")
	}
}

func TestSimulatedFaultSourceInjectsFault(t *testing.T) {
	r := &Registry{}
	want := FakeCall{CallRIP: 0x9000, RetRIP: 0x9008}
	r.AddCodeBlock(0x1000, 0x2000, func(pc uintptr) FakeCall { return want })

	src := &SimulatedFaultSource{Registry: r, FaultAt: 0x1800}
	ran := false
	fc, faulted := src.Guard(func() { ran = true })
	if !faulted {
		t.Fatal("Guard reported no fault for a registered FaultAt address")
	}
	if ran {
		t.Fatal("Guard ran fn's body despite an injected fault")
	}
	if fc != want {
		t.Fatalf("Guard returned %+v, want %+v", fc, want)
	}
}

func TestSimulatedFaultSourceRunsNormallyWithoutFault(t *testing.T) {
	src := &SimulatedFaultSource{Registry: &Registry{}}
	ran := false
	_, faulted := src.Guard(func() { ran = true })
	if faulted {
		t.Fatal("Guard reported a fault with a zero FaultAt")
	}
	if !ran {
		t.Fatal("Guard did not run fn's body")
	}
}

func TestPanicOnFaultSourceRecoversRegisteredFault(t *testing.T) {
	r := &Registry{}
	want := FakeCall{CallRIP: 0x3000, RetRIP: 0x3004}
	r.AddCodeBlock(0x1000, 0x2000, func(pc uintptr) FakeCall { return want })

	src := NewPanicOnFaultSource(r, func(recovered any) (uintptr, bool) {
		pc, ok := recovered.(uintptr)
		return pc, ok
	})

	fc, faulted := src.Guard(func() { panic(uintptr(0x1800)) })
	if !faulted {
		t.Fatal("Guard did not recognize the injected panic as a fault")
	}
	if fc != want {
		t.Fatalf("Guard returned %+v, want %+v", fc, want)
	}
}

func TestPanicOnFaultSourceRepanicsUnregisteredFault(t *testing.T) {
	src := NewPanicOnFaultSource(&Registry{}, func(recovered any) (uintptr, bool) {
		pc, ok := recovered.(uintptr)
		return pc, ok
	})

	defer func() {
		if recover() == nil {
			t.Fatal("Guard swallowed a fault no registered block claims")
		}
	}()
	src.Guard(func() { panic(uintptr(0xDEAD)) })
}
