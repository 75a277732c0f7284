package vm

import (
	"context"
	"runtime"
	"sync"
	"testing"
)

func TestStopTheWorldAlone(t *testing.T) {
	v := newTestVM(t)
	s := NewSafepointCoordinator()
	s.Register()
	defer s.Unregister()

	ran := false
	if !s.StopTheWorld(v.NewInterpreter(0), func() { ran = true }) || !ran {
		t.Fatal("StopTheWorld did not run fn")
	}
	if s.Stops() != 1 {
		t.Errorf("Stops = %d", s.Stops())
	}
	if s.Poll() {
		t.Error("Poll parked with no stop pending")
	}
}

func TestStopTheWorldParksOtherCores(t *testing.T) {
	v := newTestVM(t)
	s := NewSafepointCoordinator()
	s.Register()
	s.Register()

	var wg sync.WaitGroup
	parked := false
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.Unregister()
		for {
			if s.Poll() {
				parked = true
				return
			}
			select {
			case <-stop:
				return
			default:
				runtime.Gosched()
			}
		}
	}()

	worldStopped := false
	s.StopTheWorld(v.NewInterpreter(0), func() { worldStopped = true })
	close(stop)
	wg.Wait()
	s.Unregister()

	if !worldStopped || !parked {
		t.Errorf("fn ran = %v, other core parked = %v", worldStopped, parked)
	}
	if s.Registered() != 0 {
		t.Errorf("Registered = %d", s.Registered())
	}
}

func TestUnregisterReleasesPendingStop(t *testing.T) {
	v := newTestVM(t)
	s := NewSafepointCoordinator()
	s.Register()
	s.Register()

	done := make(chan bool)
	go func() {
		done <- s.StopTheWorld(v.NewInterpreter(0), func() {})
	}()
	// The other core leaves instead of parking.
	s.Unregister()
	if !<-done {
		t.Error("StopTheWorld did not run")
	}
	s.Unregister()
}

// installFill installs Driver>>fill:
//
//	fill: arr
//		| k |
//		k := 1.
//		[k <= arr size] whileTrue: [arr at: k put: {k. k * 2}. k := k + 1].
//		^ arr
func installFill(v *VM, drv *Behavior) {
	b := NewMethodBuilder(v, 1, 2).PushInt(1).PopIntoTemp(1)
	loop, done := b.NewLabel(), b.NewLabel()
	b.Mark(loop).
		PushTemp(1).PushTemp(0).Send("size", 0).Send("<=", 1).JumpIfFalse(done).
		PushTemp(0).PushTemp(1).
		PushTemp(1).PushTemp(1).PushInt(2).Send("*", 1).PushNewArray(2, true).
		Send("at:put:", 2).Pop().
		PushTemp(1).PushInt(1).Send("+", 1).PopIntoTemp(1).
		Jump(loop).
		Mark(done).
		PushTemp(0).ReturnTop().
		MustInstall(drv, "fill:")
}

func checkFilled(t *testing.T, v *VM, arr Oop, n int) {
	t.Helper()
	got := elements(t, v, arr)
	if len(got) != n {
		t.Fatalf("%d elements, want %d", len(got), n)
	}
	for k, e := range got {
		pair := elements(t, v, e)
		if len(pair) != 2 || pair[0] != FromInt(int64(k+1)) || pair[1] != FromInt(int64(2*k+2)) {
			t.Fatalf("element %d = %s", k+1, v.Describe(e))
		}
	}
}

func TestRelocationDuringExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assertions = true
	cfg.RelocateEvery = 16
	cfg.InterruptCheckInterval = 1
	v := NewVM(cfg)
	drv := defineDriver(v)
	installFill(v, drv)

	const n = 200
	arr := v.NewArray(make([]Oop, n)...)
	i := v.NewInterpreter(0)
	if _, err := i.Send(context.Background(), v.NewInstance(drv, 0), "fill:", arr); err != nil {
		t.Fatal(err)
	}
	if v.Heap.Relocations() == 0 {
		t.Fatal("no relocation happened")
	}
	checkFilled(t, v, arr, n)

	// The interpreter keeps working on the relocated heap.
	arr = v.NewArray(make([]Oop, n)...)
	if _, err := i.Send(context.Background(), v.NewInstance(drv, 0), "fill:", arr); err != nil {
		t.Fatal(err)
	}
	checkFilled(t, v, arr, n)
}
