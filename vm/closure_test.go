package vm

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// installCapture installs Driver>>capture:with:
//
//	capture: a with: b  ^ [:x | {a. b. x}]
func installCapture(v *VM, drv *Behavior) {
	b := NewMethodBuilder(v, 2, 2).PushTemp(0).PushTemp(1)
	block := b.BeginClosure(1, 2)
	b.PushTemp(1).PushTemp(2).PushTemp(0).PushNewArray(3, true).BlockReturnTop()
	b.EndClosure(block).ReturnTop().MustInstall(drv, "capture:with:")
}

func TestClosureCopiedValues(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	installCapture(v, drv)

	closure := send(t, v, v.NewInstance(drv, 0), "capture:with:", FromInt(1), FromInt(2))
	if v.BehaviorOf(closure) != v.Special.BlockClosureClass {
		t.Fatalf("capture:with: answered a %s", v.ClassNameOf(closure))
	}
	wantInt(t, send(t, v, closure, "numArgs"), 1)

	// The home frame has returned; the closure still runs.
	got := elements(t, v, send(t, v, closure, "value:", FromInt(3)))
	for k, want := range []int64{1, 2, 3} {
		wantInt(t, got[k], want)
	}

	got = elements(t, v, send(t, v, closure, "valueWithArguments:", v.NewArray(FromInt(9))))
	wantInt(t, got[2], 9)

	mustFatal(t, sendErr(t, v, closure, "value"), "primitive failed in BlockClosure")
	mustFatal(t, sendErr(t, v, closure, "valueWithArguments:", v.NewArray()), "primitive failed")
}

func TestClosureCapturePreservesOrder(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	installCapture(v, drv)
	rcvr := v.NewInstance(drv, 0)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("block sees copied values then its argument", prop.ForAll(
		func(a, b, x int64) bool {
			closure := send(t, v, rcvr, "capture:with:", FromInt(a), FromInt(b))
			got := elements(t, v, send(t, v, closure, "value:", FromInt(x)))
			return len(got) == 3 && got[0] == FromInt(a) && got[1] == FromInt(b) && got[2] == FromInt(x)
		},
		gen.Int64Range(MinSmallInt, MaxSmallInt),
		gen.Int64Range(MinSmallInt, MaxSmallInt),
		gen.Int64Range(MinSmallInt, MaxSmallInt),
	))

	properties.TestingRun(t)
}

// installSum installs Driver>>sum:
//
//	sum: arr
//		| total |
//		total := 0.
//		arr do: [:e | total := total + e].
//		^ total
//
// total lives in a temp vector since the block writes it.
func installSum(v *VM, drv *Behavior) {
	b := NewMethodBuilder(v, 1, 2).
		PushNewArray(1, false).PopIntoTemp(1).
		PushInt(0).PopIntoRemoteTemp(0, 1).
		PushTemp(0).PushTemp(1)
	block := b.BeginClosure(1, 1)
	b.PushRemoteTemp(0, 1).PushTemp(0).Send("+", 1).StoreRemoteTemp(0, 1).BlockReturnTop()
	b.EndClosure(block).
		Send("do:", 1).Pop().
		PushRemoteTemp(0, 1).ReturnTop().
		MustInstall(drv, "sum:")
}

func TestDoWithRemoteTemps(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	installSum(v, drv)
	rcvr := v.NewInstance(drv, 0)

	tests := []struct {
		values []int64
		want   int64
	}{
		{nil, 0},
		{[]int64{5}, 5},
		{[]int64{1, 2, 3}, 6},
		{[]int64{-4, 10, 100, 7}, 113},
	}
	for _, tt := range tests {
		elems := make([]Oop, len(tt.values))
		for k, n := range tt.values {
			elems[k] = FromInt(n)
		}
		wantInt(t, send(t, v, rcvr, "sum:", v.NewArray(elems...)), tt.want)
	}
}

// installFind installs Driver>>find:
//
//	find: arr
//		arr do: [:e | e > 2 ifTrue: [^ e]].
//		^ nil
func installFind(v *VM, drv *Behavior) {
	b := NewMethodBuilder(v, 1, 1).PushTemp(0)
	block := b.BeginClosure(1, 0)
	skip := b.NewLabel()
	b.PushTemp(0).PushInt(2).Send(">", 1).JumpIfFalse(skip).
		PushTemp(0).ReturnTop().
		Mark(skip).
		PushNil().BlockReturnTop()
	b.EndClosure(block).
		Send("do:", 1).Pop().
		ReturnNil().
		MustInstall(drv, "find:")
}

func TestNonLocalReturn(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	installFind(v, drv)
	// callFind: arr  ^ (self find: arr) + 1000
	NewMethodBuilder(v, 1, 1).
		PushSelf().PushTemp(0).SendLiteral("find:", 1).PushInt(1000).Send("+", 1).ReturnTop().
		MustInstall(drv, "callFind:")
	rcvr := v.NewInstance(drv, 0)

	i := v.NewInterpreter(0)
	ctx := context.Background()
	tests := []struct {
		selector string
		arg      Oop
		want     any
	}{
		{"find:", v.NewArray(FromInt(1), FromInt(5), FromInt(3)), 5},
		{"find:", v.NewArray(FromInt(1), FromInt(2)), nil},
		{"callFind:", v.NewArray(FromInt(7)), 1007},
	}
	for _, tt := range tests {
		r, err := i.Send(ctx, rcvr, tt.selector, tt.arg)
		if err != nil {
			t.Fatalf("%s: %v", tt.selector, err)
		}
		checkValue(t, v, r, tt.want)
		if i.Depth() != 0 {
			t.Errorf("depth = %d after %s", i.Depth(), tt.selector)
		}
	}
}

func TestCannotReturnIsFatal(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	// escaper  ^ [:x | ^ x]
	b := NewMethodBuilder(v, 0, 0)
	block := b.BeginClosure(1, 0)
	b.PushTemp(0).ReturnTop()
	b.EndClosure(block).ReturnTop().MustInstall(drv, "escaper")
	// run  ^ self escaper value: 3
	NewMethodBuilder(v, 0, 0).
		PushSelf().SendLiteral("escaper", 0).PushInt(3).Send("value:", 1).ReturnTop().
		MustInstall(drv, "run")

	rcvr := v.NewInstance(drv, 0)
	closure := send(t, v, rcvr, "escaper")
	mustFatal(t, sendErr(t, v, closure, "value:", FromInt(3)), "cannot return")
	mustFatal(t, sendErr(t, v, rcvr, "run"), "cannot return")
}

func TestClosureSeesReceiver(t *testing.T) {
	v := newTestVM(t)
	pair := definePair(v)
	// sumBlock  ^ [x + y]
	b := NewMethodBuilder(v, 0, 0)
	block := b.BeginClosure(0, 0)
	b.PushReceiverVariable(0).PushReceiverVariable(1).Send("+", 1).BlockReturnTop()
	b.EndClosure(block).ReturnTop().MustInstall(pair, "sumBlock")

	p := newPair(t, v, pair, 3, 4)
	closure := send(t, v, p, "sumBlock")
	wantInt(t, send(t, v, closure, "value"), 7)
	if err := v.Store(p, 0, FromInt(10)); err != nil {
		t.Fatal(err)
	}
	wantInt(t, send(t, v, closure, "value"), 14)
}
