package vm

import (
	"context"
	"fmt"
	"testing"
)

// effectFixture measures the stack depth change of single instructions as
// they run, with or without a domain intercepting them.
type effectFixture struct {
	v       *VM
	wide    *Behavior
	rcvr    Oop // Wide instance running the measured method
	subject Oop // Money instance; answers self to every special selector
	gauge   Oop
	depths  *[]int
	tally   Oop       // association of the global Tally
	domain  *Behavior // nil when nothing is delegated
}

const wideFields = 101

func newEffectFixture(t *testing.T, delegated bool) *effectFixture {
	t.Helper()
	v := newTestVM(t)
	names := make([]string, wideFields)
	for n := range names {
		names[n] = fmt.Sprintf("f%d", n)
	}
	f := &effectFixture{v: v, wide: v.DefineClass("Wide", v.Special.ObjectClass, names, FormatPointers)}
	f.rcvr = v.NewInstance(f.wide, 0)

	money := v.DefineClass("Money", v.Special.ObjectClass, []string{"amount"}, FormatPointers)
	for _, sel := range SpecialSelectors {
		NewMethodBuilder(v, sel.NumArgs, sel.NumArgs).ReturnSelf().MustInstall(money, sel.Name)
	}
	f.subject = v.NewInstance(money, 0)

	// Gauge>>depth records its sender's operand stack depth.
	gauge := v.DefineClass("Gauge", v.Special.ObjectClass, nil, FormatPointers)
	depth := NewMethodBuilder(v, 0, 0).ReturnSelf().MustInstall(gauge, "depth")
	var depths []int
	v.Native.Install(depth, func(i *Interpreter, rcvr Oop, _ []Oop) Oop {
		depths = append(depths, i.frame.sp-i.frame.bp)
		return rcvr
	})
	f.gauge, f.depths = v.NewInstance(gauge, 0), &depths

	f.tally = v.Global("Tally")
	v.SetGlobal("Tally", FromInt(5))

	if delegated {
		dc := defineDomain(v, "Everything")
		answerZero := func(selector string, numArgs int) {
			NewMethodBuilder(v, numArgs, numArgs).PushInt(0).ReturnTop().MustInstall(dc, selector)
		}
		answerZero("readField:of:", 2)
		answerZero("write:toField:of:", 3)
		answerZero("write:toField:of:return:", 4)
		answerZero("readLiteral:", 1)
		answerZero("write:toLiteral:", 2)
		for n := 0; n <= 2; n++ {
			answerZero(RequestExecSelector(n), n+2)
		}
		placeIn(t, v, f.rcvr, dc)
		placeIn(t, v, f.subject, dc)
		f.domain = dc
	}
	return f
}

// measure assembles
//
//	run: gauge with: subject
//	    nil. <operands>. gauge depth. <op>. gauge depth. ^ self
//
// runs it, and answers the depth change across op together with the change
// StackEffect reports for it. The leading nil is the slot a delegated
// store-and-pop substitutes its result into.
func (f *effectFixture) measure(t *testing.T, operands, op func(*MethodBuilder, *effectFixture)) (got, want int) {
	t.Helper()
	b := NewMethodBuilder(f.v, 2, 2).PushNil()
	if operands != nil {
		operands(b, f)
	}
	b.PushTemp(0).SendLiteral("depth", 0).Pop()
	pc := b.Len()
	op(b, f)
	want, ok := StackEffect(b.Code(), pc)
	if !ok {
		t.Fatalf("no stack effect for %s", Bytecode(b.Code()[pc]))
	}
	b.PushTemp(0).SendLiteral("depth", 0).Pop().ReturnSelf()
	method := b.MustInstall(f.wide, "run:with:")
	if f.domain != nil {
		placeIn(t, f.v, method, f.domain)
	}

	*f.depths = nil
	if _, err := f.v.NewInterpreter(0).Send(context.Background(), f.rcvr, "run:with:", f.gauge, f.subject); err != nil {
		t.Fatal(err)
	}
	if len(*f.depths) != 2 {
		t.Fatalf("sampled %d depths, want 2", len(*f.depths))
	}
	return (*f.depths)[1] - (*f.depths)[0], want
}

type effectCase struct {
	name     string
	operands func(*MethodBuilder, *effectFixture)
	op       func(*MethodBuilder, *effectFixture)
}

func pushValue(b *MethodBuilder, _ *effectFixture) { b.PushInt(9) }

func effectCases() []effectCase {
	var cases []effectCase
	for _, n := range []int{3, 20, 100} {
		cases = append(cases, effectCase{
			name: fmt.Sprintf("push field %d", n),
			op:   func(b *MethodBuilder, _ *effectFixture) { b.PushReceiverVariable(n) },
		})
	}
	for _, n := range []int{1, 100} {
		cases = append(cases, effectCase{
			name:     fmt.Sprintf("store field %d", n),
			operands: pushValue,
			op:       func(b *MethodBuilder, _ *effectFixture) { b.StoreReceiverVariable(n) },
		})
	}
	for _, n := range []int{2, 10, 100} {
		cases = append(cases, effectCase{
			name:     fmt.Sprintf("pop into field %d", n),
			operands: pushValue,
			op:       func(b *MethodBuilder, _ *effectFixture) { b.PopIntoReceiverVariable(n) },
		})
	}
	cases = append(cases,
		effectCase{
			name: "push literal variable",
			op:   func(b *MethodBuilder, f *effectFixture) { b.PushLiteralVariable(f.tally) },
		},
		effectCase{
			name:     "store literal variable",
			operands: pushValue,
			op:       func(b *MethodBuilder, f *effectFixture) { b.StoreLiteralVariable(f.tally) },
		},
		effectCase{
			name:     "pop into literal variable",
			operands: pushValue,
			op:       func(b *MethodBuilder, f *effectFixture) { b.PopIntoLiteralVariable(f.tally) },
		},
	)

	for _, sel := range SpecialSelectors {
		cases = append(cases, effectCase{
			name: "send " + sel.Name,
			operands: func(b *MethodBuilder, _ *effectFixture) {
				b.PushTemp(1)
				for n := 0; n < sel.NumArgs; n++ {
					b.PushInt(int64(n + 1))
				}
			},
			op: func(b *MethodBuilder, _ *effectFixture) { b.Send(sel.Name, sel.NumArgs) },
		})
	}
	// The integer tier, including results that fall through to a send.
	for _, sel := range SpecialSelectors[:16] {
		cases = append(cases, effectCase{
			name:     "integer " + sel.Name,
			operands: func(b *MethodBuilder, _ *effectFixture) { b.PushInt(7).PushInt(2) },
			op:       func(b *MethodBuilder, _ *effectFixture) { b.Send(sel.Name, 1) },
		})
	}
	for _, name := range []string{"+", "-", "*", "/", "<", ">", "<=", ">=", "=", "~=", "@"} {
		cases = append(cases, effectCase{
			name:     "float " + name,
			operands: func(b *MethodBuilder, f *effectFixture) { b.PushLiteral(f.v.NewFloat(2.5)).PushInt(2) },
			op:       func(b *MethodBuilder, _ *effectFixture) { b.Send(name, 1) },
		})
	}
	return cases
}

func TestStackEffectHoldsAtRunTime(t *testing.T) {
	for _, mode := range []struct {
		name      string
		delegated bool
	}{
		{"direct", false},
		{"delegated", true},
	} {
		t.Run(mode.name, func(t *testing.T) {
			f := newEffectFixture(t, mode.delegated)
			for _, tt := range effectCases() {
				t.Run(tt.name, func(t *testing.T) {
					got, want := f.measure(t, tt.operands, tt.op)
					if got != want {
						t.Errorf("depth changed by %d, StackEffect = %d", got, want)
					}
				})
			}
		})
	}
}

// The delegated fixture really is intercepted: reads answer the domain's 0.
func TestStackEffectFixtureDelegates(t *testing.T) {
	f := newEffectFixture(t, true)
	if err := f.v.Store(f.rcvr, 100, FromInt(7)); err != nil {
		t.Fatal(err)
	}
	method := NewMethodBuilder(f.v, 0, 0).PushReceiverVariable(100).ReturnTop().MustInstall(f.wide, "last")
	placeIn(t, f.v, method, f.domain)
	wantInt(t, send(t, f.v, f.rcvr, "last"), 0)

	amount := NewMethodBuilder(f.v, 1, 1).PushTemp(0).PushInt(1).Send("+", 1).ReturnTop().MustInstall(f.wide, "bump:")
	placeIn(t, f.v, amount, f.domain)
	wantInt(t, send(t, f.v, f.rcvr, "bump:", f.subject), 0)
}
