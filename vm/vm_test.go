package vm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers shared by the package tests
// ---------------------------------------------------------------------------

func newTestVM(t *testing.T) *VM {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Assertions = true
	return NewVM(cfg)
}

// send runs selector on a fresh interpreter and fails the test on error.
func send(t *testing.T, v *VM, rcvr Oop, selector string, args ...Oop) Oop {
	t.Helper()
	result, err := v.NewInterpreter(0).Send(context.Background(), rcvr, selector, args...)
	if err != nil {
		t.Fatalf("%s: %v", selector, err)
	}
	return result
}

// sendErr runs selector and returns the error, which the caller expects.
func sendErr(t *testing.T, v *VM, rcvr Oop, selector string, args ...Oop) error {
	t.Helper()
	_, err := v.NewInterpreter(0).Send(context.Background(), rcvr, selector, args...)
	if err == nil {
		t.Fatalf("%s succeeded, want an error", selector)
	}
	return err
}

func wantInt(t *testing.T, got Oop, want int64) {
	t.Helper()
	if !got.IsInt() || got.Int() != want {
		t.Errorf("result = %v, want %d", got, want)
	}
}

// oopOf converts a Go value to an Oop: int, float64, bool, string (a
// String), or nil.
func oopOf(v *VM, x any) Oop {
	switch x := x.(type) {
	case int:
		return FromInt(int64(x))
	case int64:
		return FromInt(x)
	case float64:
		return v.NewFloat(x)
	case bool:
		return v.Bool(x)
	case string:
		return v.NewString(x)
	case Oop:
		return x
	}
	return v.Special.Nil
}

// checkValue compares got against a Go value as oopOf would encode it.
func checkValue(t *testing.T, v *VM, got Oop, want any) {
	t.Helper()
	switch w := want.(type) {
	case int:
		wantInt(t, got, int64(w))
	case int64:
		wantInt(t, got, w)
	case float64:
		f, ok := v.FloatValue(got)
		if !ok || f != w {
			t.Errorf("result = %s, want %v", v.Describe(got), w)
		}
	case bool:
		if got != v.Bool(w) {
			t.Errorf("result = %s, want %v", v.Describe(got), w)
		}
	case string:
		s, ok := v.StringValue(got)
		if !ok || s != w {
			t.Errorf("result = %s, want %q", v.Describe(got), w)
		}
	case nil:
		if got != v.Special.Nil {
			t.Errorf("result = %s, want nil", v.Describe(got))
		}
	default:
		t.Fatalf("checkValue: unsupported %T", want)
	}
}

// elements returns the indexable pointers of an Array.
func elements(t *testing.T, v *VM, array Oop) []Oop {
	t.Helper()
	obj := v.Heap.Object(array)
	if obj == nil || obj.Format() != FormatIndexablePointers {
		t.Fatalf("%s is not an Array", v.Describe(array))
	}
	out := make([]Oop, obj.IndexableSize())
	for k := range out {
		out[k] = obj.FetchPointer(obj.FixedSize() + k)
	}
	return out
}

func mustFatal(t *testing.T, err error, fragment string) {
	t.Helper()
	if !IsFatal(err) {
		t.Fatalf("error %v is not fatal", err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Errorf("error %q does not mention %q", err, fragment)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestNewVMKernelClasses(t *testing.T) {
	v := newTestVM(t)
	s := &v.Special

	tests := []struct {
		oop  Oop
		want *Behavior
	}{
		{s.Nil, s.UndefinedObjectClass},
		{s.True, s.TrueClass},
		{s.False, s.FalseClass},
		{FromInt(3), s.SmallIntegerClass},
		{v.NewFloat(1.5), s.FloatClass},
		{v.NewString("abc"), s.StringClass},
		{v.Symbols.Intern("abc"), s.SymbolClass},
		{v.NewArray(), s.ArrayClass},
		{v.NewPoint(FromInt(1), FromInt(2)), s.PointClass},
	}
	for _, tt := range tests {
		if got := v.BehaviorOf(tt.oop); got != tt.want {
			t.Errorf("class of %s = %v, want %s", v.Describe(tt.oop), got.Name, tt.want.Name)
		}
	}

	for _, name := range []string{"Object", "Array", "Domain", "BlockClosure", "MethodContext"} {
		b := v.Classes.Lookup(name)
		if b == nil {
			t.Fatalf("class %s not registered", name)
		}
		if v.GlobalValue(name) != b.Oop() {
			t.Errorf("global %s is not bound to its class", name)
		}
	}
}

func TestMetaclassChain(t *testing.T) {
	v := newTestVM(t)
	s := &v.Special

	objectMeta := v.MetaclassOf(s.ObjectClass)
	if objectMeta.Name != "Object class" || !objectMeta.Meta {
		t.Errorf("metaclass of Object = %q", objectMeta.Name)
	}
	if objectMeta.Superclass() != s.ClassClass {
		t.Errorf("Object class superclass = %s, want Class", objectMeta.Superclass().Name)
	}
	if v.MetaclassOf(s.ArrayClass).Superclass() != v.MetaclassOf(s.ArrayedClass) {
		t.Error("Array class does not inherit from ArrayedCollection class")
	}
	if v.ClassOf(objectMeta.Oop()) != s.MetaclassClass.Oop() {
		t.Error("a metaclass is not an instance of Metaclass")
	}

	p := send(t, v, s.PointClass.Oop(), "new")
	if v.BehaviorOf(p) != s.PointClass {
		t.Fatalf("Point new answered a %s", v.ClassNameOf(p))
	}
	x, _ := v.Fetch(p, PointXIndex)
	checkValue(t, v, x, nil)

	a := send(t, v, s.ArrayClass.Oop(), "new:", FromInt(3))
	if n := len(elements(t, v, a)); n != 3 {
		t.Errorf("Array new: 3 has %d elements", n)
	}
	str := send(t, v, s.StringClass.Oop(), "new:", FromInt(2))
	wantInt(t, send(t, v, str, "size"), 2)
}

func TestDefineClass(t *testing.T) {
	v := newTestVM(t)
	base := v.DefineClass("Base", v.Special.ObjectClass, []string{"a"}, FormatPointers)
	sub := v.DefineClass("Sub", base, []string{"b", "c"}, FormatPointers)
	if sub.InstSize != 3 {
		t.Errorf("InstSize = %d, want 3", sub.InstSize)
	}
	if got := sub.InstVarIndex("a"); got != 0 {
		t.Errorf("index of a = %d, want 0", got)
	}
	if got := sub.InstVarIndex("c"); got != 2 {
		t.Errorf("index of c = %d, want 2", got)
	}
	if sub.InstVarIndex("zz") != -1 {
		t.Error("unknown instance variable has an index")
	}
	if !sub.InheritsFrom(v.Special.ObjectClass) || base.InheritsFrom(sub) {
		t.Error("InheritsFrom is wrong")
	}

	bytes := v.DefineClass("Buffer", v.Special.ByteArrayClass, nil, FormatPointers)
	if bytes.Format != FormatBytes {
		t.Errorf("subclass of ByteArray has format %s", bytes.Format)
	}
}

func TestNumArgsOf(t *testing.T) {
	tests := []struct {
		selector string
		want     int
	}{
		{"size", 0},
		{"+", 1},
		{"\\\\", 1},
		{"==", 1},
		{"at:", 1},
		{"at:put:", 2},
		{"requestExecWith:with:of:on:", 4},
		{"_private", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := NumArgsOf(tt.selector); got != tt.want {
			t.Errorf("NumArgsOf(%q) = %d, want %d", tt.selector, got, tt.want)
		}
	}
}

func TestGlobals(t *testing.T) {
	v := newTestVM(t)
	assoc := v.Global("Answer")
	if v.Global("Answer") != assoc {
		t.Error("Global does not reuse the association")
	}
	checkValue(t, v, v.GlobalValue("Answer"), nil)
	v.SetGlobal("Answer", FromInt(42))
	wantInt(t, v.GlobalValue("Answer"), 42)
	if got := v.Describe(assoc); got != "Answer" {
		t.Errorf("Describe(assoc) = %q", got)
	}
}

func TestNewStreamLimits(t *testing.T) {
	v := newTestVM(t)
	arr := v.NewArray(FromInt(1), FromInt(2))
	if _, err := v.NewStream(arr, 3); err == nil {
		t.Error("read limit past the end accepted")
	}
	if _, err := v.NewStream(FromInt(1), 0); err == nil {
		t.Error("stream over a SmallInteger accepted")
	}
	if _, err := v.NewStream(arr, 2); err != nil {
		t.Errorf("NewStream: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		oop  Oop
		want string
	}{
		{FromInt(-5), "-5"},
		{v.Special.Nil, "nil"},
		{v.Special.True, "true"},
		{v.Special.False, "false"},
		{v.Symbols.Intern("at:put:"), "#at:put:"},
		{v.NewString("hi"), `"hi"`},
		{v.NewFloat(2.5), "2.5"},
		{v.NewPoint(FromInt(1), FromInt(2)), "a Point"},
	}
	for _, tt := range tests {
		if got := v.Describe(tt.oop); got != tt.want {
			t.Errorf("Describe = %q, want %q", got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Cores
// ---------------------------------------------------------------------------

// installSumTo installs SmallInteger>>sumTo, the sum 1..self.
func installSumTo(v *VM) {
	b := NewMethodBuilder(v, 0, 2)
	loop, done := b.NewLabel(), b.NewLabel()
	b.PushInt(0).PopIntoTemp(0).
		PushInt(1).PopIntoTemp(1).
		Mark(loop).
		PushTemp(1).PushSelf().Send("<=", 1).JumpIfFalse(done).
		PushTemp(0).PushTemp(1).Send("+", 1).PopIntoTemp(0).
		PushTemp(1).PushInt(1).Send("+", 1).PopIntoTemp(1).
		Jump(loop).
		Mark(done).
		PushTemp(0).ReturnTop().
		MustInstall(v.Special.SmallIntegerClass, "sumTo")
}

func TestRunCores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = 2
	v := NewVM(cfg)
	installSumTo(v)

	jobs := make([]Job, 4)
	results := make([]Oop, len(jobs))
	for k := range jobs {
		jobs[k] = func(ctx context.Context, i *Interpreter) error {
			if i.Core() != k {
				t.Errorf("job %d ran on core %d", k, i.Core())
			}
			r, err := i.Send(ctx, FromInt(int64(k+1)*100), "sumTo")
			results[k] = r
			return err
		}
	}
	if err := v.RunCores(context.Background(), jobs); err != nil {
		t.Fatalf("RunCores: %v", err)
	}
	for k, r := range results {
		n := int64(k+1) * 100
		wantInt(t, r, n*(n+1)/2)
	}
	if v.Safepoints.Registered() != 0 {
		t.Errorf("%d cores still registered", v.Safepoints.Registered())
	}
}

func TestRunCoresFailure(t *testing.T) {
	v := newTestVM(t)
	boom := errors.New("boom")
	jobs := []Job{
		func(ctx context.Context, i *Interpreter) error { return nil },
		func(ctx context.Context, i *Interpreter) error { return boom },
	}
	err := v.RunCores(context.Background(), jobs)
	if !errors.Is(err, boom) {
		t.Fatalf("RunCores error = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "core 1") {
		t.Errorf("error %q does not name the core", err)
	}
}

func TestRunCoresFatal(t *testing.T) {
	v := newTestVM(t)
	jobs := []Job{func(ctx context.Context, i *Interpreter) error {
		_, err := i.Send(ctx, FromInt(1), "noSuchSelector")
		return err
	}}
	if err := v.RunCores(context.Background(), jobs); !IsFatal(err) {
		t.Errorf("RunCores error = %v, want a fatal error", err)
	}
}
