package vm

import (
	"bytes"
	"errors"
	"testing"
)

func TestMethodBuilderEncodings(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		name  string
		build func(b *MethodBuilder)
		want  []byte
	}{
		{"short receiver variable", func(b *MethodBuilder) { b.PushReceiverVariable(3) }, []byte{3}},
		{"extended receiver variable", func(b *MethodBuilder) { b.PushReceiverVariable(20) }, []byte{128, 20}},
		{"double extended receiver variable", func(b *MethodBuilder) { b.PushReceiverVariable(100) }, []byte{132, 64, 100}},
		{"short temp", func(b *MethodBuilder) { b.PushTemp(5) }, []byte{21}},
		{"extended temp", func(b *MethodBuilder) { b.PushTemp(20) }, []byte{128, 84}},
		{"constant integers", func(b *MethodBuilder) { b.PushInt(-1).PushInt(0).PushInt(2) }, []byte{116, 117, 119}},
		{"literal integer", func(b *MethodBuilder) { b.PushInt(3).PushInt(3) }, []byte{32, 32}},
		{"pop into temp", func(b *MethodBuilder) { b.PopIntoTemp(3).PopIntoTemp(10) }, []byte{107, 130, 74}},
		{"pop into receiver variable", func(b *MethodBuilder) { b.PopIntoReceiverVariable(2).PopIntoReceiverVariable(10) }, []byte{98, 130, 10}},
		{"store temp", func(b *MethodBuilder) { b.StoreTemp(2) }, []byte{129, 66}},
		{"store receiver variable", func(b *MethodBuilder) { b.StoreReceiverVariable(1) }, []byte{129, 1}},
		{"new arrays", func(b *MethodBuilder) { b.PushNewArray(3, true).PushNewArray(3, false) }, []byte{138, 131, 138, 3}},
		{"remote temps", func(b *MethodBuilder) { b.PushRemoteTemp(1, 2).PopIntoRemoteTemp(0, 2) }, []byte{140, 1, 2, 142, 0, 2}},
		{"special send", func(b *MethodBuilder) { b.Send("+", 1).Send("value", 0) }, []byte{176, 201}},
		{"special selector as literal", func(b *MethodBuilder) { b.SendLiteral("+", 1) }, []byte{224}},
		{"literal send", func(b *MethodBuilder) { b.Send("foo", 0).Send("bar:", 1) }, []byte{208, 225}},
		{"three argument send", func(b *MethodBuilder) { b.Send("a:b:c:", 3) }, []byte{134, 192}},
		{"five argument send", func(b *MethodBuilder) { b.Send("a:b:c:d:e:", 5) }, []byte{131, 160}},
		{"eight argument send", func(b *MethodBuilder) { b.Send("a:b:c:d:e:f:g:h:", 8) }, []byte{132, 8, 0}},
		{"super send", func(b *MethodBuilder) { b.SuperSend("foo:", 1) }, []byte{133, 32}},
		{"returns", func(b *MethodBuilder) { b.ReturnSelf().ReturnTop().BlockReturnTop() }, []byte{120, 124, 125}},
		{"backward jump", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.Mark(l).PushNil().Pop().Jump(l)
		}, []byte{115, 135, 163, 252}},
		{"forward conditional jump", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.PushTrue().JumpIfFalse(l).PushNil().Mark(l)
		}, []byte{113, 172, 1, 115}},
		{"short jump", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.ShortJump(l).PushNil().Mark(l)
		}, []byte{144, 115}},
		{"closure", func(b *MethodBuilder) {
			c := b.BeginClosure(1, 2)
			b.PushTemp(0).BlockReturnTop()
			b.EndClosure(c)
		}, []byte{143, 33, 0, 2, 16, 125}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMethodBuilder(v, 0, 0)
			tt.build(b)
			if !bytes.Equal(b.Code(), tt.want) {
				t.Errorf("code = %v, want %v", b.Code(), tt.want)
			}
		})
	}
}

func TestMethodBuilderErrors(t *testing.T) {
	v := newTestVM(t)
	cls := v.Special.ObjectClass
	tests := []struct {
		name  string
		build func(b *MethodBuilder)
	}{
		{"temp out of range", func(b *MethodBuilder) { b.PushTemp(64) }},
		{"receiver variable out of range", func(b *MethodBuilder) { b.PushReceiverVariable(256) }},
		{"integer out of range", func(b *MethodBuilder) { b.PushInt(MaxSmallInt + 1) }},
		{"array too large", func(b *MethodBuilder) { b.PushNewArray(128, false) }},
		{"short jump too far", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.ShortJump(l)
			for k := 0; k < 9; k++ {
				b.PushNil()
			}
			b.Mark(l)
		}},
		{"backward conditional jump", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.Mark(l).PushTrue().JumpIfTrue(l)
		}},
		{"label marked twice", func(b *MethodBuilder) {
			l := b.NewLabel()
			b.Mark(l).Mark(l)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMethodBuilder(v, 0, 0)
			tt.build(b)
			if _, err := b.ReturnSelf().Build(cls, "broken"); err == nil {
				t.Error("Build succeeded")
			}
		})
	}

	b := NewMethodBuilder(v, 0, 0)
	b.PushTrue().JumpIfFalse(b.NewLabel()).ReturnSelf()
	if _, err := b.Install(cls, "dangling"); !errors.Is(err, ErrUnresolvedLabel) {
		t.Errorf("err = %v, want ErrUnresolvedLabel", err)
	}
	if cls.Lookup(v.Symbols.Intern("dangling")) != NullOop {
		t.Error("a method that failed to build was installed")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustInstall did not panic")
		}
	}()
	NewMethodBuilder(v, 0, 0).PushTemp(99).MustInstall(cls, "broken")
}

func TestMethodBuilderHeader(t *testing.T) {
	v := newTestVM(t)
	cls := v.Special.ObjectClass
	tests := []struct {
		name     string
		builder  *MethodBuilder
		large    bool
		numArgs  int
		numTemps int
	}{
		{"small", NewMethodBuilder(v, 1, 12), false, 1, 12},
		{"many temps", NewMethodBuilder(v, 1, 13), true, 1, 13},
		{"requested", NewMethodBuilder(v, 0, 0).LargeFrame(), true, 0, 0},
	}
	for _, tt := range tests {
		method, err := tt.builder.ReturnSelf().Build(cls, "probe")
		if err != nil {
			t.Fatal(err)
		}
		h := v.MethodHeaderOf(method)
		if h.LargeFrame != tt.large || h.NumArgs != tt.numArgs || h.NumTemps != tt.numTemps {
			t.Errorf("%s: header %+v", tt.name, *h)
		}
		want := SmallFrameSize
		if tt.large {
			want = LargeFrameSize
		}
		if h.FrameSize() != want {
			t.Errorf("%s: FrameSize = %d, want %d", tt.name, h.FrameSize(), want)
		}
		if v.MethodName(method) != "Object>>probe" {
			t.Errorf("MethodName = %q", v.MethodName(method))
		}
	}

	prim, err := NewMethodBuilder(v, 0, 0).Primitive(62).ReturnSelf().Build(cls, "probe")
	if err != nil {
		t.Fatal(err)
	}
	if v.MethodHeaderOf(prim).Primitive != 62 {
		t.Error("primitive index lost")
	}
}

func TestLiteralFrameSharing(t *testing.T) {
	v := newTestVM(t)
	b := NewMethodBuilder(v, 0, 0)
	first := b.Symbol("foo")
	b.PushInt(100)
	if b.Symbol("foo") != first || b.Literal(FromInt(100)) != 1 {
		t.Error("literals are not shared")
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d", b.Len())
	}
}
