package vm

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBytecodeLength(t *testing.T) {
	tests := []struct {
		b    Bytecode
		want int
	}{
		{0, 1},
		{BcPushReceiver, 1},
		{BcExtendedPush, 2},
		{BcDoubleExtendedDoAnything, 3},
		{BcPushRemoteTemp, 3},
		{BcPushClosureCopyCopiedVals, 4},
		{BcLongJump, 2},
		{BcLongJumpIfFalse + 3, 2},
		{139, 1},
		{BcSendLiteral2 + 15, 1},
	}
	for _, tt := range tests {
		if got := tt.b.Length(); got != tt.want {
			t.Errorf("Length(%d) = %d, want %d", tt.b, got, tt.want)
		}
	}
}

func TestBytecodeString(t *testing.T) {
	tests := []struct {
		b    Bytecode
		want string
	}{
		{BcPushTemporaryVariable + 3, "pushTemp"},
		{BcPushMinusOne, "push -1"},
		{BcSpecialSend, "send +"},
		{BcSpecialSend + SpecialAtPut, "send at:put:"},
		{BcBlockReturnTop, "blockReturnTop"},
		{139, "unknown_139"},
	}
	for _, tt := range tests {
		if got := tt.b.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.b, got, tt.want)
		}
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		effect int
		ok     bool
	}{
		{"push temp", []byte{17}, 1, true},
		{"pop into receiver variable", []byte{97}, -1, true},
		{"special binary send", []byte{176}, -1, true},
		{"special unary send", []byte{BcSpecialSend.add(SpecialSize)}, 0, true},
		{"literal send no args", []byte{210}, 0, true},
		{"literal send two args", []byte{240}, -2, true},
		{"single extended send", []byte{131, 3 << 5}, -3, true},
		{"second extended send", []byte{134, 2 << 6}, -2, true},
		{"double extended send", []byte{132, 5, 0}, -5, true},
		{"double extended push", []byte{132, DxPushLiteralConstant << 5, 0}, 1, true},
		{"double extended store", []byte{132, DxStoreReceiverVariable << 5, 0}, 0, true},
		{"double extended store and pop", []byte{132, DxStoreAndPopReceiverVariable << 5, 0}, -1, true},
		{"new empty array", []byte{138, 3}, 1, true},
		{"new array from stack", []byte{138, 0x83}, -2, true},
		{"closure", []byte{143, 0x21, 0, 0}, -1, true},
		{"conditional jump", []byte{152}, -1, true},
		{"return", []byte{124}, 0, false},
		{"unknown", []byte{139}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, ok := StackEffect(tt.code, 0)
			if effect != tt.effect || ok != tt.ok {
				t.Errorf("StackEffect = %d, %v; want %d, %v", effect, ok, tt.effect, tt.ok)
			}
		})
	}
}

// add offsets a ranged opcode.
func (b Bytecode) add(n int) byte {
	return byte(b) + byte(n)
}

func TestLiteralIndexAt(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int
	}{
		{"push constant", []byte{BcPushLiteralConstant.add(5)}, 5},
		{"push variable", []byte{BcPushLiteralVariable.add(31)}, 31},
		{"send", []byte{BcSendLiteral0.add(3)}, 3},
		{"send one arg", []byte{BcSendLiteral1.add(1)}, 1},
		{"extended push constant", []byte{128, ExtLiteralConstant<<6 | 7}, 7},
		{"extended push receiver variable", []byte{128, 20}, -1},
		{"extended store literal variable", []byte{129, ExtLiteralVariable<<6 | 9}, 9},
		{"extended store temp", []byte{129, ExtTemporaryVariable<<6 | 9}, -1},
		{"single extended send", []byte{131, 5<<5 | 4}, 4},
		{"second extended send", []byte{134, 1<<6 | 40}, 40},
		{"double extended send", []byte{132, 0, 200}, 200},
		{"double extended push receiver variable", []byte{132, DxPushReceiverVariable << 5, 5}, -1},
		{"push self", []byte{112}, -1},
	}
	for _, tt := range tests {
		if got := LiteralIndexAt(tt.code, 0); got != tt.want {
			t.Errorf("%s: LiteralIndexAt = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// TestStackEffectOfSums assembles n0 + n1 + ... and checks that the
// instructions before the return leave exactly one value, which is the sum.
func TestStackEffectOfSums(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	rcvr := v.NewInstance(drv, 0)
	i := v.NewInterpreter(0)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sum leaves one value", prop.ForAll(
		func(first int64, rest []int64) bool {
			b := NewMethodBuilder(v, 0, 0).PushInt(first)
			sum := first
			for _, n := range rest {
				b.PushInt(n).Send("+", 1)
				sum += n
			}
			method := b.ReturnTop().MustInstall(drv, "sum")

			code := v.Heap.Object(method).Bytes()
			depth := 0
			for pc := 0; pc < len(code); pc += Bytecode(code[pc]).Length() {
				effect, ok := StackEffect(code, pc)
				if !ok {
					break
				}
				depth += effect
			}
			if depth != 1 {
				return false
			}

			r, err := i.Send(context.Background(), rcvr, "sum")
			return err == nil && r == FromInt(sum)
		},
		gen.Int64Range(-1000, 1000),
		gen.SliceOf(gen.Int64Range(-1000, 1000)),
	))

	properties.TestingRun(t)
}
