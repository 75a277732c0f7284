package vm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestOverflowNeverTruncates(t *testing.T) {
	v := newTestVM(t)
	drv := defineDriver(v)
	NewMethodBuilder(v, 2, 2).PushTemp(0).PushTemp(1).Send("+", 1).ReturnTop().MustInstall(drv, "add:to:")
	NewMethodBuilder(v, 2, 2).PushTemp(0).PushTemp(1).Send("-", 1).ReturnTop().MustInstall(drv, "sub:from:")
	rcvr := v.NewInstance(drv, 0)

	// exact reports whether r is the SmallInteger want when it fits, and a
	// Float of the same value when it does not.
	exact := func(r Oop, want int64) bool {
		if IsIntegerValue(want) {
			return r.IsInt() && r.IntValue() == want
		}
		f, ok := v.FloatValue(r)
		return ok && f == float64(want)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("sums are exact", prop.ForAll(
		func(a, b int64) bool {
			return exact(send(t, v, rcvr, "add:to:", FromInt(a), FromInt(b)), a+b)
		},
		gen.Int64Range(MinSmallInt, MaxSmallInt),
		gen.Int64Range(MinSmallInt, MaxSmallInt),
	))

	properties.Property("differences are exact", prop.ForAll(
		func(a, b int64) bool {
			return exact(send(t, v, rcvr, "sub:from:", FromInt(a), FromInt(b)), a-b)
		},
		gen.Int64Range(MinSmallInt, MaxSmallInt),
		gen.Int64Range(MinSmallInt, MaxSmallInt),
	))

	properties.TestingRun(t)
}
