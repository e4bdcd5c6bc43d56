package value

import "testing"

func TestNilBoolTruthy(t *testing.T) {
	if !IsNil(Nil()) {
		t.Fatal("Nil() should be nil")
	}
	if Truthy(Nil()) {
		t.Fatal("nil should not be truthy")
	}
	if Truthy(Bool(false)) {
		t.Fatal("false should not be truthy")
	}
	if !Truthy(Bool(true)) {
		t.Fatal("true should be truthy")
	}
	if !IsBool(Bool(true)) || !IsBool(Bool(false)) {
		t.Fatal("Bool() results should satisfy IsBool")
	}
	if AsBool(Bool(true)) != true || AsBool(Bool(false)) != false {
		t.Fatal("AsBool round trip failed")
	}
}

func TestNumberRoundTrip(t *testing.T) {
	for _, n := range []float64{0, 1, -1, 3.14159, 1e300, -1e300} {
		v := Number(n)
		if !IsNumber(v) {
			t.Fatalf("Number(%v) should be a number", n)
		}
		if got := AsNumber(v); got != n {
			t.Fatalf("AsNumber(Number(%v)) = %v", n, got)
		}
	}
}

func TestZeroValueIsANumberNotNil(t *testing.T) {
	// Every number, even 0, must not collide with the nil/bool immediates
	// living in the NaN-boxed tag space.
	if IsNil(Number(0)) {
		t.Fatal("Number(0) must not be nil")
	}
}

func TestTruthyEverythingButNilAndFalse(t *testing.T) {
	if !Truthy(Number(0)) {
		t.Fatal("0 is truthy in ktap (unlike some scripting languages)")
	}
	if !Truthy(Number(-1)) {
		t.Fatal("any number should be truthy")
	}
}

func TestTypeNameImmediates(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Nil(), "nil"},
		{Bool(false), "false"},
		{Bool(true), "true"},
		{Number(1), "num"},
	}
	for _, tc := range cases {
		if got := TypeName(tc.v); got != tc.want {
			t.Errorf("TypeName(...) = %q, want %q", got, tc.want)
		}
	}
}

type fakeObject struct {
	GCHeader
}

func TestFromObjectRoundTrip(t *testing.T) {
	o := &fakeObject{}
	o.Kind = OTable
	v := FromObject(o)
	if !IsObject(v) {
		t.Fatal("FromObject's result should satisfy IsObject")
	}
	if ObjectKindOf(v) != OTable {
		t.Fatalf("ObjectKindOf = %v, want OTable", ObjectKindOf(v))
	}
	if TypeName(v) != "tab" {
		t.Fatalf("TypeName = %q, want tab", TypeName(v))
	}
	if AsHeader(v) != &o.GCHeader {
		t.Fatal("AsHeader should recover the original GCHeader pointer")
	}
}

func TestRawEquality(t *testing.T) {
	if !Raw(Number(1), Number(1)) {
		t.Fatal("equal numbers should be raw-equal")
	}
	if Raw(Number(1), Number(2)) {
		t.Fatal("distinct numbers should not be raw-equal")
	}
	if !Raw(Nil(), Nil()) {
		t.Fatal("nil should be raw-equal to nil")
	}
	if Raw(Nil(), Bool(false)) {
		t.Fatal("nil and false must not be raw-equal")
	}
	o1, o2 := &fakeObject{}, &fakeObject{}
	o1.Kind, o2.Kind = OTable, OTable
	if Raw(FromObject(o1), FromObject(o2)) {
		t.Fatal("distinct objects should not be raw-equal")
	}
	if !Raw(FromObject(o1), FromObject(o1)) {
		t.Fatal("the same object should be raw-equal to itself")
	}
}

func TestNaNCanonicalizesWithoutCollidingWithImmediates(t *testing.T) {
	nan := Number(0.0 / negZeroDivisor())
	if IsNil(nan) || IsBool(nan) {
		t.Fatal("a canonicalized NaN must not collide with nil/bool tags")
	}
	if !IsNumber(nan) {
		t.Fatal("a canonicalized NaN should still report as a number")
	}
}

func negZeroDivisor() float64 { return 0 }
