package strpool

import (
	"strconv"
	"strings"
	"testing"

	"ktap/internal/value"
)

func TestHashFormula(t *testing.T) {
	// h = 201236 ^ len with step = (len>>5)+1, per spec.md's formula;
	// an empty string has no bytes to fold in so h is just 201236^0.
	if got := Hash(""); got != 201236 {
		t.Errorf("Hash(\"\") = %d, want %d", got, 201236)
	}
}

func TestInternDedups(t *testing.T) {
	p := New()
	a, err := p.Intern("sys_open")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Intern("sys_open")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected interning the same bytes twice to return the same *String")
	}
	if p.Count() != 1 {
		t.Errorf("Count() = %d, want 1", p.Count())
	}

	c, err := p.Intern("sys_close")
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Fatal("expected distinct strings to intern to distinct objects")
	}
	if p.Count() != 2 {
		t.Errorf("Count() = %d, want 2", p.Count())
	}
}

func TestInternRejectsOversizeString(t *testing.T) {
	p := New()
	huge := strings.Repeat("x", MaxStrLen+1)
	if _, err := p.Intern(huge); err == nil {
		t.Fatal("expected Intern to reject a string longer than MaxStrLen")
	}
}

func TestInternGrowsPastInitialBucketCount(t *testing.T) {
	p := New()
	for i := 0; i < 1000; i++ {
		if _, err := p.Intern("sym_" + strconv.Itoa(i)); err != nil {
			t.Fatalf("Intern #%d: %v", i, err)
		}
	}
	if p.Count() != 1000 {
		t.Fatalf("Count() = %d, want 1000", p.Count())
	}
}

func TestValueRoundTrip(t *testing.T) {
	p := New()
	s, err := p.Intern("hello")
	if err != nil {
		t.Fatal(err)
	}
	v := ToValue(s)
	if !IsString(v) {
		t.Fatal("expected ToValue's result to satisfy IsString")
	}
	if got := FromValue(v); got != s {
		t.Fatal("expected FromValue to recover the original *String")
	}
	if !value.IsObject(v) {
		t.Fatal("expected a string Value to be a tagged object")
	}
}

func TestMarkReservedStampsByte(t *testing.T) {
	p := New()
	s := p.MarkReserved("while", 7)
	if s.Reserved != 7 {
		t.Errorf("Reserved = %d, want 7", s.Reserved)
	}
	again, err := p.Intern("while")
	if err != nil {
		t.Fatal(err)
	}
	if again != s {
		t.Fatal("expected MarkReserved's string to be the same interned object on re-lookup")
	}
}
