package vm

import (
	"testing"

	"ktap/internal/parser"
	"ktap/internal/strpool"
	"ktap/internal/value"
)

func run(t *testing.T, src string) []value.Value {
	t.Helper()
	proto, err := parser.Parse("<test>", src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	rt := NewRuntime(strpool.New())
	th := NewThread(rt, nil)
	cl := NewTopLevelClosure(proto)
	results, err := th.Call(ClosureValue(cl), nil, -1)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return results
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"return 1+2", 3},
		{"return 10-4", 6},
		{"return 3*4", 12},
		{"return 10/4", 2.5},
		{"return 2+3*4", 14},
	}
	for _, tc := range tests {
		results := run(t, tc.src)
		if len(results) != 1 {
			t.Fatalf("%q: got %d results, want 1", tc.src, len(results))
		}
		if !value.IsNumber(results[0]) || value.AsNumber(results[0]) != tc.want {
			t.Errorf("%q: got %v, want %v", tc.src, results[0], tc.want)
		}
	}
}

func TestLocalsAndControlFlow(t *testing.T) {
	src := `
var x = 0
var i = 1
while (i <= 5) {
	x = x + i
	i = i + 1
}
return x
`
	results := run(t, src)
	if len(results) != 1 || value.AsNumber(results[0]) != 15 {
		t.Fatalf("got %v, want 15", results)
	}
}

func TestStringConcat(t *testing.T) {
	results := run(t, `return "foo" .. "bar"`)
	if len(results) != 1 || !strpool.IsString(results[0]) {
		t.Fatalf("expected a string result, got %v", results)
	}
	if got := strpool.FromValue(results[0]).Bytes; got != "foobar" {
		t.Errorf("got %q, want %q", got, "foobar")
	}
}

func TestClosureUpvalue(t *testing.T) {
	src := `
var counter = function() {
	var n = 0
	return function() {
		n = n + 1
		return n
	}
}
var c = counter()
c()
c()
return c()
`
	results := run(t, src)
	if len(results) != 1 || value.AsNumber(results[0]) != 3 {
		t.Fatalf("got %v, want 3", results)
	}
}
