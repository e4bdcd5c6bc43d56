package parser

import "testing"

func TestParseSimpleReturn(t *testing.T) {
	proto, err := Parse("<test>", "return 1+2")
	if err != nil {
		t.Fatal(err)
	}
	if proto.Chunkname != "<test>" {
		t.Errorf("Chunkname = %q, want <test>", proto.Chunkname)
	}
	if len(proto.Code) == 0 {
		t.Fatal("expected at least one emitted instruction")
	}
	if !proto.IsVararg() {
		t.Error("top-level chunks should always be vararg")
	}
}

func TestParseRejectsSyntaxError(t *testing.T) {
	if _, err := Parse("<test>", "var x = "); err == nil {
		t.Fatal("expected a parse error for a dangling assignment")
	}
}

func TestParseRejectsUnknownToken(t *testing.T) {
	if _, err := Parse("<test>", "@@@"); err == nil {
		t.Fatal("expected a lexical error for an invalid symbol")
	}
}

func TestParseFunctionDefinitionStatement(t *testing.T) {
	_, err := Parse("<test>", `
function add(a, b) {
	return a + b
}
return add(1, 2)
`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestParseTraceStatement(t *testing.T) {
	_, err := Parse("<test>", `trace kprobe:sys_open { print(pid()) }`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestParseIfElseif(t *testing.T) {
	_, err := Parse("<test>", `
var x = 1
if (x == 1) {
	x = 2
} elseif (x == 2) {
	x = 3
} else {
	x = 4
}
return x
`)
	if err != nil {
		t.Fatal(err)
	}
}
