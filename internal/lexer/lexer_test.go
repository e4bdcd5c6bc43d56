package lexer

import (
	"testing"

	"ktap/internal/token"
)

func scanAll(t *testing.T, src string) []token.Token {
	t.Helper()
	l := New("<test>", src)
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("scanning %q: %v", src, err)
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func TestScanIdentifiersAndKeywords(t *testing.T) {
	toks := scanAll(t, "var x while")
	want := []token.Kind{token.Local, token.Name, token.While, token.EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %v, want %v", i, toks[i].Kind, k)
		}
	}
	if toks[1].Text != "x" {
		t.Errorf("identifier text = %q, want x", toks[1].Text)
	}
}

func TestScanNumbers(t *testing.T) {
	toks := scanAll(t, "42 0x1A 3.5")
	if len(toks) != 4 {
		t.Fatalf("got %d tokens, want 4", len(toks))
	}
	for _, tok := range toks[:3] {
		if tok.Kind != token.Number {
			t.Errorf("got kind %v, want Number", tok.Kind)
		}
	}
}

func TestScanShortStringWithEscapes(t *testing.T) {
	toks := scanAll(t, `"hello\nworld"`)
	if len(toks) != 2 || toks[0].Kind != token.String {
		t.Fatalf("got %v, want a single String token", toks)
	}
	if toks[0].Text != "hello\nworld" {
		t.Errorf("got %q, want %q", toks[0].Text, "hello\nworld")
	}
}

func TestScanLineComments(t *testing.T) {
	toks := scanAll(t, "var x -- comment\nvar y")
	var kinds []token.Kind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []token.Kind{token.Local, token.Name, token.Local, token.Name, token.EOF}
	if len(kinds) != len(want) {
		t.Fatalf("got %d tokens %v, want %d", len(kinds), kinds, len(want))
	}
}

func TestScanArgNIntrinsic(t *testing.T) {
	toks := scanAll(t, "arg0 arg9")
	if len(toks) != 3 {
		t.Fatalf("got %d tokens, want 3", len(toks))
	}
	if toks[0].Kind != token.ArgN || toks[0].Num != 0 {
		t.Errorf("arg0: got kind=%v num=%v, want ArgN/0", toks[0].Kind, toks[0].Num)
	}
	if toks[1].Kind != token.ArgN || toks[1].Num != 9 {
		t.Errorf("arg9: got kind=%v num=%v, want ArgN/9", toks[1].Kind, toks[1].Num)
	}
}

func TestScanTracingExtensionKeywords(t *testing.T) {
	toks := scanAll(t, "trace trace_end profile tick argstr probename")
	want := []token.Kind{token.Trace, token.TraceEnd, token.Profile, token.Tick, token.ArgStr, token.ProbeName, token.EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %v, want %v", i, toks[i].Kind, k)
		}
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l := New("<test>", "var x")
	first, err := l.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != token.Local {
		t.Fatalf("Peek = %v, want Local", first.Kind)
	}
	second, err := l.Next()
	if err != nil {
		t.Fatal(err)
	}
	if second.Kind != token.Local {
		t.Fatalf("Next after Peek = %v, want Local (same token)", second.Kind)
	}
	third, err := l.Next()
	if err != nil {
		t.Fatal(err)
	}
	if third.Kind != token.Name {
		t.Fatalf("got %v, want Name", third.Kind)
	}
}

func TestLineTracking(t *testing.T) {
	toks := scanAll(t, "var x\nvar y\nvar z")
	lines := map[string]int{}
	for _, tok := range toks {
		if tok.Kind == token.Name {
			lines[tok.Text] = tok.Line
		}
	}
	if lines["x"] != 1 || lines["y"] != 2 || lines["z"] != 3 {
		t.Fatalf("got lines %v, want x=1 y=2 z=3", lines)
	}
}

func TestUnterminatedStringErrors(t *testing.T) {
	l := New("<test>", `"unterminated`)
	if _, err := l.Next(); err == nil {
		t.Fatal("expected an error for an unterminated string literal")
	}
}
