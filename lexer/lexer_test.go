package lexer

import (
	"testing"

	"bpftrace/token"
)

func collect(input string) []token.Token {
	l := New(input)
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return toks
}

func TestLexBasicProbe(t *testing.T) {
	toks := collect(`kprobe:f { pid }`)
	want := []token.TokenType{token.IDENT, token.COLON, token.IDENT, token.LBRACE, token.IDENT, token.RBRACE, token.EOF}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d (%v)", len(want), len(toks), toks)
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Fatalf("token %d: expected %s, got %s", i, w, toks[i].Type)
		}
	}
}

func TestLexMapAndVariableSigils(t *testing.T) {
	toks := collect(`@count = $x`)
	if toks[0].Type != token.MAP || toks[0].Literal != "count" {
		t.Fatalf("expected MAP(count), got %+v", toks[0])
	}
	if toks[1].Type != token.ASSIGN {
		t.Fatalf("expected ASSIGN, got %+v", toks[1])
	}
	if toks[2].Type != token.VAR || toks[2].Literal != "x" {
		t.Fatalf("expected VAR(x), got %+v", toks[2])
	}
}

func TestLexAnonymousMap(t *testing.T) {
	toks := collect(`@ = count()`)
	if toks[0].Type != token.MAP || toks[0].Literal != "" {
		t.Fatalf("expected anonymous MAP, got %+v", toks[0])
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks := collect(`"a\nb\t\"c\\d"`)
	if toks[0].Type != token.STRING {
		t.Fatalf("expected STRING, got %s", toks[0].Type)
	}
	want := "a\nb\t\"c\\d"
	if toks[0].Literal != want {
		t.Fatalf("expected %q, got %q", want, toks[0].Literal)
	}
}

func TestLexComments(t *testing.T) {
	toks := collect("// comment\nkprobe /* block */ :f { 1 }")
	if toks[0].Type != token.IDENT || toks[0].Literal != "kprobe" {
		t.Fatalf("expected IDENT(kprobe), got %+v", toks[0])
	}
}

func TestLexIncludeDirective(t *testing.T) {
	toks := collect(`#include <linux/sched.h>`)
	if toks[0].Type != token.INCLUDE {
		t.Fatalf("expected INCLUDE, got %+v", toks[0])
	}
}

func TestLexSlashOutsideComments(t *testing.T) {
	toks := collect(`a / 2`)
	want := []token.TokenType{token.IDENT, token.SLASH, token.INT, token.EOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Fatalf("token %d: expected %s, got %s", i, w, toks[i].Type)
		}
	}
}

func TestLexTwoCharOperators(t *testing.T) {
	toks := collect(`<= >= == != && || ->`)
	want := []token.TokenType{token.LE, token.GE, token.EQ, token.NE, token.LAND, token.LOR, token.ARROW, token.EOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Fatalf("token %d: expected %s, got %s", i, w, toks[i].Type)
		}
	}
}

func TestLexWildcardCharactersSurviveAsSeparateTokens(t *testing.T) {
	toks := collect(`sys_enter_*`)
	if toks[0].Type != token.IDENT || toks[0].Literal != "sys_enter_" {
		t.Fatalf("expected IDENT(sys_enter_), got %+v", toks[0])
	}
	if toks[1].Type != token.STAR {
		t.Fatalf("expected STAR, got %+v", toks[1])
	}
}
