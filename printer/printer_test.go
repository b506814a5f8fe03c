package printer

import (
	"strings"
	"testing"

	"bpftrace/lexer"
	"bpftrace/parser"
)

func mustPrint(t *testing.T, src string) string {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, err := p.ParseProgram()
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	return Print(prog)
}

func TestGoldenBareBuiltin(t *testing.T) {
	got := mustPrint(t, `kprobe:f { pid }`)
	want := "Program\n kprobe:f\n  builtin: pid\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGoldenMapAssignCount(t *testing.T) {
	got := mustPrint(t, `kprobe:sys_open { @x = count(); }`)
	want := "Program\n kprobe:sys_open\n  =\n   map: @x\n   call: count\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGoldenPredicateWithEmbeddedDivision(t *testing.T) {
	got := mustPrint(t, `kprobe:sys_open /100/25/ { 1; }`)
	want := "Program\n kprobe:sys_open\n  pred\n   /\n    int: 100\n    int: 25\n  int: 1\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGoldenCastAppliedToKnownStruct(t *testing.T) {
	got := mustPrint(t, `struct mytype { int64 a } kprobe:sys_read { (mytype)arg0+123; }`)
	if !strings.Contains(got, "(mytype)") {
		t.Fatalf("expected a (mytype) cast node, got %q", got)
	}
	if !strings.Contains(got, "+") {
		t.Fatalf("expected a + node, got %q", got)
	}
	if !strings.Contains(got, "builtin: arg0") {
		t.Fatalf("expected builtin: arg0 under the cast, got %q", got)
	}
}

func TestGoldenGroupedMultiplicationWhenNotAKnownType(t *testing.T) {
	got := mustPrint(t, `kprobe:sys_read { (arg1)*arg0; }`)
	if strings.Contains(got, "(arg1)") {
		t.Fatalf("did not expect a cast node, got %q", got)
	}
	want := "Program\n kprobe:sys_read\n  *\n   builtin: arg1\n   builtin: arg0\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestGoldenMultipleAttachPointsIncludingWildcard(t *testing.T) {
	got := mustPrint(t, `BEGIN,kprobe:sys_open,uprobe:/bin/sh:foo,tracepoint:syscalls:sys_enter_* { 1 }`)
	want := "Program\n BEGIN\n kprobe:sys_open\n uprobe:/bin/sh:foo\n tracepoint:syscalls:sys_enter_*\n  int: 1\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStringEscapingInversesLexerDecoding(t *testing.T) {
	got := mustPrint(t, `kprobe:f { "a` + `\n` + `b" }`)
	if !strings.Contains(got, `string: a\nb`) {
		t.Fatalf("expected escaped newline in output, got %q", got)
	}
}

func TestIncludeAndStructPrintBeforeProgram(t *testing.T) {
	got := mustPrint(t, "#include <linux/sched.h>\nstruct mytype { int64 a, char name[16] }\nkprobe:f { 1 }")
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if lines[0] != "#include <linux/sched.h>" {
		t.Fatalf("expected include line first, got %q", lines[0])
	}
	if lines[1] != "struct mytype" {
		t.Fatalf("expected struct line second, got %q", lines[1])
	}
	if lines[2] != " int64 a" {
		t.Fatalf("expected field line, got %q", lines[2])
	}
	if lines[3] != ` char[16] name` {
		t.Fatalf("expected array field line, got %q", lines[3])
	}
}
