package envfile

import (
	"strings"
	"testing"

	"github.com/xaf/omni/internal/env"
)

func TestParseSetAndUnset(t *testing.T) {
	ops, err := Parse(strings.NewReader("FOO=bar\nunset BAZ\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	want := []env.Op{{Kind: env.Set, Name: "FOO", Value: "bar"}, {Kind: env.Unset, Name: "BAZ"}}
	if len(ops) != 2 || ops[0] != want[0] || ops[1] != want[1] {
		t.Fatalf("unexpected ops: %v", ops)
	}
}

func TestParsePathOperators(t *testing.T) {
	ops, err := Parse(strings.NewReader("PATH<<=/opt/tool/bin\nPATH>>=/opt/tool/sbin\nPATH-=/old/bin\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].Kind != env.Prepend || ops[1].Kind != env.Append || ops[2].Kind != env.Remove {
		t.Fatalf("unexpected op kinds: %v", ops)
	}
}

func TestParsePrefixSuffix(t *testing.T) {
	ops, err := Parse(strings.NewReader("LD_LIBRARY_PATH<=/opt/lib:\nLD_LIBRARY_PATH>=:/opt/lib2\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if ops[0].Kind != env.Prefix || ops[1].Kind != env.Suffix {
		t.Fatalf("unexpected op kinds: %v", ops)
	}
}

func TestParseHeredoc(t *testing.T) {
	doc := "SCRIPT<<EOF\nline one\nline two\nEOF\n"
	ops, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(ops) != 1 || ops[0].Value != "line one\nline two" {
		t.Fatalf("unexpected heredoc value: %+v", ops)
	}
}

func TestParseHeredocStripLeadingTabs(t *testing.T) {
	doc := "SCRIPT<<-EOF\n\tindented\n\tlines\nEOF\n"
	ops, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if ops[0].Value != "indented\nlines" {
		t.Fatalf("expected tabs stripped, got %q", ops[0].Value)
	}
}

func TestParseMalformedLineFails(t *testing.T) {
	_, err := Parse(strings.NewReader("not a valid directive\n"))
	if err == nil {
		t.Fatal("expected error for malformed directive")
	}
}

func TestParseUnterminatedHeredocFails(t *testing.T) {
	_, err := Parse(strings.NewReader("SCRIPT<<EOF\nline one\n"))
	if err == nil {
		t.Fatal("expected error for unterminated heredoc")
	}
}
