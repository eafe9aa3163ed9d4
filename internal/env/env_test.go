package env

import "testing"

func TestScopeFiltersByDirSubpath(t *testing.T) {
	contributions := []Contribution{
		{Ops: []Op{{Kind: Set, Name: "GLOBAL", Value: "1"}}},
		{DirSubpath: "services/api", Ops: []Op{{Kind: Set, Name: "API_ONLY", Value: "1"}}},
	}

	inScope := Scope("services/api/handlers", contributions)
	if len(inScope) != 2 {
		t.Fatalf("expected both contributions in scope, got %v", inScope)
	}

	outOfScope := Scope("services/web", contributions)
	if len(outOfScope) != 1 || outOfScope[0].Name != "GLOBAL" {
		t.Fatalf("expected only the unscoped contribution, got %v", outOfScope)
	}
}

func TestBuildDedupsExactDuplicates(t *testing.T) {
	ops := []Op{
		{Kind: Set, Name: "FOO", Value: "1"},
		{Kind: Set, Name: "FOO", Value: "1"},
	}
	built := Build(ops)
	if len(built) != 1 {
		t.Fatalf("expected exact duplicate to be a no-op, got %v", built)
	}
}

func TestBuildOrdersSetsBeforePathOps(t *testing.T) {
	ops := []Op{
		{Kind: Prepend, Name: "PATH", Value: "/a/bin"},
		{Kind: Set, Name: "FOO", Value: "1"},
	}
	built := Build(ops)
	if built[0].Kind != Set || built[1].Kind != Prepend {
		t.Fatalf("expected sets before path ops, got %v", built)
	}
}

func TestBuildRemoveWinsOverPrepend(t *testing.T) {
	ops := []Op{
		{Kind: Prepend, Name: "PATH", Value: "/a/bin"},
		{Kind: Remove, Name: "PATH", Value: "/a/bin"},
	}
	built := Build(ops)
	for _, op := range built {
		if op.Kind == Prepend {
			t.Fatalf("expected Prepend to be cancelled by Remove, got %v", built)
		}
	}
}

func TestFingerprintIsOrderSensitiveAndStable(t *testing.T) {
	a := []Op{{Kind: Set, Name: "FOO", Value: "1"}, {Kind: Set, Name: "BAR", Value: "2"}}
	b := []Op{{Kind: Set, Name: "BAR", Value: "2"}, {Kind: Set, Name: "FOO", Value: "1"}}

	if Fingerprint(a) == Fingerprint(b) {
		t.Error("expected fingerprint to depend on op order")
	}
	if Fingerprint(a) != Fingerprint(a) {
		t.Error("expected fingerprint to be stable across calls")
	}
}

func TestDiffUnsetsDroppedNames(t *testing.T) {
	previous := []Op{{Kind: Set, Name: "OLD", Value: "1"}, {Kind: Set, Name: "KEPT", Value: "1"}}
	current := []Op{{Kind: Set, Name: "KEPT", Value: "2"}}

	diff := Diff(previous, current)
	if len(diff) != 2 || diff[0] != (Op{Kind: Unset, Name: "OLD"}) {
		t.Fatalf("expected OLD to be unset first, got %v", diff)
	}
}

func TestEmitPathOpsReadCurrentValue(t *testing.T) {
	getenv := func(name string) string {
		if name == "PATH" {
			return "/usr/bin:/bin"
		}
		return ""
	}

	lines := Emit(POSIX, []Op{{Kind: Prepend, Name: "PATH", Value: "/opt/tool/bin"}}, getenv)
	want := "export PATH='/opt/tool/bin:/usr/bin:/bin'"
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("expected %q, got %v", want, lines)
	}
}

func TestEmitFishDialect(t *testing.T) {
	lines := Emit(Fish, []Op{{Kind: Set, Name: "FOO", Value: "bar"}, {Kind: Unset, Name: "BAZ"}}, func(string) string { return "" })
	if len(lines) != 2 || lines[0] != "set -gx FOO 'bar';" || lines[1] != "set -e BAZ;" {
		t.Fatalf("unexpected fish emission: %v", lines)
	}
}
