package installer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSelectAssetPrefersMatchingHints(t *testing.T) {
	assets := []ghAsset{
		{Name: "tool_darwin_amd64.tar.gz"},
		{Name: "tool_linux_amd64.tar.gz"},
		{Name: "tool_linux_arm64.tar.gz"},
	}
	got, err := selectAsset(assets, []string{"linux", "amd64"}, nil)
	if err != nil {
		t.Fatalf("selectAsset() failed: %v", err)
	}
	if got.Name != "tool_linux_amd64.tar.gz" {
		t.Fatalf("selectAsset() = %q, want tool_linux_amd64.tar.gz", got.Name)
	}
}

func TestSelectAssetHonorsSkip(t *testing.T) {
	assets := []ghAsset{
		{Name: "tool_linux_amd64.tar.gz.sha256"},
		{Name: "tool_linux_amd64.tar.gz"},
	}
	got, err := selectAsset(assets, []string{"linux", "amd64"}, []string{"sha256"})
	if err != nil {
		t.Fatalf("selectAsset() failed: %v", err)
	}
	if got.Name != "tool_linux_amd64.tar.gz" {
		t.Fatalf("selectAsset() = %q, want tool_linux_amd64.tar.gz", got.Name)
	}
}

func TestSelectAssetNoMatch(t *testing.T) {
	assets := []ghAsset{{Name: "tool_windows_amd64.zip"}}
	if _, err := selectAsset(assets, []string{"linux"}, nil); err == nil {
		t.Fatalf("expected an error when no asset matches")
	}
}

func TestFindSignatureAsset(t *testing.T) {
	assets := []ghAsset{
		{Name: "tool_linux_amd64.tar.gz"},
		{Name: "tool_linux_amd64.tar.gz.sig"},
	}
	sig := findSignatureAsset(assets, "tool_linux_amd64.tar.gz")
	if sig == nil || sig.Name != "tool_linux_amd64.tar.gz.sig" {
		t.Fatalf("findSignatureAsset() = %+v, want the .sig asset", sig)
	}
	if findSignatureAsset(assets, "other.tar.gz") != nil {
		t.Fatalf("expected no signature asset for an unrelated artifact")
	}
}

func TestVerifyChecksum(t *testing.T) {
	if err := verifyChecksum("", "anything"); err != nil {
		t.Fatalf("expected no checksum requirement to pass, got %v", err)
	}
	if err := verifyChecksum("ABCD", "abcd"); err != nil {
		t.Fatalf("expected case-insensitive match to pass, got %v", err)
	}
	if err := verifyChecksum("abcd", "ffff"); err == nil {
		t.Fatalf("expected mismatched checksums to fail")
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	dest := t.TempDir()
	if _, err := safeJoin(dest, "../../etc/passwd"); err == nil {
		t.Fatalf("expected safeJoin to reject a path traversal entry")
	}
	target, err := safeJoin(dest, "bin/tool")
	if err != nil {
		t.Fatalf("safeJoin() failed for a well-formed entry: %v", err)
	}
	if filepath.Dir(target) != filepath.Join(dest, "bin") {
		t.Fatalf("safeJoin() = %q, unexpected parent", target)
	}
}

func TestDiscoverBinPathsPrefersTopLevelBin(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatalf("failed to seed bin dir: %v", err)
	}
	if got := discoverBinPaths(root); len(got) != 1 || got[0] != "bin" {
		t.Fatalf("discoverBinPaths() = %v, want [bin]", got)
	}
}

func TestDiscoverBinPathsFallsBackToNestedBin(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "tool-1.0", "bin"), 0o755); err != nil {
		t.Fatalf("failed to seed nested bin dir: %v", err)
	}
	got := discoverBinPaths(root)
	if len(got) != 1 || got[0] != filepath.Join("tool-1.0", "bin") {
		t.Fatalf("discoverBinPaths() = %v, want [tool-1.0/bin]", got)
	}
}

func TestDiscoverBinPathsFallsBackToRoot(t *testing.T) {
	root := t.TempDir()
	if got := discoverBinPaths(root); len(got) != 1 || got[0] != "." {
		t.Fatalf("discoverBinPaths() = %v, want [.]", got)
	}
}
