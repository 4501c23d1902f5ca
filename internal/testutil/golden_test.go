package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGolden(t *testing.T, name, content string) {
	t.Helper()

	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join("testdata", name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAssertGolden_MatchingContentPasses(t *testing.T) {
	writeGolden(t, "match.golden", "expected output\n")

	mockT := &testing.T{}
	AssertGolden(mockT, "expected output\n", "match.golden")

	if mockT.Failed() {
		t.Error("AssertGolden should pass when content matches")
	}
}

func TestReadGolden(t *testing.T) {
	writeGolden(t, "read.golden", "probe log line")

	if got := ReadGolden(t, "read.golden"); got != "probe log line" {
		t.Errorf("ReadGolden() = %q, want %q", got, "probe log line")
	}

	if got := ReadGolden(t, "nonexistent.golden"); got != "" {
		t.Errorf("ReadGolden() for missing file = %q, want empty", got)
	}
}

func TestGoldenPath(t *testing.T) {
	want := filepath.Join("testdata", "view.golden")
	if got := GoldenPath("view.golden"); got != want {
		t.Errorf("GoldenPath() = %q, want %q", got, want)
	}
}
