package version

import (
	"strings"
	"testing"
)

func TestLdflagsWin(t *testing.T) {
	Version, Commit, BuildTime = "v1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05Z"
	t.Cleanup(func() { Version, Commit, BuildTime = "", "", "" })

	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef0123" {
		t.Fatalf("info = %+v", info)
	}
	if got := String(); !strings.HasPrefix(got, "v1.2.3 (0123456789ab") {
		t.Fatalf("String() = %q", got)
	}
}

func TestShortCommit(t *testing.T) {
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit(abc) = %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
}

func TestVersionNeverEmpty(t *testing.T) {
	if Resolve().Version == "" {
		t.Fatal("empty version")
	}
	if Resolve().GoVersion == "" {
		t.Fatal("empty go version")
	}
}
