package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	cases := map[string]string{
		"":           "",
		"/tmp":       "/tmp",
		"~":          home,
		"~/work/dep": filepath.Join(home, "work/dep"),
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandHome(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestPathExistsAndIsDir(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !PathExists(f) || !PathExists(dir) {
		t.Fatalf("expected paths to exist")
	}
	if PathExists(filepath.Join(dir, "missing")) {
		t.Fatalf("missing path reported as existing")
	}
	if !IsDir(dir) || IsDir(f) {
		t.Fatalf("IsDir mismatch")
	}
}

func TestTailFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "serve.log")
	content := strings.Repeat("a", 100) + "last line\n"
	if err := os.WriteFile(f, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := TailFile(f, 10); got != "last line" {
		t.Fatalf("TailFile=%q", got)
	}
	if got := TailFile(f, 4096); got != strings.TrimSpace(content) {
		t.Fatalf("TailFile whole file mismatch: %q", got)
	}
	if got := TailFile(filepath.Join(dir, "none"), 10); got != "" {
		t.Fatalf("TailFile missing=%q", got)
	}
}
