package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	path := PathIn(t.TempDir())
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return path
}

func TestGet_BeforeInitDiscards(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	log := Get()
	if log == nil {
		t.Fatal("Get() returned nil")
	}
	log.Info("goes nowhere")
	if Path() != "" {
		t.Errorf("Path() = %q before Init, want empty", Path())
	}
}

func TestInit_WritesStructuredLines(t *testing.T) {
	path := setupTestLogger(t)

	WithSession("abc123").Info("blocked", "label", "recursive force delete")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(content)
	for _, want := range []string{"msg=blocked", "session=abc123", `label="recursive force delete"`} {
		if !strings.Contains(s, want) {
			t.Errorf("log missing %q:\n%s", want, s)
		}
	}
}

func TestSetDebug(t *testing.T) {
	path := setupTestLogger(t)

	Get().Debug("hidden")
	SetDebug(true)
	WithComponent("rules").Debug("visible")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(content)
	if strings.Contains(s, "hidden") {
		t.Error("debug line logged before SetDebug(true)")
	}
	if !strings.Contains(s, "visible") || !strings.Contains(s, "component=rules") {
		t.Errorf("expected debug line with component, got:\n%s", s)
	}
}

func TestInit_UnwritableDirectory(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Init(filepath.Join(blocker, "sub", FileName)); err == nil {
		t.Fatal("Init() should fail when the parent is a regular file")
	}
	Get().Info("still safe")
}
