package session

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	p := filepath.Join(parts...)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestKey_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a, b := Key(dir), Key(dir)
	if a != b {
		t.Errorf("Key not stable: %q vs %q", a, b)
	}
	if len(a) != KeyLength {
		t.Errorf("len(Key) = %d, want %d", len(a), KeyLength)
	}
}

func TestKey_DistinctDirectories(t *testing.T) {
	base := t.TempDir()
	a := mkdir(t, base, "one")
	b := mkdir(t, base, "two")
	if Key(a) == Key(b) {
		t.Error("unrelated directories share a session key")
	}
}

func TestKey_StableInsideRepository(t *testing.T) {
	repo := t.TempDir()
	mkdir(t, repo, ".git")
	sub := mkdir(t, repo, "internal", "pkg")

	if Key(sub) != Key(repo) {
		t.Error("subdirectory of a repository should share the repository key")
	}
	if Root(sub) != Root(repo) {
		t.Errorf("Root(sub) = %q, want %q", Root(sub), Root(repo))
	}
}

func TestKey_WorktreesAreDistinct(t *testing.T) {
	base := t.TempDir()
	main := mkdir(t, base, "main")
	mkdir(t, main, ".git")
	wt := mkdir(t, base, "main", "worktrees", "feature")
	// A linked worktree has a .git file pointing at the main repository.
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: ../../.git/worktrees/feature\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if Key(wt) == Key(main) {
		t.Error("worktree shares a key with the main checkout")
	}
}

func TestKey_TrailingSlashAndDots(t *testing.T) {
	dir := t.TempDir()
	sub := mkdir(t, dir, "x")
	if Key(sub) != Key(sub+string(filepath.Separator)) {
		t.Error("trailing separator changed the key")
	}
	if Key(filepath.Join(sub, "..", "x")) != Key(sub) {
		t.Error("dot segments changed the key")
	}
}

func TestKey_EmptyUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) }) //nolint:errcheck // test cleanup
	if Key("") != Key(dir) {
		t.Error("Key(\"\") should match the process working directory")
	}
}
