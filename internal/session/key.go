// Package session derives the key that scopes gate state to one working tree.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// KeyLength is the number of hex characters in a session key.
const KeyLength = 16

// Key returns the session key for cwd. The key is stable for every directory
// inside the same checkout and differs between worktrees, because each
// worktree carries its own .git entry. Outside a repository the directory
// itself is the root. An empty cwd means the process working directory.
func Key(cwd string) string {
	sum := sha256.Sum256([]byte(Root(cwd)))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// Root returns the directory a session key is derived from.
func Root(cwd string) string {
	dir := normalize(cwd)
	for d := dir; ; {
		if _, err := os.Lstat(filepath.Join(d, ".git")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}

func normalize(cwd string) string {
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	if abs, err := filepath.Abs(cwd); err == nil {
		cwd = abs
	}
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	return filepath.Clean(cwd)
}
