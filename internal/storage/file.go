package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL bounds both bypass tokens and blocked-state snapshots.
	DefaultTTL = 30 * time.Second

	// DefaultSnippetLength is the number of runes of command text kept.
	DefaultSnippetLength = 100

	// DefaultAuditLimit is the audit file size that triggers rotation.
	DefaultAuditLimit = 1 << 20

	// AuditFile is the name of the audit trail.
	AuditFile = "audit.jsonl"

	bypassPrefix    = "bypass-"
	blockedPrefix   = "blocked-"
	consumedInfix   = ".consumed-"
	stateFileSuffix = ".json"
)

// FileStore implements Store on a shared local directory.
//
// Token consumption relies on rename(2) being atomic within one directory:
// every consumer renames the token to a name only it knows, so at most one
// rename can succeed and only the winner ever reads the token.
type FileStore struct {
	// Dir is the state directory shared by all hook processes.
	Dir string

	ttl        time.Duration
	snippetLen int
	auditLimit int64
	now        func() time.Time
	log        *slog.Logger
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*FileStore)

// WithDir sets the state directory.
func WithDir(dir string) FileStoreOption {
	return func(fs *FileStore) {
		fs.Dir = dir
	}
}

// WithTTL sets the token and snapshot lifetime.
func WithTTL(ttl time.Duration) FileStoreOption {
	return func(fs *FileStore) {
		if ttl > 0 {
			fs.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) FileStoreOption {
	return func(fs *FileStore) {
		fs.now = now
	}
}

// WithSnippetLength bounds the command text kept in snapshots and audit records.
func WithSnippetLength(n int) FileStoreOption {
	return func(fs *FileStore) {
		if n > 0 {
			fs.snippetLen = n
		}
	}
}

// WithAuditLimit sets the audit file size that triggers rotation.
func WithAuditLimit(n int64) FileStoreOption {
	return func(fs *FileStore) {
		fs.auditLimit = n
	}
}

// WithLogger sets the logger used for swallowed errors.
func WithLogger(log *slog.Logger) FileStoreOption {
	return func(fs *FileStore) {
		if log != nil {
			fs.log = log
		}
	}
}

// NewFileStore creates a new file-based store.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	fs := &FileStore{
		Dir:        filepath.Join(os.TempDir(), "safegate"),
		ttl:        DefaultTTL,
		snippetLen: DefaultSnippetLength,
		auditLimit: DefaultAuditLimit,
		now:        time.Now,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(fs)
	}

	return fs
}

var _ Store = (*FileStore)(nil)

// TTL returns the configured lifetime.
func (fs *FileStore) TTL() time.Duration {
	return fs.ttl
}

// CreateBypass arms a fresh token, overwriting any existing one.
func (fs *FileStore) CreateBypass(sessionKey string) error {
	if err := validateKey(sessionKey); err != nil {
		return err
	}
	tok := BypassToken{Session: sessionKey, CreatedAt: fs.now().UTC()}
	return atomicWrite(fs.tokenPath(sessionKey), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(tok)
	})
}

// TryConsumeBypass implements Store.
func (fs *FileStore) TryConsumeBypass(sessionKey string) bool {
	err := fs.ConsumeBypass(sessionKey)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		fs.log.Debug("bypass token rejected", "session", sessionKey, "error", err)
	}
	return err == nil
}

// ConsumeBypass is TryConsumeBypass with the reason for failure. It returns
// nil only for the caller that won a live token.
func (fs *FileStore) ConsumeBypass(sessionKey string) error {
	if err := validateKey(sessionKey); err != nil {
		return err
	}

	src := fs.tokenPath(sessionKey)
	claimed := src + consumedInfix + uuid.New().String()

	// The rename is the only arbiter. A failure means another caller won or
	// no token was ever armed; either way there is nothing to inspect.
	if err := os.Rename(src, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("claim token: %w", err)
	}

	data, readErr := os.ReadFile(claimed)
	if err := os.Remove(claimed); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.log.Warn("remove consumed token", "path", claimed, "error", err)
	}
	if readErr != nil {
		return fmt.Errorf("read claimed token: %w", readErr)
	}

	var tok BypassToken
	if err := json.Unmarshal(data, &tok); err != nil || tok.CreatedAt.IsZero() {
		return ErrTokenMalformed
	}

	if !fs.fresh(tok.CreatedAt) {
		return ErrTokenExpired
	}

	fs.ClearBlocked(sessionKey)
	return nil
}

// BypassArmed implements Store.
func (fs *FileStore) BypassArmed(sessionKey string) bool {
	if validateKey(sessionKey) != nil {
		return false
	}
	data, err := os.ReadFile(fs.tokenPath(sessionKey))
	if err != nil {
		return false
	}
	var tok BypassToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return false
	}
	return fs.fresh(tok.CreatedAt)
}

// RecordBlocked implements Store.
func (fs *FileStore) RecordBlocked(sessionKey, severity, label, command string) {
	if err := validateKey(sessionKey); err != nil {
		fs.log.Debug("record blocked skipped", "error", err)
		return
	}
	state := BlockedState{
		Session:   sessionKey,
		Severity:  severity,
		Label:     label,
		Command:   Truncate(command, fs.snippetLen),
		Timestamp: fs.now().UTC(),
	}
	err := atomicWrite(fs.blockedPath(sessionKey), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(state)
	})
	if err != nil {
		fs.log.Warn("record blocked state", "session", sessionKey, "error", err)
	}
}

// ClearBlocked implements Store.
func (fs *FileStore) ClearBlocked(sessionKey string) {
	if validateKey(sessionKey) != nil {
		return
	}
	if err := os.Remove(fs.blockedPath(sessionKey)); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.log.Warn("clear blocked state", "session", sessionKey, "error", err)
	}
}

// LastBlocked implements Store.
func (fs *FileStore) LastBlocked(sessionKey string) (*BlockedState, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.blockedPath(sessionKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocked state: %w", err)
	}

	var state BlockedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse blocked state: %w", err)
	}
	if !fs.fresh(state.Timestamp) {
		return nil, nil
	}
	return &state, nil
}

// AppendAudit implements Store.
func (fs *FileStore) AppendAudit(rec *AuditRecord) {
	if rec == nil {
		return
	}
	r := *rec
	if r.Time.IsZero() {
		r.Time = fs.now().UTC()
	}
	r.Command = Truncate(r.Command, fs.snippetLen)

	path := fs.AuditPath()
	fs.rotateAudit(path)
	if err := appendJSONL(path, &r); err != nil {
		fs.log.Warn("append audit record", "error", err)
	}
}

// rotateAudit moves the audit file aside once it passes the limit. Two
// processes may both rotate; the loser's rename fails harmlessly.
func (fs *FileStore) rotateAudit(path string) {
	if fs.auditLimit <= 0 {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() < fs.auditLimit {
		return
	}
	_ = os.Rename(path, path+".1") //nolint:errcheck // lost rotation race is fine
}

// fresh reports whether t lies within the TTL window ending now. Timestamps
// from the future are treated as invalid.
func (fs *FileStore) fresh(t time.Time) bool {
	age := fs.now().Sub(t)
	return age >= 0 && age < fs.ttl
}

// tokenPath returns the bypass token path for a session.
func (fs *FileStore) tokenPath(sessionKey string) string {
	return filepath.Join(fs.Dir, bypassPrefix+sessionKey+stateFileSuffix)
}

func (fs *FileStore) blockedPath(sessionKey string) string {
	return filepath.Join(fs.Dir, blockedPrefix+sessionKey+stateFileSuffix)
}

// AuditPath returns the full path to the audit trail.
func (fs *FileStore) AuditPath() string {
	return filepath.Join(fs.Dir, AuditFile)
}

// validateKey rejects keys that could escape the state directory.
func validateKey(key string) error {
	if key == "" || len(key) > 128 {
		return ErrInvalidSessionKey
	}
	for _, r := range key {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			return ErrInvalidSessionKey
		}
	}
	return nil
}

// Truncate limits s to n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// atomicWrite writes to a temp file and renames atomically.
func atomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// appendJSONL appends a JSON line to a file. O_APPEND keeps concurrent
// single-line writers from interleaving within a line.
func appendJSONL(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // close best-effort after write
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}
