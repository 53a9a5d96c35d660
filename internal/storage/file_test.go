package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testKey = "0123456789abcdef"

// fakeClock is a settable clock shared by a FileStore under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, opts ...FileStoreOption) (*FileStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []FileStoreOption{WithDir(t.TempDir()), WithClock(clock.Now)}
	return NewFileStore(append(base, opts...)...), clock
}

func TestNewFileStore_Defaults(t *testing.T) {
	fs := NewFileStore()
	if fs.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", fs.TTL(), DefaultTTL)
	}
	if fs.snippetLen != DefaultSnippetLength {
		t.Errorf("snippetLen = %d, want %d", fs.snippetLen, DefaultSnippetLength)
	}
	if fs.Dir == "" {
		t.Error("Dir should default to a temp location")
	}
}

func TestConsumeBypass_SingleUse(t *testing.T) {
	fs, _ := newTestStore(t)

	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatalf("CreateBypass() error = %v", err)
	}
	if !fs.BypassArmed(testKey) {
		t.Error("BypassArmed() = false right after CreateBypass")
	}
	if !fs.TryConsumeBypass(testKey) {
		t.Fatal("first TryConsumeBypass() = false, want true")
	}
	if fs.TryConsumeBypass(testKey) {
		t.Error("second TryConsumeBypass() = true, token replayed")
	}
	if err := fs.ConsumeBypass(testKey); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("ConsumeBypass() after use error = %v, want ErrTokenNotFound", err)
	}
	if fs.BypassArmed(testKey) {
		t.Error("BypassArmed() = true after consumption")
	}
}

func TestConsumeBypass_NeverCreated(t *testing.T) {
	fs, _ := newTestStore(t)
	if fs.TryConsumeBypass(testKey) {
		t.Error("TryConsumeBypass() = true with no token")
	}
}

func TestConsumeBypass_Expired(t *testing.T) {
	fs, clock := newTestStore(t)

	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultTTL + time.Second)

	if _, err := os.Stat(fs.tokenPath(testKey)); err != nil {
		t.Fatalf("token file should still exist before consumption: %v", err)
	}
	if err := fs.ConsumeBypass(testKey); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ConsumeBypass() error = %v, want ErrTokenExpired", err)
	}
	// The stale token was claimed and cleaned up; it cannot be retried.
	if _, err := os.Stat(fs.tokenPath(testKey)); !os.IsNotExist(err) {
		t.Errorf("expired token should be removed after the claim, stat err = %v", err)
	}
	assertNoClaimedLeftovers(t, fs.Dir)
}

func TestConsumeBypass_BoundaryIsExclusive(t *testing.T) {
	fs, clock := newTestStore(t, WithTTL(10*time.Second))

	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	if fs.TryConsumeBypass(testKey) {
		t.Error("token exactly TTL old should be rejected")
	}
}

func TestConsumeBypass_FutureTimestampRejected(t *testing.T) {
	fs, clock := newTestStore(t)
	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(-time.Minute)
	if err := fs.ConsumeBypass(testKey); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ConsumeBypass() error = %v, want ErrTokenExpired", err)
	}
}

func TestConsumeBypass_Malformed(t *testing.T) {
	fs, _ := newTestStore(t)
	if err := os.MkdirAll(fs.Dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fs.tokenPath(testKey), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := fs.ConsumeBypass(testKey); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("ConsumeBypass() error = %v, want ErrTokenMalformed", err)
	}
	assertNoClaimedLeftovers(t, fs.Dir)
}

func TestCreateBypass_OverwritesPrior(t *testing.T) {
	fs, clock := newTestStore(t)

	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultTTL - time.Second)
	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Second)

	if !fs.TryConsumeBypass(testKey) {
		t.Error("re-armed token should be measured from the second creation")
	}
	if fs.TryConsumeBypass(testKey) {
		t.Error("re-arming must not leave two tokens")
	}
}

func TestConsumeBypass_SessionsAreIsolated(t *testing.T) {
	fs, _ := newTestStore(t)
	if err := fs.CreateBypass("aaaa"); err != nil {
		t.Fatal(err)
	}
	if fs.TryConsumeBypass("bbbb") {
		t.Error("token leaked across sessions")
	}
	if !fs.TryConsumeBypass("aaaa") {
		t.Error("owning session could not consume its token")
	}
}

func TestConsumeBypass_Concurrent(t *testing.T) {
	const callers = 32

	for round := 0; round < 20; round++ {
		fs := NewFileStore(WithDir(t.TempDir()))
		if err := fs.CreateBypass(testKey); err != nil {
			t.Fatal(err)
		}

		var (
			wins  atomic.Int32
			wg    sync.WaitGroup
			start = make(chan struct{})
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Each caller gets its own store, as separate hook processes would.
				caller := NewFileStore(WithDir(fs.Dir))
				<-start
				if caller.TryConsumeBypass(testKey) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Fatalf("round %d: %d callers consumed the token, want exactly 1", round, got)
		}
		assertNoClaimedLeftovers(t, fs.Dir)
	}
}

func TestConsumeBypass_ClearsBlockedState(t *testing.T) {
	fs, _ := newTestStore(t)

	fs.RecordBlocked(testKey, "HIGH", "recursive force delete", "rm -rf /tmp/x")
	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	if !fs.TryConsumeBypass(testKey) {
		t.Fatal("TryConsumeBypass() = false")
	}
	if _, err := os.Stat(fs.blockedPath(testKey)); !os.IsNotExist(err) {
		t.Errorf("blocked state should be removed, stat err = %v", err)
	}
}

func TestConsumeBypass_ExpiredKeepsBlockedState(t *testing.T) {
	fs, clock := newTestStore(t, WithTTL(time.Hour))

	if err := fs.CreateBypass(testKey); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	fs.RecordBlocked(testKey, "HIGH", "label", "cmd")

	if fs.TryConsumeBypass(testKey) {
		t.Fatal("expired token accepted")
	}
	if _, err := os.Stat(fs.blockedPath(testKey)); err != nil {
		t.Errorf("blocked state should survive a failed bypass: %v", err)
	}
}

func TestRecordBlocked_TruncatesAndReads(t *testing.T) {
	fs, _ := newTestStore(t)

	long := "rm -rf " + strings.Repeat("é", 300)
	fs.RecordBlocked(testKey, "HIGH", "recursive force delete", long)

	state, err := fs.LastBlocked(testKey)
	if err != nil {
		t.Fatalf("LastBlocked() error = %v", err)
	}
	if state == nil {
		t.Fatal("LastBlocked() = nil, want state")
	}
	if n := len([]rune(state.Command)); n != DefaultSnippetLength {
		t.Errorf("snippet length = %d runes, want %d", n, DefaultSnippetLength)
	}
	if state.Severity != "HIGH" || state.Label != "recursive force delete" || state.Session != testKey {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestRecordBlocked_Overwrites(t *testing.T) {
	fs, _ := newTestStore(t)
	fs.RecordBlocked(testKey, "HIGH", "first", "a")
	fs.RecordBlocked(testKey, "MEDIUM", "second", "b")

	state, err := fs.LastBlocked(testKey)
	if err != nil || state == nil {
		t.Fatalf("LastBlocked() = %v, %v", state, err)
	}
	if state.Label != "second" {
		t.Errorf("Label = %q, want most recent block", state.Label)
	}
}

func TestLastBlocked_StaleIsNil(t *testing.T) {
	fs, clock := newTestStore(t)
	fs.RecordBlocked(testKey, "HIGH", "label", "cmd")
	clock.Advance(DefaultTTL)

	state, err := fs.LastBlocked(testKey)
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Errorf("LastBlocked() = %+v, want nil once stale", state)
	}
}

func TestLastBlocked_Absent(t *testing.T) {
	fs, _ := newTestStore(t)
	state, err := fs.LastBlocked(testKey)
	if state != nil || err != nil {
		t.Errorf("LastBlocked() = %v, %v; want nil, nil", state, err)
	}
}

func TestUnwritableDirectory_DegradesQuietly(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	fs := NewFileStore(WithDir(filepath.Join(blocker, "state")))

	if err := fs.CreateBypass(testKey); err == nil {
		t.Error("CreateBypass() should report an error")
	}
	if fs.TryConsumeBypass(testKey) {
		t.Error("TryConsumeBypass() = true on broken store")
	}
	fs.RecordBlocked(testKey, "HIGH", "label", "cmd")
	fs.ClearBlocked(testKey)
	fs.AppendAudit(&AuditRecord{Outcome: "block"})
}

func TestInvalidSessionKey(t *testing.T) {
	fs, _ := newTestStore(t)
	for _, key := range []string{"", "../escape", "a/b", "with space", strings.Repeat("a", 129)} {
		if err := fs.CreateBypass(key); !errors.Is(err, ErrInvalidSessionKey) {
			t.Errorf("CreateBypass(%q) error = %v, want ErrInvalidSessionKey", key, err)
		}
		if fs.TryConsumeBypass(key) {
			t.Errorf("TryConsumeBypass(%q) = true", key)
		}
	}
}

func TestAppendAudit(t *testing.T) {
	fs, _ := newTestStore(t, WithSnippetLength(8))

	fs.AppendAudit(&AuditRecord{Session: testKey, Outcome: "block", Severity: "HIGH", Label: "l", Command: "rm -rf /very/long/path"})
	fs.AppendAudit(&AuditRecord{Session: testKey, Outcome: "bypass"})

	f, err := os.Open(fs.AuditPath())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var recs []AuditRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r AuditRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad audit line %q: %v", sc.Text(), err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(recs))
	}
	if recs[0].Command != "rm -rf /" {
		t.Errorf("audit command = %q, want truncated to 8 runes", recs[0].Command)
	}
	if recs[1].Time.IsZero() {
		t.Error("audit time should be filled in")
	}
}

func TestAppendAudit_Rotates(t *testing.T) {
	fs, _ := newTestStore(t, WithAuditLimit(64))

	for i := 0; i < 5; i++ {
		fs.AppendAudit(&AuditRecord{Session: testKey, Outcome: "block", Label: "some label text"})
	}
	if _, err := os.Stat(fs.AuditPath() + ".1"); err != nil {
		t.Errorf("expected rotated audit file: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"longer than ten", 10, "longer tha"},
		{"日本語テキスト", 3, "日本語"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func assertNoClaimedLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), consumedInfix) {
			t.Errorf("claimed token left behind: %s", e.Name())
		}
	}
}
