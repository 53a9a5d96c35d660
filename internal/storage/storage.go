// Package storage persists the small amount of per-session state the gate
// shares between hook processes: the one-shot bypass token, the most recent
// block event, and an append-only audit trail.
package storage

import "time"

// BypassToken is the on-disk record of an armed bypass.
type BypassToken struct {
	// Session is the key the token was armed for.
	Session string `json:"session"`

	// CreatedAt is when the user armed the token.
	CreatedAt time.Time `json:"created_at"`
}

// BlockedState is a snapshot of the most recent block for a session, read by
// status displays.
type BlockedState struct {
	Session   string    `json:"session" yaml:"session"`
	Severity  string    `json:"severity" yaml:"severity"`
	Label     string    `json:"label" yaml:"label"`
	Command   string    `json:"command" yaml:"command"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// AuditRecord is one line of the audit trail.
type AuditRecord struct {
	Time     time.Time `json:"time"`
	Session  string    `json:"session"`
	Outcome  string    `json:"outcome"`
	Severity string    `json:"severity,omitempty"`
	Label    string    `json:"label,omitempty"`
	Command  string    `json:"command,omitempty"`
}

// Store is the state the gate depends on. Implementations must make
// TryConsumeBypass atomic across processes: for one armed token, exactly one
// concurrent caller may observe true.
type Store interface {
	// CreateBypass arms a fresh token for the session, replacing any prior one.
	CreateBypass(sessionKey string) error

	// TryConsumeBypass consumes the session's token. It reports true only if
	// this caller won the token and it was still within its TTL. Errors are
	// folded into false.
	TryConsumeBypass(sessionKey string) bool

	// BypassArmed reports, without consuming, whether a live token exists.
	BypassArmed(sessionKey string) bool

	// RecordBlocked persists a bounded snapshot of a block event. Best-effort.
	RecordBlocked(sessionKey, severity, label, command string)

	// ClearBlocked removes the session's snapshot. Best-effort.
	ClearBlocked(sessionKey string)

	// LastBlocked returns the session's snapshot, or nil when there is none
	// or it is older than the TTL.
	LastBlocked(sessionKey string) (*BlockedState, error)

	// AppendAudit appends a record to the audit trail. Best-effort.
	AppendAudit(rec *AuditRecord)
}
