package safety

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/boshu2/safegate/internal/session"
	"github.com/boshu2/safegate/internal/storage"
)

// Outcome is the result of evaluating one command.
type Outcome int

const (
	// Allow lets the command run.
	Allow Outcome = iota
	// Block stops the command.
	Block
	// AllowViaBypass lets a matched command run because a live bypass token
	// was consumed.
	AllowViaBypass
)

func (o Outcome) String() string {
	switch o {
	case Block:
		return "block"
	case AllowViaBypass:
		return "allow-via-bypass"
	default:
		return "allow"
	}
}

// PermissionModeUnattended is the agent permission mode in which tool calls
// run without asking the user.
const PermissionModeUnattended = "bypassPermissions"

// Request is one proposed command.
type Request struct {
	Command string
	// Cwd is the directory the command would run in. It is used to derive
	// SessionKey when that is empty.
	Cwd            string
	SessionKey     string
	PermissionMode string
	// ToolName is the agent tool proposing the command. Empty means a shell
	// command.
	ToolName string
}

// Verdict is the gate's decision for one Request.
type Verdict struct {
	Outcome Outcome
	// Match is set whenever a rule matched, including bypassed commands.
	Match *Match
	// Message is the user-facing explanation for a block.
	Message string
	// Reason says why an allowed command was not classified.
	Reason string
}

// Decision returns the wire decision: "block" or "allow".
func (v Verdict) Decision() string {
	if v.Outcome == Block {
		return "block"
	}
	return "allow"
}

// Gate combines the rule set, container filter and state store into a single
// decision. The zero value allows everything.
type Gate struct {
	Rules      *RuleSet
	Containers *ContainerFilter
	Store      storage.Store

	// Phrase is quoted in block messages.
	Phrase string
	// TTL is quoted in block messages.
	TTL time.Duration

	Disabled       bool
	Disposable     bool
	OnlyUnattended bool

	Log *slog.Logger
}

// Evaluate decides whether req may run. It never returns an error: every
// internal failure, including a panic, results in an allow.
func (g *Gate) Evaluate(req Request) (v Verdict) {
	log := g.logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error("gate panic, allowing", "panic", r)
			v = Verdict{Outcome: Allow, Reason: "internal error"}
		}
	}()

	if reason := g.skipReason(req); reason != "" {
		log.Debug("gate skipped", "reason", reason)
		return Verdict{Outcome: Allow, Reason: reason}
	}

	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Verdict{Outcome: Allow, Reason: "empty command"}
	}

	if g.Containers.IsExempt(command) {
		log.Debug("container command exempt")
		return Verdict{Outcome: Allow, Reason: "container exempt"}
	}

	m, ok := g.Rules.Classify(command)
	if !ok {
		return Verdict{Outcome: Allow}
	}

	key := req.SessionKey
	if key == "" {
		key = session.Key(req.Cwd)
	}
	log = log.With("session", key, "severity", m.Severity.String(), "label", m.Label)

	if g.Store == nil {
		log.Warn("no state store, blocking without bypass")
		return Verdict{Outcome: Block, Match: &m, Message: g.blockMessage(m, command)}
	}

	if g.Store.TryConsumeBypass(key) {
		log.Info("bypass token consumed")
		g.Store.AppendAudit(&storage.AuditRecord{
			Session:  key,
			Outcome:  AllowViaBypass.String(),
			Severity: m.Severity.String(),
			Label:    m.Label,
			Command:  command,
		})
		return Verdict{Outcome: AllowViaBypass, Match: &m}
	}

	log.Info("command blocked")
	g.Store.RecordBlocked(key, m.Severity.String(), m.Label, command)
	g.Store.AppendAudit(&storage.AuditRecord{
		Session:  key,
		Outcome:  Block.String(),
		Severity: m.Severity.String(),
		Label:    m.Label,
		Command:  command,
	})
	return Verdict{Outcome: Block, Match: &m, Message: g.blockMessage(m, command)}
}

// skipReason returns why req is not evaluated at all, or "".
func (g *Gate) skipReason(req Request) string {
	switch {
	case g.Disabled:
		return "disabled"
	case g.Disposable:
		return "disposable environment"
	case g.OnlyUnattended && req.PermissionMode != PermissionModeUnattended:
		return "attended session"
	case req.ToolName != "" && req.ToolName != "Bash":
		return "not a shell command"
	}
	return ""
}

func (g *Gate) blockMessage(m Match, command string) string {
	phrase := g.Phrase
	if phrase == "" {
		phrase = DefaultBypassPhrase
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = storage.DefaultTTL
	}
	return fmt.Sprintf("BLOCKED [%s] %s: %s\nTo allow this once, reply starting with %q and retry within %s.",
		m.Severity, m.Label, command, phrase, ttl)
}

func (g *Gate) logger() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DisposableFromEnv reports whether getenv describes a throwaway environment
// where the gate should stand down: SAFEGATE_DISPOSABLE set to a true value,
// or a remote agent sandbox.
func DisposableFromEnv(getenv func(string) string) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(getenv("SAFEGATE_DISPOSABLE"))); err == nil && b {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(getenv("CLAUDE_CODE_REMOTE")), "true")
}
