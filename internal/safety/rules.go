package safety

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Severity is a rule tier. HIGH rules are evaluated, in order, before any
// MEDIUM rule.
type Severity int

const (
	// High marks irreversible or high blast-radius commands.
	High Severity = iota + 1
	// Medium marks risky but usually recoverable commands.
	Medium
)

func (s Severity) String() string {
	switch s {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity accepts "high" or "medium" in any case.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return High, nil
	case "MEDIUM":
		return Medium, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
}

// MatchTimeout bounds a single rule evaluation. A rule that times out is
// treated as not matching and logged.
const MatchTimeout = 100 * time.Millisecond

// Rule is one (pattern, label, severity) triple. Patterns use .NET-style
// syntax (lookaround is available) and always match case-insensitively
// anywhere in the command.
type Rule struct {
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Label    string   `json:"label" yaml:"label"`
	Severity Severity `json:"-" yaml:"-"`
}

// ParseRule builds a Rule from config strings.
func ParseRule(pattern, label, severity string) (Rule, error) {
	if strings.TrimSpace(pattern) == "" {
		return Rule{}, ErrEmptyPattern
	}
	sev, err := ParseSeverity(severity)
	if err != nil {
		return Rule{}, err
	}
	if strings.TrimSpace(label) == "" {
		label = pattern
	}
	return Rule{Pattern: pattern, Label: label, Severity: sev}, nil
}

// Match is the result of a successful classification.
type Match struct {
	Severity Severity
	Label    string
	Pattern  string
}

type compiledRule struct {
	Rule
	re *regexp2.Regexp
}

// RuleSet is an immutable, ordered set of compiled rules.
type RuleSet struct {
	high   []compiledRule
	medium []compiledRule
	log    *slog.Logger
}

// NewRuleSet compiles rules independently. A rule that fails to compile is
// skipped and reported; the rest of the set is still usable.
func NewRuleSet(rules []Rule, log *slog.Logger) (*RuleSet, []error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rs := &RuleSet{log: log}

	var errs []error
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			log.Warn("skipping rule", "label", r.Label, "error", err)
			errs = append(errs, err)
			continue
		}
		switch r.Severity {
		case High:
			rs.high = append(rs.high, cr)
		case Medium:
			rs.medium = append(rs.medium, cr)
		}
	}
	return rs, errs
}

func compileRule(r Rule) (compiledRule, error) {
	if strings.TrimSpace(r.Pattern) == "" {
		return compiledRule{}, fmt.Errorf("rule %q: %w", r.Label, ErrEmptyPattern)
	}
	if r.Severity != High && r.Severity != Medium {
		return compiledRule{}, fmt.Errorf("rule %q: %w", r.Label, ErrInvalidSeverity)
	}
	re, err := regexp2.Compile(r.Pattern, regexp2.IgnoreCase)
	if err != nil {
		return compiledRule{}, fmt.Errorf("rule %q: compile pattern: %w", r.Label, err)
	}
	re.MatchTimeout = MatchTimeout
	return compiledRule{Rule: r, re: re}, nil
}

// Classify returns the first HIGH match, else the first MEDIUM match.
func (rs *RuleSet) Classify(command string) (Match, bool) {
	if rs == nil {
		return Match{}, false
	}
	if m, ok := rs.first(rs.high, command); ok {
		return m, true
	}
	return rs.first(rs.medium, command)
}

func (rs *RuleSet) first(tier []compiledRule, command string) (Match, bool) {
	for _, cr := range tier {
		ok, err := cr.re.MatchString(command)
		if err != nil {
			rs.log.Warn("rule evaluation failed", "label", cr.Label, "error", err)
			continue
		}
		if ok {
			return Match{Severity: cr.Severity, Label: cr.Label, Pattern: cr.Pattern}, true
		}
	}
	return Match{}, false
}

// Rules returns the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, 0, len(rs.high)+len(rs.medium))
	for _, cr := range rs.high {
		out = append(out, cr.Rule)
	}
	for _, cr := range rs.medium {
		out = append(out, cr.Rule)
	}
	return out
}

// Len returns the number of usable rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.high) + len(rs.medium)
}

// Shared pattern fragments.
const (
	// rmWord matches rm as a command word but not the --rm flag.
	rmWord = `(?<![\w-])rm(?=\s)`
	// sameCommand keeps a lookahead inside one simple command.
	sameCommand = `[^;&|\n]*`
	shells      = `(?:ba|z|da|k|fi|c|tc)?sh`
	fetchers    = `(?:curl|wget|fetch|aria2c)`
	// interpreter matches a shell or script interpreter, optionally behind
	// sudo, env or a path.
	interpreter = `(?:sudo\s+(?:-\S+\s+)*)?(?:env\s+)?(?:\S*/)?(?:` + shells + `|python[0-9.]*|perl|ruby|node|php)\b`
)

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	high := []Rule{
		{Label: "recursive force delete", Pattern: rmWord +
			`(?=` + sameCommand + `\s-(?:-recursive\b|[a-z]*r))` +
			`(?=` + sameCommand + `\s-(?:-force\b|[a-z]*f))`},
		{Label: "world-writable permissions", Pattern: `\bchmod\b` + sameCommand +
			`\s(?:[0-7]?[0-7]{2}[2367]|[ugo]*[ao][ugo]*[+=][rwxXst]*w[rwxXst]*)(?=\s|$)`},
		{Label: "recursive permission change", Pattern: `\b(?:chmod|chown|chgrp)\b` + sameCommand +
			`\s(?:-[a-z]*r[a-z]*|--recursive)(?=\s|$)`},
		{Label: "setuid/setgid bit", Pattern: `\bchmod\b` + sameCommand +
			`\s(?:[ugoa]*\+[rwxX]*s|[4-7][0-7]{3})(?=\s|$)`},
		{Label: "remote script piped to interpreter", Pattern: `\b` + fetchers + `\b[^;&\n]*\|\s*` + interpreter},
		{Label: "process substitution execution", Pattern: `(?:\b` + shells + `|\bsource|(?:^|[;&|(]\s*)\.|\bpython[0-9.]*|\bperl|\bruby|\bnode)\s+(?:-\S+\s+)*<\(`},
		{Label: "shell -c remote execution", Pattern: `\b` + shells + `\s+(?:-[a-z]+\s+)*-[a-z]*c[a-z]*\s+` + `[^;\n]*\b` + fetchers + `\b`},
		{Label: "eval of remote content", Pattern: `\beval\s+["']?(?:\$\(|\x60)\s*` + fetchers + `\b`},
		{Label: "raw disk write", Pattern: `\bdd\b` + sameCommand + `\bof=/dev/(?!null\b|zero\b|stdout\b|stderr\b|tty\b|fd/)`},
		{Label: "filesystem format", Pattern: `\bmkfs(?:\.\w+)?\b|\bmke2fs\b|\bnewfs\b`},
		{Label: "partition or device wipe", Pattern: `\b(?:fdisk|sfdisk|gdisk|parted|wipefs|shred|blkdiscard)\b` + sameCommand + `/dev/`},
		{Label: "redirect to block device", Pattern: `>\s*/dev/(?:sd[a-z]|nvme\d|hd[a-z]|vd[a-z]|xvd[a-z]|disk\d|mmcblk\d)`},
		{Label: "fork bomb", Pattern: `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`},
		// --force-with-lease and --force-if-includes are excluded here by
		// lookahead; the lease variant has its own MEDIUM rule.
		{Label: "git force push", Pattern: `\bgit\b` + sameCommand + `\bpush\b` + sameCommand +
			`\s(?:--force(?![\w-])|-[a-z]*f[a-z]*(?![\w-])|\+[\w./-]+)`},
		{Label: "git history rewrite", Pattern: `\bgit\s+(?:-\S+\s+)*(?:filter-branch|filter-repo)\b`},
		{Label: "git reflog purge", Pattern: `\bgit\s+reflog\s+expire\b` + sameCommand + `--expire(?:-unreachable)?=(?:now|all)\b`},
		{Label: "SQL drop", Pattern: `\bdrop\s+(?:database|schema|table)\b|\bdropdb\b`},
		{Label: "SQL truncate", Pattern: `\btruncate\s+table\b`},
		{Label: "unqualified SQL delete", Pattern: `\bdelete\s+from\s+[\w.\x60"\[\]]+(?![^;]*\bwhere\b)`},
		{Label: "find -delete", Pattern: `\bfind\b` + sameCommand + `\s-delete\b`},
		{Label: "find -exec rm", Pattern: `\bfind\b` + sameCommand + `\s-exec(?:dir)?\s+(?:sudo\s+)?(?:\S*/)?rm\b`},
		{Label: "xargs rm", Pattern: `\bxargs\b[^;&\n]*\s(?:sudo\s+)?(?:\S*/)?rm\b`},
		{Label: "infrastructure destroy", Pattern: `\bterraform\s+(?:-\S+\s+)*destroy\b|\bterraform\s+apply\b` + sameCommand + `\s-destroy\b`},
	}

	medium := []Rule{
		{Label: "force delete", Pattern: rmWord + `(?=` + sameCommand + `\s-(?:-force\b|[a-z]*f))`},
		{Label: "git force push with lease", Pattern: `\bgit\b` + sameCommand + `\bpush\b` + sameCommand + `\s--force-with-lease\b`},
		{Label: "git hard reset", Pattern: `\bgit\b` + sameCommand + `\breset\b` + sameCommand + `\s--hard\b`},
		{Label: "git clean force", Pattern: `\bgit\b` + sameCommand + `\bclean\b` + sameCommand + `\s-[a-z]*f`},
		{Label: "discard working tree changes", Pattern: `\bgit\s+(?:checkout|restore)\b` + sameCommand + `\s(?:--\s+)?\.(?=\s|$)`},
		{Label: "git force branch delete", Pattern: `\bgit\s+branch\b` + sameCommand + `\s(?-i:-D)(?=\s|$)`},
		{Label: "git stash discard", Pattern: `\bgit\s+stash\s+(?:drop|clear)\b`},
		{Label: "package registry publish", Pattern: `\b(?:npm|yarn|pnpm|bun|cargo|poetry|gem|dotnet\s+nuget|twine|flit|hatch)\s+(?:[^\s;&|]+\s+)*?(?:publish|push|upload)(?![\w-])`},
		{Label: "privileged container", Pattern: privilegedVector},
		{Label: "container root filesystem mount", Pattern: rootMountVector},
		{Label: "container dangerous capability", Pattern: capabilityVector},
		{Label: "container security profile disabled", Pattern: securityOptVector},
		{Label: "container host namespace", Pattern: hostNamespaceVector},
		{Label: "dynamic code evaluation", Pattern: `(?<![\w.-])eval\s+\S`},
		{Label: "sudo destructive command", Pattern: `\bsudo\s+(?:-\S+\s+)*(?:\S*/)?(?:rm|rmdir|dd|mkfs\S*|chmod|chown|mv|truncate|shred|kill|killall|pkill|userdel|passwd|reboot|shutdown|halt|poweroff|systemctl\s+(?:stop|disable|mask))\b`},
		{Label: "infrastructure teardown", Pattern: `\b(?:kubectl\s+delete|helm\s+(?:uninstall|delete)|docker\s+(?:system|volume)\s+prune)\b`},
	}

	for i := range high {
		high[i].Severity = High
	}
	for i := range medium {
		medium[i].Severity = Medium
	}
	return append(high, medium...)
}
