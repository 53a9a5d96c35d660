// Package safety classifies shell commands proposed by an AI coding agent and
// decides whether each one may run.
//
// The gate sits in front of the agent's shell tool. Every proposed command is
// matched against an ordered rule set; a match blocks the command unless the
// user has armed a one-shot bypass token for the same session by starting a
// message with the bypass phrase.
//
// # Threat Model
//
// T1 - Destructive Filesystem Operations: recursive force deletes, world
// writable or setuid permission changes, raw disk writes and filesystem
// formatting. These are HIGH because they are irreversible.
//
// T2 - Remote Code Execution: fetched content piped into an interpreter,
// process substitution fed to a shell, and shell -c over fetched content.
// Dynamic eval of local content is MEDIUM.
//
// T3 - Destructive Git Operations: force push and history rewrites are HIGH.
// Leased force push, hard reset, force clean, checkout-dot, restore-dot and
// force branch delete are MEDIUM since reflog or the remote can usually recover.
//
// T4 - Data Destruction: SQL drop, truncate and unqualified delete, plus
// find -delete, find -exec rm and xargs rm.
//
// T5 - Container Escape: commands run inside a container are exempt from
// classification, except when they use a known escape vector (privileged mode,
// root bind mounts, dangerous capabilities, disabled security profiles or host
// namespaces) or chain another command at the top level.
//
// T6 - Bypass Replay: a bypass token authorizes exactly one command. Tokens
// expire after a short TTL and are consumed with an atomic rename, so two
// concurrent hook processes can never both succeed.
//
// # Design Principles
//
// Fail open: any internal error, including a panic, results in an allow
// decision. The gate is a guard against accidents, not a sandbox, and a broken
// gate must never wedge the agent.
//
// Deterministic tiers: every HIGH rule is tried before any MEDIUM rule and the
// first match within a tier wins, so the reported label is stable.
//
// Rules are data: custom rules are (pattern, label, severity) records loaded
// from configuration, never code.
package safety
