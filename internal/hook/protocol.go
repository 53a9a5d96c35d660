// Package hook implements the stdin/stdout JSON protocol between the agent
// and safegate: one JSON object in, exactly one JSON line out, exit status 0.
package hook

import (
	"encoding/json"
	"io"
	"strings"
)

// MaxInputBytes bounds how much of stdin is read.
const MaxInputBytes = 4 << 20

// Hook event names.
const (
	EventPreToolUse       = "PreToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
)

// Input is the hook payload. Only the fields safegate uses are decoded.
type Input struct {
	SessionID      string    `json:"session_id"`
	Cwd            string    `json:"cwd"`
	PermissionMode string    `json:"permission_mode"`
	HookEventName  string    `json:"hook_event_name"`
	ToolName       string    `json:"tool_name"`
	ToolInput      ToolInput `json:"tool_input"`

	// Command is accepted at the top level for callers that send
	// {"command": "..."} directly.
	Command string `json:"command"`

	// Prompt is set for UserPromptSubmit events.
	Prompt string `json:"prompt"`
}

// ToolInput holds the Bash tool arguments.
type ToolInput struct {
	Command string `json:"command"`
}

// CommandText returns the proposed command, preferring tool_input.command.
func (in *Input) CommandText() string {
	if strings.TrimSpace(in.ToolInput.Command) != "" {
		return in.ToolInput.Command
	}
	return in.Command
}

// ReadInput decodes one hook payload from r. Missing or malformed input yields
// an empty Input and the decode error; callers treat it as an empty command.
func ReadInput(r io.Reader) (*Input, error) {
	in := &Input{}
	if r == nil {
		return in, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes))
	if err != nil {
		return in, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, in); err != nil {
		return &Input{}, err
	}
	return in, nil
}

// Output is the single JSON line written to stdout.
type Output struct {
	Decision           string              `json:"decision,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	Message            string              `json:"message,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries event-specific fields understood by the agent.
type HookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
}

// AllowOutput is the response for any command that may run.
func AllowOutput() Output {
	return Output{Decision: "allow"}
}

// BlockOutput is the response for a blocked command.
func BlockOutput(message string) Output {
	return Output{
		Decision: "block",
		Reason:   message,
		Message:  message,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       "deny",
			PermissionDecisionReason: message,
		},
	}
}

// PromptOutput is the UserPromptSubmit response. An empty note yields {}.
func PromptOutput(note string) Output {
	if note == "" {
		return Output{}
	}
	return Output{HookSpecificOutput: &HookSpecificOutput{
		HookEventName:     EventUserPromptSubmit,
		AdditionalContext: note,
	}}
}

// WriteOutput writes out as one JSON line.
func WriteOutput(w io.Writer, out Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
