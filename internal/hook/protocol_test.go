package hook

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadInput(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantCommand string
		wantErr     bool
	}{
		{"tool input", `{"tool_name":"Bash","tool_input":{"command":"ls -la"}}`, "ls -la", false},
		{"top level", `{"command":"git status"}`, "git status", false},
		{"tool input wins", `{"command":"a","tool_input":{"command":"b"}}`, "b", false},
		{"blank tool input falls back", `{"command":"a","tool_input":{"command":"  "}}`, "a", false},
		{"no command", `{"cwd":"/tmp"}`, "", false},
		{"empty", "", "", false},
		{"whitespace", " \n ", "", false},
		{"malformed", `{"command":`, "", true},
		{"wrong type", `{"command": 42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ReadInput(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if in == nil {
				t.Fatal("ReadInput() returned nil input")
			}
			if got := in.CommandText(); got != tt.wantCommand {
				t.Errorf("CommandText() = %q, want %q", got, tt.wantCommand)
			}
		})
	}
}

func TestReadInput_NilReader(t *testing.T) {
	in, err := ReadInput(nil)
	if err != nil || in == nil || in.CommandText() != "" {
		t.Errorf("ReadInput(nil) = %+v, %v", in, err)
	}
}

func TestWriteOutput(t *testing.T) {
	tests := []struct {
		name string
		out  Output
		want string
	}{
		{"allow", AllowOutput(), `{"decision":"allow"}` + "\n"},
		{"empty prompt", PromptOutput(""), "{}\n"},
		{
			"block",
			BlockOutput("BLOCKED [HIGH] x: y"),
			`{"decision":"block","reason":"BLOCKED [HIGH] x: y","message":"BLOCKED [HIGH] x: y",` +
				`"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"deny",` +
				`"permissionDecisionReason":"BLOCKED [HIGH] x: y"}}` + "\n",
		},
		{
			"prompt note",
			PromptOutput("armed"),
			`{"hookSpecificOutput":{"hookEventName":"UserPromptSubmit","additionalContext":"armed"}}` + "\n",
		},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteOutput(&buf, tt.out); err != nil {
			t.Fatalf("%s: WriteOutput() error = %v", tt.name, err)
		}
		if buf.String() != tt.want {
			t.Errorf("%s: WriteOutput() = %s, want %s", tt.name, buf.String(), tt.want)
		}
	}
}
