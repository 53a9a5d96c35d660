package safety

import "testing"

func TestMatchesBypassPhrase(t *testing.T) {
	tests := []struct {
		prompt string
		phrase string
		want   bool
	}{
		{"BYPASS GATE", DefaultBypassPhrase, true},
		{"bypass gate please, it's a scratch dir", DefaultBypassPhrase, true},
		{"  BYPASS GATE: go ahead", DefaultBypassPhrase, true},
		{"Bypass Gate\nrun it again", DefaultBypassPhrase, true},
		{"BYPASS GATES", DefaultBypassPhrase, false},
		{"BYPASS GATE1", DefaultBypassPhrase, false},
		{"please BYPASS GATE", DefaultBypassPhrase, false},
		{"BYPASS", DefaultBypassPhrase, false},
		{"", DefaultBypassPhrase, false},
		{"anything", "", false},
		{"yolo run it", "YOLO", true},
	}
	for _, tt := range tests {
		if got := MatchesBypassPhrase(tt.prompt, tt.phrase); got != tt.want {
			t.Errorf("MatchesBypassPhrase(%q, %q) = %v, want %v", tt.prompt, tt.phrase, got, tt.want)
		}
	}
}
