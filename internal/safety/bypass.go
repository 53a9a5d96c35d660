package safety

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultBypassPhrase is the message prefix that arms a bypass token.
const DefaultBypassPhrase = "BYPASS GATE"

// MatchesBypassPhrase reports whether prompt starts with phrase, ignoring case
// and leading whitespace. The phrase must be followed by the end of the prompt
// or a non-word character, so "BYPASS GATES" does not arm a token.
func MatchesBypassPhrase(prompt, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	prompt = strings.TrimLeftFunc(prompt, unicode.IsSpace)
	if len(prompt) < len(phrase) || !strings.EqualFold(prompt[:len(phrase)], phrase) {
		return false
	}
	rest := prompt[len(phrase):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
