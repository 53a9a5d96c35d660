// Package embedded provides the Claude Code hooks manifest embedded in the
// safegate binary.
package embedded

import _ "embed"

// HooksJSON contains the raw hooks.json manifest installed by
// `safegate hooks install`.
//
//go:embed hooks/hooks.json
var HooksJSON []byte
