package safety

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/kballard/go-shellquote"
)

// DefaultContainerRuntimes are the runtimes whose exec/run invocations are
// exempt from classification.
var DefaultContainerRuntimes = []string{"docker", "podman", "nerdctl", "finch"}

// containerRuntimePrefix anchors the escape-vector rules to a built-in runtime.
const containerRuntimePrefix = `\b(?:docker|podman|nerdctl|finch)\b` + sameCommand

// Escape vectors. Each starts at the whitespace before the flag so the same
// fragment serves the exemption check and the MEDIUM rules.
const (
	privilegedVectorFragment    = `\s--privileged(?:=true)?(?=\s|$)`
	rootMountVectorFragment     = `\s(?:-v\s*|--volume[=\s]\s*)["']?/:|\s--mount[=\s]\s*["']?\S*\b(?:src|source)=/(?=[,"'\s]|$)`
	capabilityVectorFragment    = `\s--cap-add[=\s]\s*["']?(?:cap_)?(?:all|sys_admin|sys_module|sys_ptrace|sys_rawio|dac_read_search|net_admin)\b`
	securityOptVectorFragment   = `\s--security-opt[=\s]\s*["']?(?:seccomp[=:]unconfined|apparmor[=:]unconfined|label[=:]disable|systempaths=unconfined)`
	hostNamespaceVectorFragment = `\s--(?:pid|userns|ipc)[=\s]\s*["']?host\b`
)

const (
	privilegedVector    = containerRuntimePrefix + privilegedVectorFragment
	rootMountVector     = containerRuntimePrefix + `(?:` + rootMountVectorFragment + `)`
	capabilityVector    = containerRuntimePrefix + capabilityVectorFragment
	securityOptVector   = containerRuntimePrefix + securityOptVectorFragment
	hostNamespaceVector = containerRuntimePrefix + hostNamespaceVectorFragment
)

var escapeVectors = mustCompileAll(
	privilegedVectorFragment,
	rootMountVectorFragment,
	capabilityVectorFragment,
	securityOptVectorFragment,
	hostNamespaceVectorFragment,
)

var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

func mustCompileAll(patterns ...string) []*regexp2.Regexp {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re := regexp2.MustCompile(p, regexp2.IgnoreCase)
		re.MatchTimeout = MatchTimeout
		out = append(out, re)
	}
	return out
}

// ContainerFilter recognizes commands that run inside a container.
type ContainerFilter struct {
	runtimes map[string]struct{}
}

// NewContainerFilter returns a filter for the default runtimes plus extra.
func NewContainerFilter(extra ...string) *ContainerFilter {
	f := &ContainerFilter{runtimes: make(map[string]struct{})}
	for _, rt := range append(append([]string{}, DefaultContainerRuntimes...), extra...) {
		rt = strings.ToLower(strings.TrimSpace(rt))
		if rt != "" {
			f.runtimes[rt] = struct{}{}
		}
	}
	return f
}

// IsExempt reports whether command is a single container exec/run invocation
// without an escape vector. It has no side effects.
func (f *ContainerFilter) IsExempt(command string) bool {
	if f == nil {
		return false
	}
	command = strings.TrimSpace(command)
	if command == "" || chainsCommands(command) {
		return false
	}

	words, err := shellquote.Split(command)
	if err != nil {
		return false
	}
	for len(words) > 0 && envAssignment.MatchString(words[0]) {
		words = words[1:]
	}
	if len(words) < 2 {
		return false
	}

	if _, ok := f.runtimes[strings.ToLower(filepath.Base(words[0]))]; !ok {
		return false
	}
	sub := words[1:]
	if strings.EqualFold(sub[0], "container") {
		sub = sub[1:]
	}
	if len(sub) == 0 || !(strings.EqualFold(sub[0], "exec") || strings.EqualFold(sub[0], "run")) {
		return false
	}

	return !HasEscapeVector(command)
}

// HasEscapeVector reports whether command uses a known container escape flag.
// A vector that cannot be evaluated counts as present.
func HasEscapeVector(command string) bool {
	for _, re := range escapeVectors {
		ok, err := re.MatchString(command)
		if err != nil || ok {
			return true
		}
	}
	return false
}

// chainsCommands reports whether command contains a shell operator outside
// quotes that would run something on the host besides the container command:
// a separator, pipe, redirection, background job or command substitution.
func chainsCommands(command string) bool {
	var inSingle, inDouble, escaped bool
	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case escaped:
			escaped = false
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case c == '\\':
			escaped = true
		case c == '`':
			return true
		case c == '$' && i+1 < len(command) && command[i+1] == '(':
			return true
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case strings.IndexByte(";&|<>\n", c) >= 0:
			return true
		}
	}
	return false
}
