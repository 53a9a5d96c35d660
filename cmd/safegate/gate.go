package main

import (
	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/hook"
	"github.com/boshu2/safegate/internal/logger"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "PreToolUse hook: allow or block one proposed command",
	Long: `Read one PreToolUse hook payload from stdin and write exactly one JSON line
to stdout: {"decision":"allow"} or a block decision naming the matched rule.

The command always exits 0. Any internal failure results in an allow.

Input fields used:
  tool_name             only "Bash" (or absent) is evaluated
  tool_input.command    the proposed command (a top-level "command" also works)
  cwd                   selects the session the bypass token belongs to
  permission_mode       consulted when only_unattended is set`,
	// Hooks must exit 0 even when invoked with arguments a newer
	// manifest passes.
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               func(cmd *cobra.Command, args []string) error {
		r := &hook.Runner{Load: loadConfig}
		if err := r.Gate(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			logger.Get().Error("write gate output", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gateCmd)
}
