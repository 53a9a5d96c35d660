package main

import (
	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/hook"
	"github.com/boshu2/safegate/internal/logger"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "UserPromptSubmit hook: arm a bypass token",
	Long: `Read one UserPromptSubmit hook payload from stdin. When the prompt starts
with the bypass phrase, arm a single-use bypass token for the session of the
payload's cwd. The next blocked command in that session, within the token TTL,
is allowed once.

The command always exits 0 and writes one JSON line.`,
	// Hooks must exit 0 even when invoked with arguments a newer
	// manifest passes.
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               func(cmd *cobra.Command, args []string) error {
		r := &hook.Runner{Load: loadConfig}
		if err := r.Prompt(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			logger.Get().Error("write prompt output", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promptCmd)
}
