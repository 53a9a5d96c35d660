package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `Show the resolved safegate configuration and where each value came from.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (SAFEGATE_*)
  3. Explicit config file (SAFEGATE_CONFIG or --config)
  4. Project config (.safegate/config.yaml), rules only
  5. Home config (~/.safegate/config.yaml)
  6. Defaults

The project config can be edited by the agent, so it may only add rules.

Environment variables:
  SAFEGATE_CONFIG           - Explicit config file path
  SAFEGATE_STATE_DIR        - State directory (tokens, blocked state, audit, log)
  SAFEGATE_BYPASS_PHRASE    - Message prefix that arms a bypass token
  SAFEGATE_TOKEN_TTL        - Bypass token lifetime (e.g. 30s)
  SAFEGATE_VERBOSE          - Enable debug logging (true/1)
  SAFEGATE_DISABLED         - Turn the gate into a pass-through (true/1)
  SAFEGATE_ONLY_UNATTENDED  - Only gate when permission prompts are skipped (true/1)
  SAFEGATE_DISPOSABLE       - Mark a throwaway environment; the gate stands down (true/1)

Examples:
  safegate config
  safegate config -o json`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	resolved := config.Resolve(cwd, stateDir, GetVerbose())

	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, GetOutput(), resolved); done {
		return err
	}

	fmt.Fprintln(w, "safegate configuration")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Config files:")
	home, _ := os.UserHomeDir()
	printConfigFile(w, "Home:    ", filepath.Join(home, ".safegate", "config.yaml"))
	printConfigFile(w, "Project: ", filepath.Join(cwd, ".safegate", "config.yaml"))
	if explicit := os.Getenv("SAFEGATE_CONFIG"); explicit != "" {
		printConfigFile(w, "Explicit:", explicit)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Resolved values:")
	fmt.Fprintf(w, "  state_dir:        %v  (from %s)\n", resolved.StateDir.Value, resolved.StateDir.Source)
	fmt.Fprintf(w, "  bypass_phrase:    %v  (from %s)\n", resolved.BypassPhrase.Value, resolved.BypassPhrase.Source)
	fmt.Fprintf(w, "  token_ttl:        %v  (from %s)\n", resolved.TokenTTL.Value, resolved.TokenTTL.Source)
	fmt.Fprintf(w, "  verbose:          %v  (from %s)\n", resolved.Verbose.Value, resolved.Verbose.Source)
	fmt.Fprintf(w, "  disabled:         %v  (from %s)\n", resolved.Disabled.Value, resolved.Disabled.Source)
	fmt.Fprintf(w, "  only_unattended:  %v  (from %s)\n", resolved.OnlyUnattended.Value, resolved.OnlyUnattended.Source)
	fmt.Fprintf(w, "  custom rules:     %d\n", resolved.CustomRules)
	return nil
}

func printConfigFile(w io.Writer, label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  ✓ %s %s\n", label, path)
	} else {
		fmt.Fprintf(w, "  ✗ %s %s (not found)\n", label, path)
	}
}
