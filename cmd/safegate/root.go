package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/config"
	"github.com/boshu2/safegate/internal/logger"
)

var (
	// Global flags
	verbose  bool
	output   string
	cfgFile  string
	stateDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "safegate",
	Short: "Pre-execution safety gate for agent shell commands",
	Long: `safegate inspects every shell command an AI coding agent proposes and blocks
destructive ones until you explicitly allow them.

Hook Commands (run by the agent, not by you):
  gate         PreToolUse hook: allow or block one command
  prompt       UserPromptSubmit hook: arm a one-shot bypass

Tools:
  check        Classify commands without touching gate state
  rules        List the rules in evaluation order
  status       Show the last block and bypass state for this directory
  hooks        Show or install the Claude Code hooks
  config       Show resolved configuration
  version      Show version information

To let one blocked command through, start your next message with the bypass
phrase (default "BYPASS GATE") and let the agent retry within 30 seconds.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.safegate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default: ~/.safegate/state)")
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string {
	return cfgFile
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("SAFEGATE_CONFIG", path)
}

// flagOverrides returns the config layer set by global flags.
func flagOverrides() *config.Config {
	return &config.Config{StateDir: stateDir, Verbose: verbose}
}

// loadConfig loads configuration for cwd with global flags applied.
func loadConfig(cwd string) (*config.Config, error) {
	return config.Load(cwd, flagOverrides())
}

// loadInteractiveConfig loads configuration for the working directory of an
// interactive subcommand and starts file logging.
func loadInteractiveConfig() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := loadConfig(cwd)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	logger.SetDebug(cfg.Verbose)
	if err := logger.Init(logger.PathIn(cfg.StateDir)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	return cfg, cwd, nil
}
