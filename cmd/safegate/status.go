package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/hook"
	"github.com/boshu2/safegate/internal/logger"
	"github.com/boshu2/safegate/internal/safety"
	"github.com/boshu2/safegate/internal/session"
	"github.com/boshu2/safegate/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gate state for the current directory",
	Long: `Show whether the gate is active for the current directory, the most recent
block in this session (if it happened within the token TTL), and whether a
bypass token is armed. Nothing is consumed.

Examples:
  safegate status
  safegate status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Session     string                `json:"session" yaml:"session"`
	Root        string                `json:"root" yaml:"root"`
	Active      bool                  `json:"active" yaml:"active"`
	Inactive    string                `json:"inactive_reason,omitempty" yaml:"inactive_reason,omitempty"`
	BypassArmed bool                  `json:"bypass_armed" yaml:"bypass_armed"`
	LastBlocked *storage.BlockedState `json:"last_blocked,omitempty" yaml:"last_blocked,omitempty"`
	StateDir    string                `json:"state_dir" yaml:"state_dir"`
	LogFile     string                `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, cwd, err := loadInteractiveConfig()
	if err != nil {
		return err
	}

	key := session.Key(cwd)
	store := hook.NewStore(cfg, logger.WithSession(key))

	st := statusOutput{
		Session:     key,
		Root:        session.Root(cwd),
		Active:      true,
		BypassArmed: store.BypassArmed(key),
		StateDir:    cfg.StateDir,
		LogFile:     logger.Path(),
	}
	switch {
	case cfg.Disabled:
		st.Active, st.Inactive = false, "disabled"
	case safety.DisposableFromEnv(os.Getenv):
		st.Active, st.Inactive = false, "disposable environment"
	case cfg.OnlyUnattended:
		st.Inactive = "only evaluated when permission prompts are skipped"
	}

	last, err := store.LastBlocked(key)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	st.LastBlocked = last

	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, GetOutput(), st); done {
		return err
	}
	printStatus(w, &st, time.Now())
	return nil
}

func printStatus(w io.Writer, st *statusOutput, now time.Time) {
	fmt.Fprintln(w, "safegate status")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w)

	if st.Active {
		fmt.Fprintln(w, "Gate:        active")
	} else {
		fmt.Fprintf(w, "Gate:        inactive (%s)\n", st.Inactive)
	}
	if st.Active && st.Inactive != "" {
		fmt.Fprintf(w, "             %s\n", st.Inactive)
	}
	fmt.Fprintf(w, "Session:     %s\n", st.Session)
	fmt.Fprintf(w, "Root:        %s\n", st.Root)

	if st.BypassArmed {
		fmt.Fprintln(w, "Bypass:      armed (next blocked command runs once)")
	} else {
		fmt.Fprintln(w, "Bypass:      not armed")
	}

	if b := st.LastBlocked; b != nil {
		age := now.Sub(b.Timestamp).Round(time.Second)
		fmt.Fprintf(w, "Last block:  [%s] %s (%s ago)\n", b.Severity, b.Label, age)
		fmt.Fprintf(w, "             %s\n", b.Command)
	} else {
		fmt.Fprintln(w, "Last block:  none")
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "State dir:   %s\n", st.StateDir)
	if st.LogFile != "" {
		fmt.Fprintf(w, "Log file:    %s\n", st.LogFile)
	}
}
