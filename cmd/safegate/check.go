package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/formatter"
	"github.com/boshu2/safegate/internal/hook"
	"github.com/boshu2/safegate/internal/logger"
	"github.com/boshu2/safegate/internal/safety"
	"github.com/boshu2/safegate/internal/worker"
)

var (
	checkFile string
	checkJobs int
)

var checkCmd = &cobra.Command{
	Use:   "check [command | -- argv...]",
	Short: "Classify commands without touching gate state",
	Long: `Classify one or more commands the way the gate would, without consuming
bypass tokens or recording blocks.

A single argument is taken as the full command text. Several arguments are
re-quoted into one command, so "safegate check -- rm -rf /tmp/x" works.
With --file, every non-empty line not starting with # is a command; use
--file - to read stdin.

Exits 1 when any command would be blocked.

Examples:
  safegate check 'git push --force origin main'
  safegate check -- docker run --privileged alpine
  safegate check --file history.txt -o json`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "Read commands from a file, one per line (- for stdin)")
	checkCmd.Flags().IntVarP(&checkJobs, "jobs", "j", 0, "Parallel workers for --file (default: number of CPUs)")
}

type checkResult struct {
	Command  string `json:"command" yaml:"command"`
	Decision string `json:"decision" yaml:"decision"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// classifier applies the gate's pure checks: exemption, then rules.
type classifier struct {
	rules      *safety.RuleSet
	containers *safety.ContainerFilter
}

func (c classifier) check(command string) (checkResult, error) {
	res := checkResult{Command: command, Decision: "allow"}
	if c.containers.IsExempt(command) {
		res.Reason = "container exempt"
		return res, nil
	}
	if m, ok := c.rules.Classify(command); ok {
		res.Decision = "block"
		res.Severity = m.Severity.String()
		res.Label = m.Label
	}
	return res, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadInteractiveConfig()
	if err != nil {
		return err
	}

	commands, err := collectCommands(args, checkFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		return fmt.Errorf("no commands to check: pass a command or --file")
	}

	log := logger.WithComponent("check")
	rs, errs := hook.BuildRuleSet(cfg, log)
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", e)
	}
	c := classifier{rules: rs, containers: safety.NewContainerFilter(cfg.ContainerRuntimes...)}

	pool := worker.NewPool[string, checkResult](checkJobs)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	results := pool.Process(ctx, commands, c.check)

	out := make([]checkResult, 0, len(results))
	blocked := 0
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("check %q: %w", commands[r.Index], r.Err)
		}
		if r.Value.Decision == "block" {
			blocked++
		}
		out = append(out, r.Value)
	}

	if err := renderCheck(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if blocked > 0 {
		return fmt.Errorf("%d of %d command(s) would be blocked", blocked, len(out))
	}
	return nil
}

func renderCheck(w io.Writer, results []checkResult) error {
	if done, err := writeStructured(w, GetOutput(), results); done {
		return err
	}
	tbl := formatter.NewTable(w, "DECISION", "SEVERITY", "LABEL", "COMMAND")
	tbl.SetMaxWidth(3, 72)
	for _, r := range results {
		label := r.Label
		if label == "" {
			label = r.Reason
		}
		tbl.AddRow(r.Decision, r.Severity, label, r.Command)
	}
	return tbl.Render()
}

// collectCommands gathers commands from args and, when path is set, from a
// file or stdin.
func collectCommands(args []string, path string, stdin io.Reader) ([]string, error) {
	var commands []string
	switch len(args) {
	case 0:
	case 1:
		commands = append(commands, args[0])
	default:
		commands = append(commands, shellquote.Join(args...))
	}

	if path == "" {
		return commands, nil
	}

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open command file: %w", err)
		}
		defer func() {
			_ = f.Close() //nolint:errcheck // read-only file
		}()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), hook.MaxInputBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}
	return commands, nil
}
