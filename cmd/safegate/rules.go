package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/internal/formatter"
	"github.com/boshu2/safegate/internal/hook"
	"github.com/boshu2/safegate/internal/logger"
	"github.com/boshu2/safegate/internal/safety"
)

var rulesSeverity string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List rules in evaluation order",
	Long: `List the built-in and configured rules in the order the gate evaluates
them: every HIGH rule first, then every MEDIUM rule. Within a tier the first
matching rule wins.

Custom rules that fail to compile are reported on stderr and skipped.

Examples:
  safegate rules
  safegate rules --severity high
  safegate rules -o yaml`,
	Args: cobra.NoArgs,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesSeverity, "severity", "", "Only list rules of this severity (high, medium)")
}

type ruleRow struct {
	Order    int    `json:"order" yaml:"order"`
	Severity string `json:"severity" yaml:"severity"`
	Label    string `json:"label" yaml:"label"`
	Pattern  string `json:"pattern" yaml:"pattern"`
}

func runRules(cmd *cobra.Command, args []string) error {
	var only safety.Severity
	if rulesSeverity != "" {
		sev, err := safety.ParseSeverity(rulesSeverity)
		if err != nil {
			return err
		}
		only = sev
	}

	cfg, _, err := loadInteractiveConfig()
	if err != nil {
		return err
	}
	rs, errs := hook.BuildRuleSet(cfg, logger.WithComponent("rules"))
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", e)
	}

	rows := ruleRows(rs, only)

	w := cmd.OutOrStdout()
	if done, err := writeStructured(w, GetOutput(), rows); done {
		return err
	}
	tbl := formatter.NewTable(w, "#", "SEVERITY", "LABEL", "PATTERN")
	tbl.SetMaxWidth(3, 80)
	for _, r := range rows {
		tbl.AddRow(strconv.Itoa(r.Order), r.Severity, r.Label, r.Pattern)
	}
	return tbl.Render()
}

// ruleRows numbers rules by evaluation position; a zero severity keeps all.
func ruleRows(rs *safety.RuleSet, only safety.Severity) []ruleRow {
	var rows []ruleRow
	for i, r := range rs.Rules() {
		if only != 0 && r.Severity != only {
			continue
		}
		rows = append(rows, ruleRow{
			Order:    i + 1,
			Severity: r.Severity.String(),
			Label:    r.Label,
			Pattern:  r.Pattern,
		})
	}
	return rows
}
