package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/boshu2/safegate/embedded"
)

var (
	hooksDryRun   bool
	hooksForce    bool
	hooksBinary   string
	hooksSettings string
)

// HookEntry represents a single hook command (e.g., {"type": "command", "command": "..."}).
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup represents a hook group with optional matcher and a hooks array.
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

// HooksConfig holds the events safegate installs hooks for.
type HooksConfig struct {
	PreToolUse       []HookGroup `json:"PreToolUse,omitempty"`
	UserPromptSubmit []HookGroup `json:"UserPromptSubmit,omitempty"`
}

// EventNames returns the managed events in install order.
func EventNames() []string {
	return []string{"PreToolUse", "UserPromptSubmit"}
}

// GetEventGroups returns the hook groups for a given event name.
func (c *HooksConfig) GetEventGroups(event string) []HookGroup {
	switch event {
	case "PreToolUse":
		return c.PreToolUse
	case "UserPromptSubmit":
		return c.UserPromptSubmit
	}
	return nil
}

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Show or install the Claude Code hooks",
	Long: `Manage the Claude Code hooks that run safegate.

Subcommands:
  show      Print the hooks manifest
  install   Merge the hooks into ~/.claude/settings.json

Two hooks are installed:
  PreToolUse (Bash)   safegate gate     allow or block each shell command
  UserPromptSubmit    safegate prompt   arm a bypass when a message starts
                                        with the bypass phrase`,
}

var hooksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the hooks manifest",
	Args:  cobra.NoArgs,
	RunE:  runHooksShow,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install hooks to Claude Code settings",
	Long: `Install safegate hooks to ~/.claude/settings.json.

This command:
  1. Reads existing settings.json (if any)
  2. Replaces earlier safegate hooks and keeps every other hook and setting
  3. Creates a backup of the original settings
  4. Writes the updated configuration

Use --binary to point the hooks at a specific safegate executable.`,
	Args: cobra.NoArgs,
	RunE: runHooksInstall,
}

func init() {
	rootCmd.AddCommand(hooksCmd)
	hooksCmd.AddCommand(hooksShowCmd)
	hooksCmd.AddCommand(hooksInstallCmd)

	hooksCmd.PersistentFlags().StringVar(&hooksBinary, "binary", "", "safegate executable to reference in hook commands (default: safegate on PATH)")
	hooksInstallCmd.Flags().BoolVar(&hooksDryRun, "dry-run", false, "Show what would be installed without making changes")
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Reinstall even if safegate hooks are present")
	hooksInstallCmd.Flags().StringVar(&hooksSettings, "settings", "", "Settings file (default: ~/.claude/settings.json)")
}

// hooksManifest wraps the hooks.json file format which has a top-level "hooks" key.
type hooksManifest struct {
	Hooks *HooksConfig `json:"hooks"`
}

// ReadHooksManifest parses a hooks.json manifest from raw bytes.
func ReadHooksManifest(data []byte) (*HooksConfig, error) {
	var manifest hooksManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse hooks manifest: %w", err)
	}
	if manifest.Hooks == nil {
		return nil, errors.New("hooks manifest missing 'hooks' key")
	}
	return manifest.Hooks, nil
}

// loadManifest returns the embedded manifest with commands pointed at binary.
func loadManifest(binary string) (*HooksConfig, error) {
	cfg, err := ReadHooksManifest(embedded.HooksJSON)
	if err != nil {
		return nil, err
	}
	if binary == "" {
		return cfg, nil
	}
	quoted := shellquote.Join(binary)
	for _, groups := range [][]HookGroup{cfg.PreToolUse, cfg.UserPromptSubmit} {
		for i := range groups {
			for j := range groups[i].Hooks {
				h := &groups[i].Hooks[j]
				if rest, ok := strings.CutPrefix(h.Command, "safegate "); ok {
					h.Command = quoted + " " + rest
				}
			}
		}
	}
	return cfg, nil
}

func runHooksShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadManifest(hooksBinary)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(hooksManifest{Hooks: cfg}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hooks manifest: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	settingsPath := hooksSettings
	if settingsPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		settingsPath = filepath.Join(homeDir, ".claude", "settings.json")
	}

	rawSettings, err := loadHooksSettings(settingsPath)
	if err != nil {
		return err
	}

	newHooks, err := loadManifest(hooksBinary)
	if err != nil {
		return err
	}

	hooksMap := cloneHooksMap(rawSettings)
	if !hooksForce && hookGroupContainsSafegate(hooksMap, "PreToolUse") {
		fmt.Fprintln(w, "safegate hooks already installed. Use --force to reinstall.")
		return nil
	}

	installed := mergeHookEvents(hooksMap, newHooks, EventNames())
	rawSettings["hooks"] = hooksMap

	data, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if hooksDryRun {
		fmt.Fprintln(w, "[dry-run] Would write to", settingsPath)
		fmt.Fprintln(w, string(data))
		return nil
	}

	if backup, err := backupHooksSettings(settingsPath, time.Now()); err != nil {
		return err
	} else if backup != "" {
		fmt.Fprintf(w, "Backed up existing settings to %s\n", backup)
	}
	if err := writeHooksSettings(settingsPath, data); err != nil {
		return err
	}

	fmt.Fprintf(w, "✓ Installed safegate hooks to %s (%d events)\n", settingsPath, installed)
	for _, event := range EventNames() {
		for _, g := range newHooks.GetEventGroups(event) {
			for _, h := range g.Hooks {
				fmt.Fprintf(w, "  %s: %s\n", event, h.Command)
			}
		}
	}
	return nil
}

func loadHooksSettings(settingsPath string) (map[string]any, error) {
	rawSettings := make(map[string]any)
	data, err := os.ReadFile(settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return rawSettings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return rawSettings, nil
	}
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return nil, fmt.Errorf("parse existing settings: %w", err)
	}
	return rawSettings, nil
}

func cloneHooksMap(rawSettings map[string]any) map[string]any {
	hooksMap := make(map[string]any)
	if existing, ok := rawSettings["hooks"].(map[string]any); ok {
		for k, v := range existing {
			hooksMap[k] = v
		}
	}
	return hooksMap
}

// mergeHookEvents replaces safegate groups for each event with newHooks and
// keeps every other group. It returns the number of events written.
func mergeHookEvents(hooksMap map[string]any, newHooks *HooksConfig, events []string) int {
	installed := 0
	for _, event := range events {
		newGroups := newHooks.GetEventGroups(event)
		if len(newGroups) == 0 {
			continue
		}
		groups := filterNonSafegateHookGroups(hooksMap, event)
		for _, g := range newGroups {
			groups = append(groups, hookGroupToMap(g))
		}
		hooksMap[event] = groups
		installed++
	}
	return installed
}

// backupHooksSettings copies an existing settings file aside and returns the
// backup path, or "" when there was nothing to back up.
func backupHooksSettings(settingsPath string, now time.Time) (string, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return "", nil
	}
	backupPath := fmt.Sprintf("%s.backup.%s", settingsPath, now.Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	return backupPath, nil
}

func writeHooksSettings(settingsPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(settingsPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// hookGroupContainsSafegate checks if any hook group in the event runs safegate.
func hookGroupContainsSafegate(hooksMap map[string]any, event string) bool {
	groups, _ := hooksMap[event].([]any)
	for _, g := range groups {
		if group, ok := g.(map[string]any); ok && rawGroupIsSafegateManaged(group) {
			return true
		}
	}
	return false
}

// filterNonSafegateHookGroups returns the event's groups that don't run safegate.
func filterNonSafegateHookGroups(hooksMap map[string]any, event string) []any {
	result := make([]any, 0)
	switch groups := hooksMap[event].(type) {
	case []any:
		for _, g := range groups {
			if group, ok := g.(map[string]any); ok && rawGroupIsSafegateManaged(group) {
				continue
			}
			result = append(result, g)
		}
	case []map[string]any:
		for _, g := range groups {
			if !rawGroupIsSafegateManaged(g) {
				result = append(result, g)
			}
		}
	}
	return result
}

func rawGroupIsSafegateManaged(group map[string]any) bool {
	var hooks []map[string]any
	switch hs := group["hooks"].(type) {
	case []any:
		for _, h := range hs {
			if m, ok := h.(map[string]any); ok {
				hooks = append(hooks, m)
			}
		}
	case []map[string]any:
		hooks = hs
	}
	for _, h := range hooks {
		if cmd, ok := h["command"].(string); ok && isSafegateHookCommand(cmd) {
			return true
		}
	}
	return false
}

// isSafegateHookCommand reports whether cmd runs `safegate gate` or
// `safegate prompt`, under any executable path.
func isSafegateHookCommand(cmd string) bool {
	words, err := shellquote.Split(cmd)
	if err != nil || len(words) < 2 {
		return false
	}
	bin := filepath.Base(words[0])
	if !strings.HasPrefix(bin, "safegate") {
		return false
	}
	return words[1] == "gate" || words[1] == "prompt"
}

// hookGroupToMap converts a HookGroup to a map for JSON serialization.
func hookGroupToMap(g HookGroup) map[string]any {
	hooks := make([]any, len(g.Hooks))
	for i, h := range g.Hooks {
		entry := map[string]any{
			"type":    h.Type,
			"command": h.Command,
		}
		if h.Timeout > 0 {
			entry["timeout"] = h.Timeout
		}
		hooks[i] = entry
	}
	result := map[string]any{"hooks": hooks}
	if g.Matcher != "" {
		result["matcher"] = g.Matcher
	}
	return result
}
