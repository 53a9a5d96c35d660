package hook

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/boshu2/safegate/internal/config"
	"github.com/boshu2/safegate/internal/logger"
	"github.com/boshu2/safegate/internal/safety"
	"github.com/boshu2/safegate/internal/session"
	"github.com/boshu2/safegate/internal/storage"
)

// Runner executes the gate and prompt hooks.
type Runner struct {
	// Load returns the configuration for a hook running in cwd.
	// Defaults to config.Load without flag overrides.
	Load func(cwd string) (*config.Config, error)

	// Getenv reads disposable-context markers. Defaults to os.Getenv.
	Getenv func(string) string
}

func (r *Runner) load(cwd string) *config.Config {
	load := r.Load
	if load == nil {
		load = func(cwd string) (*config.Config, error) { return config.Load(cwd, nil) }
	}
	cfg, err := load(cwd)
	if err != nil || cfg == nil {
		logger.Get().Warn("load config, using defaults", "error", err)
		return config.Default()
	}
	return cfg
}

func (r *Runner) getenv(key string) string {
	if r.Getenv != nil {
		return r.Getenv(key)
	}
	return os.Getenv(key)
}

// Gate handles one PreToolUse event. It writes exactly one JSON line to w,
// "allow" on any internal failure, and only returns the write error.
func (r *Runner) Gate(stdin io.Reader, w io.Writer) (err error) {
	out := AllowOutput()
	defer func() {
		if p := recover(); p != nil {
			logger.Get().Error("gate hook panic, allowing", "panic", p)
			out = AllowOutput()
		}
		err = WriteOutput(w, out)
	}()

	in, readErr := ReadInput(stdin)
	cfg := r.load(in.Cwd)
	initLogging(cfg)
	log := logger.WithComponent("gate")
	if readErr != nil {
		log.Warn("malformed hook input, treating as empty command", "error", readErr)
	}

	g := NewGate(cfg, r.getenv, log)
	v := g.Evaluate(safety.Request{
		Command:        in.CommandText(),
		Cwd:            in.Cwd,
		PermissionMode: in.PermissionMode,
		ToolName:       in.ToolName,
	})

	attrs := []any{"outcome", v.Outcome.String()}
	if v.Match != nil {
		attrs = append(attrs, "severity", v.Match.Severity.String(), "label", v.Match.Label)
	}
	if v.Reason != "" {
		attrs = append(attrs, "reason", v.Reason)
	}
	log.Debug("decision", attrs...)

	if v.Outcome == safety.Block {
		out = BlockOutput(v.Message)
	}
	return nil
}

// Prompt handles one UserPromptSubmit event. A prompt starting with the
// bypass phrase arms a token for the session of cwd.
func (r *Runner) Prompt(stdin io.Reader, w io.Writer) (err error) {
	out := PromptOutput("")
	defer func() {
		if p := recover(); p != nil {
			logger.Get().Error("prompt hook panic", "panic", p)
			out = PromptOutput("")
		}
		err = WriteOutput(w, out)
	}()

	in, readErr := ReadInput(stdin)
	cfg := r.load(in.Cwd)
	initLogging(cfg)
	log := logger.WithComponent("prompt")
	if readErr != nil {
		log.Warn("malformed hook input", "error", readErr)
		return nil
	}

	if !safety.MatchesBypassPhrase(in.Prompt, cfg.BypassPhrase) {
		return nil
	}

	key := session.Key(in.Cwd)
	store := NewStore(cfg, log)
	if err := store.CreateBypass(key); err != nil {
		log.Warn("arm bypass token", "session", key, "error", err)
		return nil
	}
	log.Info("bypass token armed", "session", key)
	out = PromptOutput(fmt.Sprintf(
		"Safety gate bypass armed: the next blocked command in this directory will run once if retried within %s.",
		cfg.TTL()))
	return nil
}

// NewStore returns the file store described by cfg.
func NewStore(cfg *config.Config, log *slog.Logger) *storage.FileStore {
	return storage.NewFileStore(
		storage.WithDir(cfg.StateDir),
		storage.WithTTL(cfg.TTL()),
		storage.WithSnippetLength(cfg.SnippetLength),
		storage.WithLogger(log),
	)
}

// BuildRuleSet compiles the built-in rules plus cfg's custom rules. Invalid
// custom rules are logged, returned and skipped.
func BuildRuleSet(cfg *config.Config, log *slog.Logger) (*safety.RuleSet, []error) {
	rules := safety.DefaultRules()
	var errs []error
	for _, rc := range cfg.Rules {
		rule, err := safety.ParseRule(rc.Pattern, rc.Label, rc.Severity)
		if err != nil {
			err = fmt.Errorf("custom rule %q: %w", rc.Label, err)
			log.Warn("skipping custom rule", "error", err)
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	rs, compileErrs := safety.NewRuleSet(rules, log)
	return rs, append(errs, compileErrs...)
}

// NewGate assembles a gate from cfg.
func NewGate(cfg *config.Config, getenv func(string) string, log *slog.Logger) *safety.Gate {
	if getenv == nil {
		getenv = os.Getenv
	}
	rs, _ := BuildRuleSet(cfg, log)
	return &safety.Gate{
		Rules:          rs,
		Containers:     safety.NewContainerFilter(cfg.ContainerRuntimes...),
		Store:          NewStore(cfg, log),
		Phrase:         cfg.BypassPhrase,
		TTL:            cfg.TTL(),
		Disabled:       cfg.Disabled,
		Disposable:     safety.DisposableFromEnv(getenv),
		OnlyUnattended: cfg.OnlyUnattended,
		Log:            log,
	}
}

// initLogging points the process logger at the state directory. Failure
// leaves logging discarded.
func initLogging(cfg *config.Config) {
	logger.SetDebug(cfg.Verbose)
	_ = logger.Init(logger.PathIn(cfg.StateDir)) //nolint:errcheck // logging is best-effort in hooks
}
