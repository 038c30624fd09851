package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/skillrun/skillrun/internal/config"
	"github.com/skillrun/skillrun/internal/engine"
	"github.com/skillrun/skillrun/internal/events"
	"github.com/skillrun/skillrun/internal/logging"
	"github.com/skillrun/skillrun/internal/orchestrator"
	"github.com/skillrun/skillrun/internal/skillfile"
	"github.com/skillrun/skillrun/internal/telemetry"
	"github.com/skillrun/skillrun/internal/trace"
)

// Build-time variables (set via ldflags).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("skillrun"),
		kong.Description("Autonomous skill execution engine"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *RunCmd) Run() error {
	cfg := config.New()
	if c.Config != "" {
		loaded, err := config.LoadFile(c.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	log := logging.New()
	if c.Quiet {
		log.SetLevel(logging.LevelError)
	}

	provider, err := newProvider()
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher(cfg.Events.BufferSize)
	if !c.Quiet {
		dispatcher.Attach(&renderSink{out: os.Stderr}, events.RoleOperator)
	}
	natsURL := c.NATS
	if natsURL == "" {
		natsURL = cfg.Events.NATSURL
	}
	if natsURL != "" {
		sink, err := events.NewNATSSink(natsURL, cfg.Events.NATSSubject)
		if err != nil {
			return err
		}
		dispatcher.Attach(sink, events.RoleObserver)
	}
	defer dispatcher.Close()

	traces, err := trace.NewStore(c.TracesDir)
	if err != nil {
		return err
	}

	var index *skillfile.Index
	if c.Skills != "" {
		index = skillfile.NewIndex([]string{c.Skills})
		defer index.Close()
	}

	workingDir, _ := os.Getwd()
	orc := &orchestrator.Orchestrator{
		Provider:   provider,
		Tools:      builtinTools(cfg, log),
		Config:     cfg,
		Events:     dispatcher,
		Log:        log,
		Tracer:     telemetry.New("skillrun", cfg.Telemetry.Debug),
		Traces:     traces,
		Skills:     index,
		WorkingDir: workingDir,
		User:       os.Getenv("USER"),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orc.Execute(runCtx, orchestrator.RootContext(cfg.Engine.MaxDepth), orchestrator.Request{
		SkillDir:  c.Skill,
		Arguments: c.Args,
		Mode:      c.Mode,
		Model:     c.Model,
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Answer)
	if res.Status == engine.StateFailed {
		os.Exit(2)
	}
	return nil
}

func (c *ValidateCmd) Run() error {
	skill, err := skillfile.Load(c.Skill)
	if err != nil {
		return err
	}

	fmt.Printf("ok: %s (%s)\n", skill.Name, skill.Description)
	fmt.Printf("  mode: %s  fork: %v\n", skill.Mode(), skill.Fork)
	if wl := skill.Whitelist(); !wl.Empty() {
		fmt.Printf("  allowed tools: %v\n", wl.Names())
	} else {
		fmt.Println("  allowed tools: unrestricted (every inline command will be security-logged)")
	}
	if skill.LengthWarning != "" {
		fmt.Println("  warning:", skill.LengthWarning)
	}
	if scripts, err := skill.ListScripts(); err == nil && len(scripts) > 0 {
		fmt.Printf("  scripts: %v\n", scripts)
	}
	return nil
}

func (c *VersionCmd) Run() error {
	fmt.Printf("skillrun %s (commit %s, built %s)\n", version, commit, buildTime)
	return nil
}
