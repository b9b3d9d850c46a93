package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/polzovatel/web-vision-agent/internal/agent"
	"github.com/polzovatel/web-vision-agent/internal/annotate"
	"github.com/polzovatel/web-vision-agent/internal/browser"
	"github.com/polzovatel/web-vision-agent/internal/config"
	"github.com/polzovatel/web-vision-agent/internal/llm"
	"github.com/polzovatel/web-vision-agent/internal/logging"
	"github.com/polzovatel/web-vision-agent/internal/media"
	"github.com/polzovatel/web-vision-agent/internal/navigator"
	"github.com/polzovatel/web-vision-agent/internal/render"
)

type cliOptions struct {
	configPath string
	headless   bool
	channel    string
	screenshot string
	provider   string
	model      string
	maxSteps   int
	logLevel   string
	logJSON    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts cliOptions
	cmd := &cobra.Command{
		Use:   "web-agent [task]",
		Short: "Answer questions by browsing with a vision model",
		Long: `web-agent drives a Chrome tab on behalf of a vision model. The model sees
annotated screenshots and replies with {"url": ...} or {"click": ...} until it
can answer in plain text. Follow-up questions continue the same session; an
empty line or "exit" ends it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log.Level, cfg.Log.JSON)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				task, err = term.Task(ctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if agent.IsExit(task) {
					return nil
				}
			}
			return run(ctx, cfg, term, task)
		},
	}

	bindFlags(cmd, &opts)
	return cmd
}

func bindFlags(cmd *cobra.Command, opts *cliOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.BoolVar(&opts.headless, "headless", false, "run the browser without a window")
	f.StringVar(&opts.channel, "browser", "", "browser channel: default, canary or testing")
	f.StringVar(&opts.screenshot, "screenshot", "", "screenshot path (.jpg, .jpeg or .png)")
	f.StringVar(&opts.provider, "provider", "", "model provider: openai or anthropic")
	f.StringVar(&opts.model, "model", "", "model name")
	f.IntVar(&opts.maxSteps, "max-steps", 0, "max model turns per question, 0 for unlimited")
	f.StringVar(&opts.logLevel, "log-level", "", "log level")
	f.BoolVar(&opts.logJSON, "log-json", false, "log as JSON")
}

// loadConfig layers explicitly set flags over file and environment.
func loadConfig(cmd *cobra.Command, opts cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if f.Changed("headless") {
		cfg.Browser.Headless = opts.headless
	}
	if f.Changed("browser") {
		cfg.Browser.Channel = opts.channel
	}
	if f.Changed("screenshot") {
		cfg.Navigate.ScreenshotPath = opts.screenshot
	}
	if f.Changed("provider") {
		cfg.UseProvider(opts.provider)
	}
	if f.Changed("model") {
		cfg.LLM.Model = opts.model
	}
	if f.Changed("max-steps") {
		cfg.Agent.MaxSteps = opts.maxSteps
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("log-json") {
		cfg.Log.JSON = opts.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := media.ValidPath(cfg.Navigate.ScreenshotPath); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, term *terminal, task string) error {
	client, err := llm.NewClient(cfg.LLM, logging.Component("llm"))
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	launcher, err := browser.NewLauncher(ctx, cfg.Browser, logging.Component("browser"))
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	tab, err := launcher.Tab(ctx)
	if err != nil {
		_ = launcher.Close()
		return fmt.Errorf("browser tab: %w", err)
	}

	waiter := render.NewWaiter(cfg.Navigate.StableInterval, cfg.Navigate.StableSamples, logging.Component("render"))
	annotator := annotate.New(annotate.Options{ViewportOnly: cfg.Annotate.ViewportOnly}, logging.Component("annotate"))
	nav := navigator.New(navigator.Options{
		ScreenshotPath: cfg.Navigate.ScreenshotPath,
		PageTimeout:    cfg.Navigate.PageTimeout,
		StableTimeout:  cfg.Navigate.StableTimeout,
		BodyOnly:       cfg.Navigate.BodyOnly,
		NewTabTimeout:  cfg.Navigate.NewTabTimeout,
	}, annotator, waiter, logging.Component("nav"))

	planner := agent.NewPlanner(client, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logging.Component("planner"))
	sess := agent.NewSession(agent.Config{
		MaxSteps:       cfg.Agent.MaxSteps,
		HintCandidates: cfg.Agent.HintCandidates,
		ImageLimits:    media.DefaultLimits(),
	}, planner, nav, term, tab, launcher, logging.Component("agent"))

	log.Info().Str("session", sess.ID()).Str("model", client.Name()).Msg("starting")
	err = sess.Run(ctx, task)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
