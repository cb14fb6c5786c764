// Package main is the entry point for the Doppelganger simulation CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/export"
	"cymbytes.com/doppelganger/internal/generation"
	"cymbytes.com/doppelganger/internal/orchestrator"
	"cymbytes.com/doppelganger/internal/orchestrator/api"
	"cymbytes.com/doppelganger/internal/orchestrator/registry"
	"cymbytes.com/doppelganger/internal/orchestrator/webhooks"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// App carries the loaded configuration into command handlers.
type App struct {
	Config Config
	Logger zerolog.Logger
	Stdout io.Writer
	Stdin  io.Reader
}

func main() {
	// Load .env for any additional env vars
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("doppelganger"),
		kong.Description("Adversary simulation orchestrator for authorized sandbox exercises."),
		kong.UsageOnError(),
		kongVars(),
	)

	cfg := DefaultConfig()
	if cli.Config != "" {
		if err := loadConfig(cli.Config, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	applyEnvOverrides(&cfg)
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	app := &App{
		Config: cfg,
		Logger: initLogger(cfg.Logging),
		Stdout: os.Stdout,
		Stdin:  os.Stdin,
	}

	shutdownTracing, err := initTracing(cfg.Tracing, os.Stderr)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer shutdownTracing()

	err = kctx.Run(app)
	if err != nil {
		app.Logger.Error().Err(err).Str("kind", string(contract.KindOf(err))).Msg("Command failed")
		shutdownTracing()
		os.Exit(1)
	}
}

// Run executes one simulation.
func (c *RunCmd) Run(app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	input, err := c.readInput(app.Stdin)
	if err != nil {
		return err
	}

	service, err := newService(ctx, app.Config.Generation, c.Offline, c.Fixtures, app.Logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(service, app.Logger)
	if app.Config.Webhooks.Enabled {
		fwd := webhooks.NewForwarder(app.Config.Webhooks, app.Logger)
		orch.SetForwarder(fwd)
		defer fwd.Wait()
	}

	runID := uuid.New().String()
	result, err := orch.Run(ctx, input,
		orchestrator.WithRunID(runID),
		orchestrator.WithObserver(progressLogger(app.Logger)),
	)
	if err != nil {
		return err
	}

	if c.ExportDir != "" {
		exportCfg := app.Config.Export
		exportCfg.Dir = c.ExportDir
		if _, err := export.New(exportCfg, app.Logger).Export(runID, result); err != nil {
			return err
		}
	}

	return writeResult(c.Out, app.Stdout, result)
}

func (c *RunCmd) readInput(stdin io.Reader) ([]byte, error) {
	switch {
	case c.Example:
		return json.Marshal(simulation.ExampleInput())
	case c.Input == "-":
		return io.ReadAll(stdin)
	case c.Input != "":
		data, err := os.ReadFile(c.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("either --input or --example is required")
	}
}

// Run serves the HTTP API until interrupted.
func (c *ServeCmd) Run(app *App) error {
	cfg := app.Config
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	logger := app.Logger

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting Doppelganger API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, err := newService(ctx, cfg.Generation, c.Offline, "", logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(service, logger)
	if cfg.Webhooks.Enabled {
		orch.SetForwarder(webhooks.NewForwarder(cfg.Webhooks, logger))
		logger.Info().Str("url", cfg.Webhooks.URL).Msg("Webhook integration enabled")
	}

	reg := registry.New(cfg.Registry, logger)
	reg.Start(ctx)
	defer reg.Stop()

	server := api.New(cfg.Server, api.Dependencies{
		Orchestrator: orch,
		Registry:     reg,
		Version:      Version,
		StartTime:    time.Now(),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Doppelganger API is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Doppelganger API stopped")
	return nil
}

// Run prints the stage catalog.
func (c *StagesCmd) Run(app *App) error {
	tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tFAN-OUT\tDEPENDS ON\tSUMMARY")
	for _, def := range stages.Catalog() {
		deps := "-"
		if len(def.DependsOn) > 0 {
			names := make([]string, len(def.DependsOn))
			for i, d := range def.DependsOn {
				names[i] = string(d)
			}
			deps = strings.Join(names, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Name, def.FanOut, deps, def.Summary)
	}
	return tw.Flush()
}

// Run prints version information.
func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Stdout, "Doppelganger\n")
	fmt.Fprintf(app.Stdout, "  Version:    %s\n", Version)
	fmt.Fprintf(app.Stdout, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(app.Stdout, "  Git Commit: %s\n", GitCommit)
	return nil
}

// newService builds the configured generation service, optionally wrapped
// by scripted fixture responses.
func newService(ctx context.Context, cfg GenerationConfig, offline bool, fixtures string, logger zerolog.Logger) (contract.Service, error) {
	provider := cfg.Provider
	if offline {
		provider = ProviderOffline
	}

	var base contract.Service
	switch provider {
	case ProviderOffline:
		base = generation.NewStub(cfg.OfflinePhases)
	case ProviderGemini, "":
		client, err := generation.NewGeminiClient(ctx, generation.GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}

	if fixtures == "" {
		return base, nil
	}
	return generation.LoadFixtures(fixtures, base)
}

// progressLogger reports each stage transition at debug level.
func progressLogger(logger zerolog.Logger) progress.Observer {
	return progress.ObserverFunc(func(runID string, stage progress.Stage) {
		logger.Debug().Str("run_id", runID).Str("stage", string(stage)).Msg(stage.Name())
	})
}

func writeResult(path string, stdout io.Writer, result *simulation.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
