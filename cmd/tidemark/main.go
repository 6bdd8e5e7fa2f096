package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/engine"
	"github.com/tidemark-lab/tidemark/internal/logger"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	log, err := newRunLogger(cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failure is harmless at exit

	opts := engine.Options{DryRun: cmd.Bool("dry-run")}

	// Fail on missing paths or credentials now, not mid-run.
	if err := config.Preflight(cfg, opts.DryRun); err != nil {
		return err
	}

	if cmd.Bool("interactive") {
		selected, err := pickStrategies(cfg.Strategies)
		if err != nil {
			return err
		}

		if len(selected) == 0 {
			fmt.Println("no strategies selected, nothing to run")

			return nil
		}

		opts.Strategies = selected
	}

	// SIGINT ends the run cleanly: the candle loop stops at the next
	// candle boundary and the summary is still persisted.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, closeAll, err := engine.Build(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer closeAll()

	summary, err := eng.Run(ctx)
	if err != nil {
		log.Error("run failed", zap.Error(err))

		return err
	}

	fmt.Print(renderSummary(summary))

	return nil
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	schema, err := config.ToJSONSchema()
	if err != nil {
		return err
	}

	out := cmd.String("output")
	if out == "" {
		fmt.Println(schema)

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}

	return os.WriteFile(out, []byte(schema), 0o644)
}

func newRunLogger(verbose bool) (*logger.Logger, error) {
	if verbose {
		return logger.NewDebugLogger()
	}

	return logger.NewLogger()
}

func main() {
	cmd := &cli.Command{
		Name:  "tidemark",
		Usage: "Candle-driven trading engine",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the engine with a config file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML config file",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Force the synthetic source and simulated execution",
					},
					&cli.BoolFlag{
						Name:    "interactive",
						Aliases: []string{"i"},
						Usage:   "Pick the strategies to run from the configured set",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Enable debug logging",
					},
				},
				Action: runAction,
			},
			{
				Name:  "schema",
				Usage: "Print the JSON schema for the config file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the schema to this file instead of stdout",
					},
				},
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
