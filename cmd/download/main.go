package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market/history"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// downloadAction backfills the candle store for the requested symbols and
// window, resuming from the checkpoint file when one exists.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	symbols := cmd.StringSlice("symbol")
	timeframe := cmd.String("timeframe")
	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	apiKey := ""
	if env := cmd.String("polygon-api-key-env"); env != "" {
		apiKey = os.Getenv(env)
	}

	p, err := provider.New(provider.Kind(cmd.String("provider")), apiKey)
	if err != nil {
		return err
	}

	lg, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer lg.Sync() //nolint:errcheck // stderr sync failure is harmless at exit

	store, err := history.NewStore(cmd.String("db"), lg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys := make([]types.SeriesKey, 0, len(symbols))
	for _, symbol := range symbols {
		keys = append(keys, types.SeriesKey{Symbol: symbol, Timeframe: timeframe})
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("Backfilling %d series", len(keys))),
		progressbar.OptionShowCount())

	onProgress := func(current, total float64, message string) {
		if message != "" {
			bar.Describe(message)
		}

		if total > 0 {
			bar.Set(int(current / total * 100)) //nolint:errcheck // cosmetic only
		}
	}

	backfiller := history.NewBackfiller(store, p, history.NewCheckpointFile(cmd.String("checkpoint")), lg)
	if err := backfiller.Backfill(ctx, keys, start, end, onProgress); err != nil {
		return err
	}

	fmt.Println()

	if err := store.ValidateContinuity(keys); err != nil {
		return err
	}

	fmt.Printf("Backfilled %d series into %s\n", len(keys), cmd.String("db"))

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "download",
		Usage: "Download historical candles into the local store",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Symbol to download, repeatable",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "timeframe",
				Aliases: []string{"t"},
				Usage:   "Candle timeframe (1m, 5m, 1h, ...)",
				Value:   "1m",
			},
			&cli.TimestampFlag{
				Name:     "start",
				Usage:    "Start date in `YYYY-MM-DD` format",
				Required: true,
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "End date in `YYYY-MM-DD` format. Defaults to today.",
				Value: time.Now().UTC(),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Data provider (binance, polygon)",
				Value:   string(provider.KindBinance),
			},
			&cli.StringFlag{
				Name:  "polygon-api-key-env",
				Usage: "Environment variable holding the Polygon API key",
				Value: "POLYGON_API_KEY",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the DuckDB candle store",
				Value: "data/candles.duckdb",
			},
			&cli.StringFlag{
				Name:  "checkpoint",
				Usage: "Path to the backfill checkpoint file",
				Value: "data/backfill.checkpoint",
			},
		},
		Action: downloadAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
