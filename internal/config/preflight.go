package config

import (
	"os"
	"path/filepath"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Preflight runs the startup checks that must pass before the engine loop
// starts. Any failure is fatal: the process should exit non-zero without
// touching the exchange or the ledger. A dry run forces the synthetic
// source and simulated execution, so it only needs the writable paths.
func Preflight(cfg *Config, dryRun bool) error {
	if err := ensureWritableDir(cfg.Ledger.ResultsDir); err != nil {
		return err
	}

	if cfg.Ledger.DatabasePath != "" {
		if err := ensureWritableDir(filepath.Dir(cfg.Ledger.DatabasePath)); err != nil {
			return err
		}
	}

	if dryRun {
		return nil
	}

	if cfg.Data.Source == DataSourceHistory && cfg.Data.DatabasePath == "" && cfg.Data.BackfillDays == 0 {
		return errors.New(errors.ErrCodePreflightFailed, "history source needs a database path or backfill enabled")
	}

	// Live and forward modes talk to the exchange, so credentials must
	// resolve before the loop starts, not on first order.
	if cfg.Mode != types.RunModeBacktest || cfg.Data.Source == DataSourceLive {
		if _, _, err := cfg.Execution.Binance.ResolveCredentials(); err != nil {
			return errors.Wrap(errors.ErrCodePreflightFailed, "exchange credentials unavailable", err)
		}
	}

	return nil
}

func ensureWritableDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodePreflightFailed, err, "cannot create directory %s", dir)
	}

	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return errors.Wrapf(errors.ErrCodePreflightFailed, err, "directory %s is not writable", dir)
	}

	f.Close()
	os.Remove(f.Name())

	return nil
}
