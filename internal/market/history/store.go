// Package history stores historical candles in an embedded DuckDB database
// and serves them back as an ordered Source for backtests.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Store is the candle archive. Merge is idempotent: re-inserting candles
// that already exist is a no-op, so interrupted backfills can simply rerun.
type Store struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewStore opens (or creates) a store at path. An empty path opens an
// in-memory database.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to open candle store at %s", path)
	}

	store := &Store{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger: log,
	}

	if err := store.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time TIMESTAMP NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_candles_key ON candles (symbol, timeframe, open_time);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create candles table", err)
	}

	return nil
}

// Merge inserts candles that are not already present. Existing bars keep
// their stored values; the merge never rewrites them.
func (s *Store) Merge(candles []types.Candle) (inserted int, err error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin merge transaction", err)
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM candles WHERE symbol = ? AND timeframe = ? AND open_time = ?
		)
	`)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare merge statement", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if verr := c.Validate(); verr != nil {
			err = verr

			return 0, err
		}

		result, execErr := stmt.Exec(
			c.Symbol, c.Timeframe, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
			c.Symbol, c.Timeframe, c.OpenTime,
		)
		if execErr != nil {
			err = errors.Wrap(errors.ErrCodeQueryFailed, "failed to merge candle", execErr)

			return 0, err
		}

		rows, _ := result.RowsAffected()
		inserted += int(rows)
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit merge", err)
	}

	if s.logger != nil {
		s.logger.Debug("merged candles",
			zap.Int("received", len(candles)),
			zap.Int("inserted", inserted))
	}

	return inserted, nil
}

// Count returns the number of stored candles for a series.
func (s *Store) Count(key types.SeriesKey) (int, error) {
	query, args, err := s.sq.
		Select("COUNT(*)").
		From("candles").
		Where(squirrel.Eq{"symbol": key.Symbol, "timeframe": key.Timeframe}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count candles", err)
	}

	return count, nil
}

// Extent returns the first and last open times stored for a series.
// Returns None when the series is empty.
func (s *Store) Extent(key types.SeriesKey) (optional.Option[time.Time], optional.Option[time.Time], error) {
	query, args, err := s.sq.
		Select("MIN(open_time)", "MAX(open_time)").
		From("candles").
		Where(squirrel.Eq{"symbol": key.Symbol, "timeframe": key.Timeframe}).
		ToSql()
	if err != nil {
		return optional.None[time.Time](), optional.None[time.Time](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build extent query", err)
	}

	var minTime, maxTime sql.NullTime
	if err := s.db.QueryRow(query, args...).Scan(&minTime, &maxTime); err != nil {
		return optional.None[time.Time](), optional.None[time.Time](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query extent", err)
	}

	if !minTime.Valid {
		return optional.None[time.Time](), optional.None[time.Time](), nil
	}

	return optional.Some(minTime.Time.UTC()), optional.Some(maxTime.Time.UTC()), nil
}

// Gap is one missing stretch in a candle series.
type Gap struct {
	Key      types.SeriesKey
	After    time.Time
	Before   time.Time
	Expected time.Duration
	Actual   time.Duration
}

// Gaps scans a series for missing bars: consecutive stored candles whose
// open times differ by more than the timeframe.
func (s *Store) Gaps(key types.SeriesKey) ([]Gap, error) {
	step, err := types.ParseTimeframe(key.Timeframe)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		WITH ordered AS (
			SELECT open_time,
			       LAG(open_time) OVER (ORDER BY open_time) AS prev_time
			FROM candles
			WHERE symbol = ? AND timeframe = ?
		)
		SELECT prev_time, open_time
		FROM ordered
		WHERE prev_time IS NOT NULL
		  AND epoch(open_time) - epoch(prev_time) > ?
		ORDER BY open_time
	`, key.Symbol, key.Timeframe, int(step.Seconds()))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan for gaps", err)
	}
	defer rows.Close()

	var gaps []Gap

	for rows.Next() {
		var prev, next time.Time
		if err := rows.Scan(&prev, &next); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan gap row", err)
		}

		gaps = append(gaps, Gap{
			Key:      key,
			After:    prev.UTC(),
			Before:   next.UTC(),
			Expected: step,
			Actual:   next.Sub(prev),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "gap scan failed", err)
	}

	return gaps, nil
}

// ValidateContinuity fails with a DataIntegrityError when any configured
// series has gaps. The error names every gap so the operator can backfill
// the exact ranges.
func (s *Store) ValidateContinuity(keys []types.SeriesKey) error {
	for _, key := range keys {
		gaps, err := s.Gaps(key)
		if err != nil {
			return err
		}

		if len(gaps) > 0 {
			first := gaps[0]

			return errors.Newf(errors.ErrCodeDataGap,
				"%d gap(s) in %s, first between %s and %s",
				len(gaps), key, first.After.Format(time.RFC3339), first.Before.Format(time.RFC3339))
		}
	}

	return nil
}

// ImportParquet loads candles from a parquet file into the store.
// The file must carry the candles schema.
func (s *Store) ImportParquet(path string) error {
	// File paths cannot be bound as parameters, so the literal is escaped.
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO candles
		SELECT p.symbol, p.timeframe, p.open_time, p.open, p.high, p.low, p.close, p.volume
		FROM read_parquet('%s') p
		WHERE NOT EXISTS (
			SELECT 1 FROM candles c
			WHERE c.symbol = p.symbol AND c.timeframe = p.timeframe AND c.open_time = p.open_time
		)
	`, quoteLiteral(path)))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to import parquet file %s", path)
	}

	return nil
}

// ExportParquet writes the full candle table to a parquet file.
func (s *Store) ExportParquet(path string) error {
	_, err := s.db.Exec(fmt.Sprintf(`COPY candles TO '%s' (FORMAT PARQUET)`, quoteLiteral(path)))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to export parquet file %s", path)
	}

	return nil
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reader is a historical Source replaying stored candles between bounds.
type Reader struct {
	store *Store
	keys  []types.SeriesKey
	start optional.Option[time.Time]
	end   optional.Option[time.Time]
}

var _ market.Source = (*Reader)(nil)

// NewReader creates a Source over the stored series, interleaved in
// open-time order.
func (s *Store) NewReader(keys []types.SeriesKey, start, end optional.Option[time.Time]) *Reader {
	return &Reader{store: s, keys: keys, start: start, end: end}
}

// Candles yields stored candles ordered by open time, then symbol.
func (r *Reader) Candles(ctx context.Context) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {
		builder := r.store.sq.
			Select("symbol", "timeframe", "open_time", "open", "high", "low", "close", "volume").
			From("candles").
			OrderBy("open_time", "symbol")

		or := make(squirrel.Or, 0, len(r.keys))
		for _, key := range r.keys {
			or = append(or, squirrel.Eq{"symbol": key.Symbol, "timeframe": key.Timeframe})
		}

		builder = builder.Where(or)

		if r.start.IsSome() {
			builder = builder.Where(squirrel.GtOrEq{"open_time": r.start.Unwrap()})
		}

		if r.end.IsSome() {
			builder = builder.Where(squirrel.LtOrEq{"open_time": r.end.Unwrap()})
		}

		query, args, err := builder.ToSql()
		if err != nil {
			yield(types.Candle{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build read query", err))

			return
		}

		rows, err := r.store.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(types.Candle{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read candles", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			if ctx.Err() != nil {
				return
			}

			var c types.Candle
			if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
				yield(types.Candle{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan candle", err))

				return
			}

			c.OpenTime = c.OpenTime.UTC()

			if !yield(c, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Candle{}, errors.Wrap(errors.ErrCodeQueryFailed, "candle read failed", err))
		}
	}
}
