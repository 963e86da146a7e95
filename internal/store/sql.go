package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

// dialect captures the differences between the SQL engines we run on.
type dialect struct {
	name     string
	driver   string
	realType string
	numbered bool // $1, $2 ... instead of ?
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite", realType: "REAL"}
	postgresDialect = dialect{name: "postgres", driver: "pgx", realType: "DOUBLE PRECISION", numbered: true}
)

// rebind rewrites ? placeholders for dialects that use numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS mix (
			datetime         TEXT PRIMARY KEY,
			fuel_breakdown   TEXT NOT NULL,
			carbon_intensity %s NOT NULL CHECK (carbon_intensity >= 0)
		)`, d.realType)
}

const (
	maxTimestampQuery = `SELECT MAX(datetime) FROM mix`

	upsertQuery = `
		INSERT INTO mix (datetime, fuel_breakdown, carbon_intensity)
		VALUES (?, ?, ?)
		ON CONFLICT (datetime) DO UPDATE SET
			fuel_breakdown = excluded.fuel_breakdown,
			carbon_intensity = excluded.carbon_intensity`

	rangeQuery = `
		SELECT datetime, fuel_breakdown, carbon_intensity
		FROM mix
		WHERE datetime >= ? AND datetime <= ?
		ORDER BY datetime`
)

// SQLStore is a mix.Store over database/sql. Each session pins one pooled connection.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.schema())
	return err
}

// Open acquires a dedicated connection for the lifetime of the session.
func (s *SQLStore) Open(ctx context.Context) (mix.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &sqlSession{conn: conn, dialect: s.dialect}, nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlSession struct {
	conn    *sql.Conn
	dialect dialect
}

func (q *sqlSession) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullString
	if err := q.conn.QueryRowContext(ctx, maxTimestampQuery).Scan(&latest); err != nil {
		return time.Time{}, false, classify(err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(mix.TimeLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt datetime %q: %w", latest.String, err)
	}
	return ts, true, nil
}

func (q *sqlSession) UpsertBatch(ctx context.Context, records []mix.Record) error {
	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q.dialect.rebind(upsertQuery))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", classify(err))
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			return fmt.Errorf("%w: zero timestamp", ErrConstraint)
		}
		fuels := rec.FuelBreakdown
		if fuels == nil {
			fuels = map[string]float64{}
		}
		fuelJSON, err := json.Marshal(fuels)
		if err != nil {
			return fmt.Errorf("encode fuel breakdown for %s: %w", rec.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, rec.Key(), string(fuelJSON), rec.CarbonIntensity); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Key(), classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

func (q *sqlSession) QueryRange(ctx context.Context, from, to time.Time) ([]mix.Record, error) {
	lo, hi := secondBounds(from, to)
	rows, err := q.conn.QueryContext(ctx, q.dialect.rebind(rangeQuery),
		lo.Format(mix.TimeLayout), hi.Format(mix.TimeLayout))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var result []mix.Record
	for rows.Next() {
		var (
			datetime string
			fuelJSON string
			rec      mix.Record
		)
		if err := rows.Scan(&datetime, &fuelJSON, &rec.CarbonIntensity); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = time.Parse(mix.TimeLayout, datetime); err != nil {
			return nil, fmt.Errorf("corrupt datetime %q: %w", datetime, err)
		}
		if err := json.Unmarshal([]byte(fuelJSON), &rec.FuelBreakdown); err != nil {
			return nil, fmt.Errorf("corrupt fuel breakdown at %s: %w", datetime, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// secondBounds maps [from, to] onto whole seconds, the precision rows are keyed at.
// A fractional from rounds up so rows before it are excluded.
func secondBounds(from, to time.Time) (time.Time, time.Time) {
	from, to = from.UTC(), to.UTC()
	lo := from.Truncate(time.Second)
	if lo.Before(from) {
		lo = lo.Add(time.Second)
	}
	return lo, to.Truncate(time.Second)
}

func (q *sqlSession) Close() error {
	err := q.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
