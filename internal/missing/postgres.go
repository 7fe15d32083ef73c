package missing

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "missing_pages"

// PostgresConfig controls the Postgres connection pool used for the missing-page ledger.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresLog inserts one row per missing page.
type PostgresLog struct {
	pool  execCloser
	table string
	now   func() time.Time
}

var _ epaper.MissingLog = (*PostgresLog)(nil)

// NewPostgresLog connects a pool using cfg.
func NewPostgresLog(ctx context.Context, cfg PostgresConfig) (*PostgresLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresLog{pool: pool, table: table, now: time.Now}, nil
}

// NewPostgresLogWithPool constructs a ledger from an existing pool (primarily for testing).
func NewPostgresLogWithPool(pool execCloser, table string) (*PostgresLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PostgresLog{pool: pool, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Record implements epaper.MissingLog.
func (l *PostgresLog) Record(ctx context.Context, page epaper.MissingPage) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	publisher,
	issue_date,
	page,
	url,
	failure_kind,
	reason,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, l.table)

	args := []any{
		page.Publisher,
		page.Date.Format(time.DateOnly),
		page.Page,
		page.URL,
		string(page.Kind),
		page.Reason,
		l.now().UTC(),
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert missing page: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (l *PostgresLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}
