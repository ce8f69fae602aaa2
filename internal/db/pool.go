package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/upkeep/internal/config"
)

var (
	ErrNoRows = sql.ErrNoRows

	errPoolNotInitialized = errors.New("database pool is not initialized")
)

const (
	defaultMaxConns    = 8
	connMaxIdleTime    = 5 * time.Minute
	connMaxLifetime    = 30 * time.Minute
	mockPoolLogLevel   = logger.Silent
	defaultGormLogMode = logger.Warn
)

// CommandTag reports the effect of an Exec.
type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

// Row is a single-row result. A nil Row scans as ErrNoRows.
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	return r != nil && r.rows != nil && r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r != nil && r.rows != nil {
		_ = r.rows.Close()
	}
}

// Queryer is satisfied by both *Pool and Tx, so query helpers run the same
// way inside or outside a transaction.
type Queryer interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// session runs raw SQL on a gorm handle, either the pool itself or an open
// transaction.
type session struct {
	gdb *gorm.DB
}

func (s session) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if s.gdb == nil {
		return &Row{}
	}
	return &Row{row: s.gdb.WithContext(ctx).Raw(query, args...).Row()}
}

func (s session) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if s.gdb == nil {
		return nil, errPoolNotInitialized
	}
	rows, err := s.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (s session) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if s.gdb == nil {
		return CommandTag{}, errPoolNotInitialized
	}
	res := s.gdb.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}

type txSession struct {
	session
}

func (t txSession) Commit(ctx context.Context) error {
	return t.gdb.WithContext(ctx).Commit().Error
}

func (t txSession) Rollback(ctx context.Context) error {
	return t.gdb.WithContext(ctx).Rollback().Error
}

// Pool owns the gorm handle for the upkeep schema.
type Pool struct {
	session
	sqlDB *sql.DB
}

// NewPool connects to DATABASE_URL, sizes the connection pool and runs the
// schema migrations.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  logger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	sizeConnPool(sqlDB, int(cfg.DBMinConns), int(cfg.DBMaxConns))

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{session: session{gdb: gdb}, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}
	return pool, nil
}

// NewPoolFromConn wraps an existing *sql.DB (for example a sqlmock handle)
// without pinging or migrating it.
func NewPoolFromConn(conn *sql.DB) (*Pool, error) {
	if conn == nil {
		return nil, fmt.Errorf("sql connection is nil")
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:                 logger.Default.LogMode(mockPoolLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}
	return &Pool{session: session{gdb: gdb}, sqlDB: conn}, nil
}

func sizeConnPool(sqlDB *sql.DB, minConns, maxConns int) {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(1, min(minConns, maxConns)))
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
}

func (p *Pool) begin(ctx context.Context) (Tx, error) {
	if p == nil || p.gdb == nil {
		return nil, errPoolNotInitialized
	}
	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return txSession{session{gdb: tx}}, nil
}

// WithTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back on any error, including a failed commit.
func (p *Pool) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return errPoolNotInitialized
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func (p *Pool) DB() *sql.DB {
	if p == nil {
		return nil
	}
	return p.sqlDB
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// resolveGormLogLevel maps LOG_LEVEL onto gorm's SQL logger. Unknown levels
// stay quiet outside local development.
func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return defaultGormLogMode
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	}
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return defaultGormLogMode
	}
	return logger.Error
}
