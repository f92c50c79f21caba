package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/benjaminbreen/premodern-concordance/internal/config"
)

const (
	defaultMaxConns   = 8
	connMaxIdleTime   = 5 * time.Minute
	connMaxLifetime   = 30 * time.Minute
	slowQueryDuration = 500 * time.Millisecond
)

var errPoolNotInitialized = errors.New("concordance store is not initialized")

// Pool is the Postgres store that published concordance runs live in.
type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

// NewPool connects, checks the connection and brings the concordance schema
// up to date. SQL logging goes through log.
func NewPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	level := resolveGormLogLevel(cfg.LogLevel, cfg.Environment)
	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: newGormLogger(log, level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open concordance database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	maxOpen, maxIdle := connectionLimits(cfg.DBMinConns, cfg.DBMaxConns)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate concordance schema: %w", err)
	}

	log.Debug().
		Int("max_open_conns", maxOpen).
		Int("max_idle_conns", maxIdle).
		Msg("concordance store ready")
	return pool, nil
}

// session scopes the gorm handle to ctx.
func (p *Pool) session(ctx context.Context) (*gorm.DB, error) {
	if p == nil || p.gdb == nil {
		return nil, errPoolNotInitialized
	}
	return p.gdb.WithContext(ctx), nil
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

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound)
}

// connectionLimits keeps at least one idle connection and never more idle
// than open ones.
func connectionLimits(minConns, maxConns int32) (int, int) {
	maxOpen := int(maxConns)
	if maxOpen <= 0 {
		maxOpen = defaultMaxConns
	}
	return maxOpen, max(1, min(int(minConns), maxOpen))
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	}
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return logger.Warn
	}
	return logger.Error
}

func newGormLogger(log zerolog.Logger, level logger.LogLevel) logger.Interface {
	return logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger(), level: zerologLevel(level)}, logger.Config{
		SlowThreshold:             slowQueryDuration,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}

// gormWriter forwards gorm's formatted lines to zerolog at one level.
type gormWriter struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.WithLevel(w.level).Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func zerologLevel(level logger.LogLevel) zerolog.Level {
	switch level {
	case logger.Info:
		return zerolog.DebugLevel
	case logger.Warn:
		return zerolog.WarnLevel
	case logger.Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}
