package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
	// Schema is put first on every connection's search_path. Empty keeps
	// the server default.
	Schema string
	// Logger receives failed query traces. Nil disables tracing.
	Logger *zerolog.Logger
	// SlowQuery also logs successful statements that take at least this
	// long. Zero logs failures only.
	SlowQuery time.Duration
}

func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = pc.MaxConns
	cfg.MinConns = pc.MinConns

	if pc.Schema != "" {
		if err := ValidateSchema(pc.Schema); err != nil {
			return nil, err
		}
		schema := pc.Schema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
			return err
		}
	}

	if pc.Logger != nil {
		level := tracelog.LogLevelWarn
		if pc.SlowQuery > 0 {
			level = tracelog.LogLevelInfo
		}
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zerologTracer(*pc.Logger, pc.SlowQuery),
			LogLevel: level,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// zerologTracer writes pgx traces to logger. Below warn level only entries
// whose duration reaches slow are kept, and those are raised to warn.
func zerologTracer(logger zerolog.Logger, slow time.Duration) tracelog.Logger {
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
		var ev *zerolog.Event
		switch level {
		case tracelog.LogLevelError:
			ev = logger.Error()
		case tracelog.LogLevelWarn:
			ev = logger.Warn()
		default:
			d, ok := data["time"].(time.Duration)
			if slow <= 0 || !ok || d < slow {
				return
			}
			ev = logger.Warn().Bool("slow", true)
		}
		ev.Fields(data).Str("component", "pgx").Msg(msg)
	})
}
