package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/strata3d/engine/internal/config"
	"github.com/strata3d/engine/internal/load"
	"go.uber.org/zap"
)

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// PGSource serves feature records out of the features table, one tile per
// fetch. Queries run on their own goroutine; completions are posted back to
// the update goroutine through the clock.
type PGSource struct {
	db    *DB
	clock load.Clock
	log   *zap.Logger
}

func NewPGSource(db *DB, clock load.Clock, log *zap.Logger) *PGSource {
	return &PGSource{db: db, clock: clock, log: log}
}

func (s *PGSource) Fetch(ctx context.Context, key load.ScopeKey, complete func(load.Result)) load.Operation {
	fetchCtx, cancel := context.WithCancel(ctx)
	op := &operation{cancel: cancel}
	go func() {
		records, err := s.queryTile(fetchCtx, key)
		s.clock.Post(func() {
			op.done = true
			complete(load.Result{Records: records, Err: err})
		})
	}()
	return op
}

func (s *PGSource) queryTile(ctx context.Context, key load.ScopeKey) ([]load.Record, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT feature_key, name, kind, properties
		FROM features
		WHERE layer = $1 AND level = $2 AND tile_x = $3 AND tile_y = $4
		ORDER BY feature_key`,
		key.Layer, key.Level, key.X, key.Y)
	if err != nil {
		return nil, fmt.Errorf("query tile %s: %w", key, err)
	}
	defer rows.Close()

	var records []load.Record
	for rows.Next() {
		var (
			rec      load.Record
			rawProps []byte
		)
		if err := rows.Scan(&rec.Key, &rec.Name, &rec.Kind, &rawProps); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		if len(rawProps) > 0 {
			if err := json.Unmarshal(rawProps, &rec.Properties); err != nil {
				return nil, fmt.Errorf("decode properties of %q: %w", rec.Key, err)
			}
		}
		rec.Revision = Revision(rec.Properties)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tile %s: %w", key, err)
	}
	return records, nil
}

// Close is a no-op; the pool is owned by DB and closed by the host.
func (s *PGSource) Close() error { return nil }
