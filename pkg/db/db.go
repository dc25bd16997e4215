package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/pglock/pkg/config"
)

// DB はデータベース接続プールを保持します
//
// ロック本体は専用セッション（pkg/advisorylock）を使うため、このプールは
// 使いません。pg_stat_activityの参照などロック外の問い合わせ用です。
type DB struct {
	Pool *pgxpool.Pool
}

// New は新しいデータベース接続プールを作成します
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 接続テスト
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close はデータベース接続を閉じます
func (db *DB) Close() {
	db.Pool.Close()
}
