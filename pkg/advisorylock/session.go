package advisorylock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/pglock/pkg/config"
)

// session はロックインスタンスが専有する単一のデータベース接続です
//
// アドバイザリロックは取得したセッションに紐づくため、接続プールは使わず
// 1ロックにつき1接続を開きます。セッションが失われればロックも失われます。
type session struct {
	conn    *pgx.Conn
	appName string
	closed  bool
}

// openSession は専用セッションを1つ開きます
// application_nameにSessionIdentityを設定し、pg_stat_activityから識別できるようにします
func openSession(ctx context.Context, cfg config.DatabaseConfig, appName string) (*session, error) {
	connCfg, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	connCfg.RuntimeParams["application_name"] = appName

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &session{conn: conn, appName: appName}, nil
}

// tryAcquire は非ブロッキングでロック取得を試みます
// 競合は正常な結果（false）であり、エラーではありません
func (s *session) tryAcquire(ctx context.Context, key int64) (bool, error) {
	var got bool
	if err := s.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&got); err != nil {
		return false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	return got, nil
}

// releaseAll はこのセッションが保持する全アドバイザリロックを解放します
func (s *session) releaseAll(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "SELECT pg_advisory_unlock_all()"); err != nil {
		return fmt.Errorf("failed to release advisory locks: %w", err)
	}
	return nil
}

// close はセッションを閉じます。二重closeは何もしません
func (s *session) close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}
