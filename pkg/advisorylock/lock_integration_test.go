package advisorylock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pglock/internal/platform/postgrestest"
	"github.com/jinford/pglock/pkg/advisorylock"
	"github.com/jinford/pglock/pkg/db"
)

// TestIntegration は実際のPostgreSQLに対してロックのライフサイクルを検証する
// Dockerが利用できない環境ではスキップされる
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := postgrestest.Start(t)
	ctx := context.Background()

	t.Run("acquire and query", func(t *testing.T) {
		err := advisorylock.With(ctx, cfg, "gold_leader",
			func(ctx context.Context, conn *pgx.Conn) error {
				var n int
				if err := conn.QueryRow(ctx, "SELECT 1").Scan(&n); err != nil {
					return err
				}
				assert.Equal(t, 1, n)
				return nil
			},
		)
		require.NoError(t, err)
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		holder := advisorylock.New(cfg, "mutex_test")
		_, err := holder.Acquire(ctx)
		require.NoError(t, err)
		defer holder.Release(ctx)

		// 保持中はretries=0の2つ目の取得が即座に失敗する
		contender := advisorylock.New(cfg, "mutex_test")
		start := time.Now()
		_, err = contender.Acquire(ctx)
		elapsed := time.Since(start)

		require.ErrorIs(t, err, advisorylock.ErrLockNotAcquired)
		assert.False(t, contender.Acquired())
		assert.Less(t, elapsed, 2*time.Second, "retries=0はブロックせず即座に失敗する")
	})

	t.Run("release enables reacquisition", func(t *testing.T) {
		first := advisorylock.New(cfg, "reacquire_test")
		_, err := first.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, first.Release(ctx))

		second := advisorylock.New(cfg, "reacquire_test")
		_, err = second.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, second.Release(ctx))
	})

	t.Run("release runs after protected region error", func(t *testing.T) {
		regionErr := errors.New("billing run failed")

		err := advisorylock.With(ctx, cfg, "fault_test",
			func(ctx context.Context, conn *pgx.Conn) error {
				return regionErr
			},
		)
		// 保護区間のエラーはそのまま伝播する
		require.ErrorIs(t, err, regionErr)

		// エラー終了後でもロックは解放されており、再取得できる
		err = advisorylock.With(ctx, cfg, "fault_test",
			func(ctx context.Context, conn *pgx.Conn) error { return nil },
		)
		require.NoError(t, err)
	})

	t.Run("release runs after panic", func(t *testing.T) {
		require.Panics(t, func() {
			_ = advisorylock.With(ctx, cfg, "panic_test",
				func(ctx context.Context, conn *pgx.Conn) error {
					panic("boom")
				},
			)
		})

		err := advisorylock.With(ctx, cfg, "panic_test",
			func(ctx context.Context, conn *pgx.Conn) error { return nil },
		)
		require.NoError(t, err, "panic後もロックは解放されている")
	})

	t.Run("retry succeeds under contention", func(t *testing.T) {
		holder := advisorylock.New(cfg, "retry_test")
		_, err := holder.Acquire(ctx)
		require.NoError(t, err)

		// 保持側は2秒後に解放する
		released := make(chan struct{})
		go func() {
			defer close(released)
			time.Sleep(2 * time.Second)
			_ = holder.Release(ctx)
		}()

		// リトライ回数は解放を確実にまたげるよう多めに取る
		err = advisorylock.With(ctx, cfg, "retry_test",
			func(ctx context.Context, conn *pgx.Conn) error { return nil },
			advisorylock.WithRetries(20),
		)
		require.NoError(t, err)
		<-released
	})

	t.Run("no leaked session after failed acquisition", func(t *testing.T) {
		holder := advisorylock.New(cfg, "leak_test")
		_, err := holder.Acquire(ctx)
		require.NoError(t, err)
		defer holder.Release(ctx)

		contender := advisorylock.New(cfg, "leak_test")
		_, err = contender.Acquire(ctx)
		require.ErrorIs(t, err, advisorylock.ErrLockNotAcquired)

		// 失敗した側のセッションはpg_stat_activityから消えている
		database, err := db.New(ctx, cfg)
		require.NoError(t, err)
		defer database.Close()

		require.Eventually(t, func() bool {
			return !sessionVisible(t, ctx, database, contender.ConnAppName())
		}, 10*time.Second, 200*time.Millisecond, "failed contender session must be closed")

		// 保持側のセッションは識別名付きで見えている
		assert.True(t, sessionVisible(t, ctx, database, holder.ConnAppName()))
	})
}

// sessionVisible はapplication_nameが一致するセッションの有無を返す
func sessionVisible(t *testing.T, ctx context.Context, database *db.DB, appName string) bool {
	t.Helper()

	var count int
	err := database.Pool.QueryRow(ctx,
		"SELECT count(*) FROM pg_stat_activity WHERE application_name = $1",
		appName,
	).Scan(&count)
	require.NoError(t, err)
	return count > 0
}
