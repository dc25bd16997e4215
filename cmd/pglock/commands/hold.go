package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jinford/pglock/pkg/advisorylock"
	"github.com/jinford/pglock/pkg/config"
	"github.com/urfave/cli/v3"
)

// HoldAction はロックを取得して保持し続けるコマンドのアクション
//
// 排他制御の動作確認用。別プロセスから同名のロックを取得すると
// 失敗することを確かめられる
func HoldAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	lockName := cmd.String("name")
	retries := cmd.Int("retries")
	duration := cmd.Duration("duration")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	err = advisorylock.With(ctx, cfg.Database, lockName,
		func(ctx context.Context, conn *pgx.Conn) error {
			slog.Info("ロックを保持しています",
				slog.String("lock_name", lockName),
				slog.Int64("lock_key", advisorylock.DeriveKey(lockName)),
			)

			if duration > 0 {
				select {
				case <-time.After(duration):
					return nil
				case <-ctx.Done():
					return nil
				}
			}

			// シグナル受信まで保持する
			<-ctx.Done()
			return nil
		},
		advisorylock.WithRetries(retries),
		advisorylock.WithLogger(slog.Default()),
	)
	if err != nil {
		if errors.Is(err, advisorylock.ErrLockNotAcquired) {
			return fmt.Errorf("ロックは他のプロセスに保持されています: %w", err)
		}
		return err
	}

	slog.Info("ロックを解放しました", slog.String("lock_name", lockName))
	return nil
}
