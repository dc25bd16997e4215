package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/pglock/cmd/pglock/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
	nameFlag := &cli.StringFlag{
		Name:     "name",
		Usage:    "ロック名",
		Required: true,
	}

	app := &cli.Command{
		Name:  "pglock",
		Usage: "PostgreSQLアドバイザリロックによるプロセス間排他制御ツール",
		Commands: []*cli.Command{
			{
				Name:   "key",
				Usage:  "ロック名から導出される64bitキーを表示",
				Flags:  []cli.Flag{nameFlag},
				Action: commands.KeyAction,
			},
			{
				Name:  "hold",
				Usage: "ロックを取得してシグナル受信まで保持（動作確認用）",
				Flags: []cli.Flag{
					envFlag,
					nameFlag,
					&cli.IntFlag{
						Name:  "retries",
						Usage: "ロック取得のリトライ回数",
						Value: 0,
					},
					&cli.DurationFlag{
						Name:  "duration",
						Usage: "保持時間（0ならシグナル受信まで）",
						Value: 0,
					},
				},
				Action: commands.HoldAction,
			},
			{
				Name:  "sessions",
				Usage: "ロック用セッションの一覧を表示",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:  "name",
						Usage: "ロック名で絞り込み（省略時は全ロックセッション）",
					},
				},
				Action: commands.SessionsAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
