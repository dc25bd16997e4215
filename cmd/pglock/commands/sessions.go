package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pglock/pkg/db"
)

// lockSession はpg_stat_activityから取得したロック用セッションの情報
type lockSession struct {
	PID          int
	AppName      string
	State        *string
	BackendStart time.Time
}

// SessionsAction はロック用セッションの一覧を表示するコマンドのアクション
//
// セッションはapplication_nameが "<uuid>-<ロック名>-lock" 形式で
// タグ付けされているため、pg_stat_activityから識別できる
func SessionsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	lockName := cmd.String("name")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sessions, err := listLockSessions(ctx, appCtx.Database, lockName)
	if err != nil {
		return fmt.Errorf("セッション一覧の取得に失敗: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("ロック用セッションは見つかりませんでした")
		return nil
	}

	displayLockSessions(sessions)
	return nil
}

// listLockSessions はapplication_nameのタグでロック用セッションを検索する
func listLockSessions(ctx context.Context, database *db.DB, lockName string) ([]lockSession, error) {
	pattern := "%-lock"
	if lockName != "" {
		pattern = fmt.Sprintf("%%-%s-lock", lockName)
	}

	rows, err := database.Pool.Query(ctx,
		`SELECT pid, application_name, state, backend_start
		 FROM pg_stat_activity
		 WHERE application_name LIKE $1
		 ORDER BY backend_start`,
		pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []lockSession
	for rows.Next() {
		var s lockSession
		if err := rows.Scan(&s.PID, &s.AppName, &s.State, &s.BackendStart); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// displayLockSessions はセッション一覧をテーブル形式で表示する
func displayLockSessions(sessions []lockSession) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("PID", "アプリケーション名", "状態", "接続開始")

	for _, s := range sessions {
		state := ""
		if s.State != nil {
			state = *s.State
		}
		table.Append(
			fmt.Sprintf("%d", s.PID),
			s.AppName,
			state,
			s.BackendStart.Format("2006-01-02 15:04:05"),
		)
	}

	table.Render()
}
