// Package advisorylock はPostgreSQLのセッションスコープのアドバイザリロックを使った
// プロセス間排他制御を提供します
//
// 複数インスタンスで動作するアプリケーションのうち1つだけが
// クリティカルセクション（例: 課金バッチ）を実行することを保証します。
//
// https://www.postgresql.org/docs/current/explicit-locking.html#ADVISORY-LOCKS
package advisorylock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jinford/pglock/internal/platform/logger"
	"github.com/jinford/pglock/pkg/config"
)

// AdvisoryLock はロック1つ分のライフサイクルを管理します
//
// 使用例:
//
//	lock := advisorylock.New(cfg.Database, "gold_leader", advisorylock.WithRetries(3))
//	conn, err := lock.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	defer lock.Release(ctx)
//	// connを使って保護された処理を行う
//
// インスタンスは1回のAcquire/Releaseサイクル専用です。再利用はErrAlreadyEnteredになります。
// 復帰経路に関わらず解放を保証したい場合はWithを使ってください。
type AdvisoryLock struct {
	cfg      config.DatabaseConfig
	lockName string
	retries  int
	logger   *slog.Logger

	key      int64
	appName  string
	sess     *session
	entered  bool
	acquired bool
}

// Option はAdvisoryLockの生成オプション
type Option func(*AdvisoryLock)

// WithRetries はロック取得のリトライ回数を設定します（デフォルトは0 = 1回だけ試行）
func WithRetries(retries int) Option {
	return func(l *AdvisoryLock) {
		if retries < 0 {
			retries = 0
		}
		l.retries = retries
	}
}

// WithLogger は診断ログの出力先を設定します（デフォルトは出力なし）
func WithLogger(log *slog.Logger) Option {
	return func(l *AdvisoryLock) {
		l.logger = log
	}
}

// New は新しいAdvisoryLockを作成します。接続やロック取得はAcquireまで行いません
func New(cfg config.DatabaseConfig, lockName string, opts ...Option) *AdvisoryLock {
	l := &AdvisoryLock{
		cfg:      cfg,
		lockName: lockName,
		logger:   logger.Nop(),
		key:      DeriveKey(lockName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LockName は要求されたロック名を返します
func (l *AdvisoryLock) LockName() string {
	return l.lockName
}

// Key はロック名から導出された64bitキーを返します
func (l *AdvisoryLock) Key() int64 {
	return l.key
}

// ConnAppName はPostgres側から見えるこのセッションの識別名を返します
// Acquireが呼ばれるまでは空文字列です
func (l *AdvisoryLock) ConnAppName() string {
	return l.appName
}

// Acquired はロックを保持しているかどうかを返します
func (l *AdvisoryLock) Acquired() bool {
	return l.acquired
}

// Acquire は専用セッションを開き、アドバイザリロックの取得を試みます
//
// 成功するとロックを保持したままの接続を返します。保護された処理は
// この接続に対して行ってください。取得に失敗した場合はセッションを
// 閉じてからErrLockNotAcquiredを返すため、接続はリークしません。
// 接続自体の失敗はErrLockNotAcquiredとは別のエラーとして返ります。
func (l *AdvisoryLock) Acquire(ctx context.Context) (*pgx.Conn, error) {
	if l.entered {
		return nil, ErrAlreadyEntered
	}
	l.entered = true

	// セッション識別名は取得のたびに新規生成し、使い回しません
	l.appName = fmt.Sprintf("%s-%s-lock", uuid.NewString(), l.lockName)

	sess, err := openSession(ctx, l.cfg, l.appName)
	if err != nil {
		return nil, err
	}

	got, err := newProtocol(l.retries, l.logger).acquire(ctx, sess, l.key)
	if err != nil || !got {
		// 失敗経路ではエラーを返す前にセッションを閉じる
		if closeErr := sess.close(context.WithoutCancel(ctx)); closeErr != nil {
			l.logger.Warn("failed to close session after acquisition failure",
				slog.String("lock_name", l.lockName),
				slog.Any("error", closeErr),
			)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("lock %q (key %d): %w", l.lockName, l.key, ErrLockNotAcquired)
	}

	l.sess = sess
	l.acquired = true
	l.logger.Info("advisory lock acquired",
		slog.String("lock_name", l.lockName),
		slog.Int64("lock_key", l.key),
		slog.String("application_name", l.appName),
	)
	return sess.conn, nil
}

// Release は保持している全アドバイザリロックを解放し、セッションを閉じます
//
// 解放に失敗してもセッションのcloseは必ず試みます。セッションが閉じれば
// Postgres側でロックは自動的に解放されます。
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if !l.acquired {
		return ErrNotAcquired
	}
	l.acquired = false
	sess := l.sess
	l.sess = nil

	relErr := sess.releaseAll(ctx)
	closeErr := sess.close(ctx)

	l.logger.Info("advisory lock released",
		slog.String("lock_name", l.lockName),
		slog.Int64("lock_key", l.key),
	)

	if relErr != nil {
		if closeErr != nil {
			l.logger.Warn("failed to close session after release failure",
				slog.String("lock_name", l.lockName),
				slog.Any("error", closeErr),
			)
		}
		return relErr
	}
	return closeErr
}

// With はロックを取得した状態でfnを実行し、復帰経路に関わらず解放します
//
// fnが正常終了しても、エラーを返しても、panicしても、ロックの解放と
// セッションのcloseは必ず実行されます。fnのエラーと解放エラーが両方
// 発生した場合はfnのエラーを優先し、解放エラーはログに残すだけにします。
func With(ctx context.Context, cfg config.DatabaseConfig, lockName string, fn func(ctx context.Context, conn *pgx.Conn) error, opts ...Option) (err error) {
	l := New(cfg, lockName, opts...)

	conn, err := l.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		// ctxがキャンセル済みでも後始末は実行する
		relErr := l.Release(context.WithoutCancel(ctx))
		if relErr == nil {
			return
		}
		if err != nil {
			l.logger.Warn("failed to release advisory lock",
				slog.String("lock_name", lockName),
				slog.Any("error", relErr),
			)
			return
		}
		err = relErr
	}()

	return fn(ctx, conn)
}
