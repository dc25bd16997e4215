package advisorylock

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// tryAcquirer はロック取得試行の発行先です（テストではフェイクに差し替えます）
type tryAcquirer interface {
	tryAcquire(ctx context.Context, key int64) (bool, error)
}

// protocol はリトライ付きのロック取得ポリシーを実装します
type protocol struct {
	retries int
	// randFloatは[0, 1)を返し、秒単位の追加待機時間になる
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func newProtocol(retries int, logger *slog.Logger) *protocol {
	return &protocol{
		retries:   retries,
		randFloat: rand.Float64,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// acquire は最大 1+retries 回ロック取得を試みます
//
// 待機時間は試行ごとにランダムな値を積み増した単調増加列になります。
// 上限なし・指数なしのこの方式は、競合するプロセス同士が調整なしに
// 再試行タイミングを分散させるための元実装の仕様であり、意図的に
// capped exponential backoffへ置き換えていません。
func (p *protocol) acquire(ctx context.Context, sess tryAcquirer, key int64) (bool, error) {
	got, err := sess.tryAcquire(ctx, key)
	if err != nil {
		return false, err
	}
	if got {
		return true, nil
	}

	// retriesが0の場合はループに入らず即座に失敗を返す
	if p.retries == 0 {
		return false, nil
	}

	maxAttempts := 1 + p.retries
	var wait time.Duration
	for attempt := 2; attempt <= maxAttempts; attempt++ {
		wait += time.Duration(p.randFloat() * float64(time.Second))
		p.logger.Debug("advisory lock contended, retrying",
			slog.Int64("lock_key", key),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
		if err := p.sleep(ctx, wait); err != nil {
			return false, err
		}

		got, err := sess.tryAcquire(ctx, key)
		if err != nil {
			return false, err
		}
		if got {
			return true, nil
		}
	}

	return false, nil
}

// sleepContext はコンテキストのキャンセルを尊重して待機します
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
