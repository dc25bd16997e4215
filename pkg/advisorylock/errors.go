package advisorylock

import "errors"

var (
	// ErrLockNotAcquired はリトライ回数を使い切ってもロックを取得できなかったことを示します
	// 接続エラーとは区別され、このエラーが返る時点でセッションは閉じられています
	ErrLockNotAcquired = errors.New("advisory lock not acquired")

	// ErrAlreadyEntered は一度使用したロックインスタンスを再利用しようとしたことを示します
	// AdvisoryLockは1回のAcquire/Releaseサイクル専用です
	ErrAlreadyEntered = errors.New("advisory lock instance already used")

	// ErrNotAcquired は取得していないロックを解放しようとしたことを示します
	ErrNotAcquired = errors.New("advisory lock is not held")
)
