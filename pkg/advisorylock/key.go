package advisorylock

import (
	"crypto/md5"
	"encoding/binary"
)

// DeriveKey はロック名からアドバイザリロック用の64bitキーを生成します
//
// md5ダイジェストの先頭16桁（16進）を符号付き64bit整数として解釈します。
// これはPostgreSQL側の式
//
//	('x'||substr(md5($1),1,16))::bit(64)::bigint
//
// とビット単位で一致するため、SQL側でキーを導出する既存プロセスとも
// 同じロック名に対して同じキーで競合できます。
func DeriveKey(lockName string) int64 {
	sum := md5.Sum([]byte(lockName))

	// 先頭8バイト（=16進16桁）をビッグエンディアンで解釈する
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
