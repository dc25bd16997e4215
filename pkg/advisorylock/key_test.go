package advisorylock

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	names := []string{"gold_leader", "billing-run", "a", "日本語のロック名"}

	for _, name := range names {
		first := DeriveKey(name)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, DeriveKey(name), "key for %q must be stable", name)
		}
	}
}

// SQL側の ('x'||substr(md5($1),1,16))::bit(64)::bigint で導出した既知の値と
// 一致することを確認する。プロセスやデプロイをまたいでも同じロック名が
// 同じキーに対応しなければならない
func TestDeriveKey_MatchesSQLDerivation(t *testing.T) {
	tests := []struct {
		name string
		want int64
	}{
		{"gold_leader", 5723539392539660479},
		{"red_leader", 4332923239539907071},
		{"test_retries", -7715480626432494847},
		{"billing-run", 8802106485613469241},
		{"a", 919145239626757800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveKey(tt.name))
		})
	}
}

func TestDeriveKey_DistinctNames(t *testing.T) {
	// 数十個の異なる名前で衝突しないこと（誕生日上限に対して十分小さい）
	var names []string
	for i := 0; i < 50; i++ {
		names = append(names, fmt.Sprintf("lock-%d", i))
	}
	names = append(names, "gold_leader", "gold_leader2", "gold-leader", "GOLD_LEADER", "")

	seen := make(map[int64]string, len(names))
	for _, name := range names {
		key := DeriveKey(name)
		prev, ok := seen[key]
		require.False(t, ok, "key collision between %q and %q", prev, name)
		seen[key] = name
	}
}
