package commands

import (
	"context"
	"fmt"

	"github.com/jinford/pglock/pkg/advisorylock"
	"github.com/urfave/cli/v3"
)

// KeyAction はロック名から導出される64bitキーを表示するコマンドのアクション
//
// SQL側の ('x'||substr(md5($1),1,16))::bit(64)::bigint と同じ値になるため、
// 他システムとのキーの突き合わせに使える
func KeyAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")

	fmt.Printf("%d\n", advisorylock.DeriveKey(name))
	return nil
}
