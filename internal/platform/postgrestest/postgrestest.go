// Package postgrestest は統合テスト用のPostgreSQLコンテナを起動します
package postgrestest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/jinford/pglock/pkg/config"
)

const (
	testUser     = "pglock"
	testPassword = "pglock"
	testDBName   = "pglock_test"
)

// Start はPostgreSQLコンテナを起動し、接続設定を返します
//
// Dockerが利用できない環境ではテストをスキップします。
// コンテナの破棄はt.Cleanupに登録されるため呼び出し側での後始末は不要です。
func Start(t *testing.T) config.DatabaseConfig {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=" + testUser,
			"POSTGRES_PASSWORD=" + testPassword,
			"POSTGRES_DB=" + testDBName,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("failed to purge postgres container: %v", err)
		}
	})

	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     hostPort(t, resource),
		User:     testUser,
		Password: testPassword,
		DBName:   testDBName,
		SSLMode:  "disable",
	}

	// 起動直後は接続を受け付けないことがあるためリトライする
	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := pgx.Connect(ctx, cfg.ConnString())
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx)
	}); err != nil {
		t.Fatalf("failed to connect to postgres container: %v", err)
	}

	return cfg
}

func hostPort(t *testing.T, resource *dockertest.Resource) int {
	t.Helper()

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		t.Fatalf("failed to parse mapped port: %v", err)
	}
	return port
}
