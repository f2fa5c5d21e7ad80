// Package testenv hands tests a postgres DSN or a redis address. An address
// from the environment wins; otherwise a container is started once per test
// binary and left for the testcontainers reaper to remove.
package testenv

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startTimeout = 2 * time.Minute

var (
	mu          sync.Mutex
	postgresDSN string
	redisAddr   string
)

// PostgresDSN returns TEST_DATABASE_URL, or the DSN of a shared container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	needDocker(t)

	mu.Lock()
	defer mu.Unlock()
	if postgresDSN != "" {
		return postgresDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("trivia"),
		tcpostgres.WithUsername("trivia"),
		tcpostgres.WithPassword("trivia"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	postgresDSN = dsn
	return dsn
}

// RedisAddr returns TEST_REDIS_ADDR, or the host:port of a shared container.
func RedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	needDocker(t)

	mu.Lock()
	defer mu.Unlock()
	if redisAddr != "" {
		return redisAddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	addr, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	redisAddr = addr
	return addr
}

func needDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a container; skipped in -short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)
}
