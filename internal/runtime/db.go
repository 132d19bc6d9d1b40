package runtime

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/redis/go-redis/v9"
)

// BuildPostgresDSN returns storage.postgres.url when set, otherwise a URL
// assembled from the discrete fields. Credentials are escaped and the
// configured timeout becomes connect_timeout.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config is nil")
	}
	p := cfg.Storage.Postgres
	if err := p.Validate(); err != nil {
		return "", err
	}
	if u := strings.TrimSpace(p.URL); u != "" {
		return u, nil
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	q := url.Values{}
	q.Set("sslmode", firstNonEmpty(p.SSLMode, "disable"))
	q.Set("application_name", "marketbrain")
	if secs := int(p.Timeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: q.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// OpenRedis connects to the configured redis and pings it. It returns nil,
// nil when redis is not configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	return rdb, nil
}
