// Package redis holds the short-lived coordination state: idempotency
// records, payment confirmation claims, and cron job locks.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

const keyNamespace = "cs"

var errNotConnected = errors.New("redis client not initialized")

// deleteIfValue removes KEYS[1] only while it still holds ARGV[1].
var deleteIfValue = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Client is the application's view of Redis. scripts is nil in unit tests,
// where DelIfValue falls back to GET then DEL.
type Client struct {
	store   cmdable
	scripts redis.Scripter
	conn    *redis.Client
}

// IdempotencyStore is the subset the HTTP idempotency middleware and the
// outbox delivery guard need.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New connects using cfg and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_db", opts.DB), "redis connected")
	}
	return &Client{store: conn, scripts: conn, conn: conn}, nil
}

// buildOptions prefers CAMPUSSTORE_REDIS_URL. Pool and timeout settings from
// cfg fill whatever the URL leaves unset.
func buildOptions(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fill := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}
	fillDur := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}
	fill(&opts.DB, cfg.DB)
	fill(&opts.PoolSize, cfg.PoolSize)
	fill(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDur(&opts.DialTimeout, cfg.DialTimeout)
	fillDur(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDur(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotConnected
	}
	return c.store.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotConnected
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotConnected
	}
	return c.store.Del(ctx, keys...).Err()
}

// DelIfValue deletes key only when it still stores value and reports whether
// it did.
func (c *Client) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if c.scripts != nil {
		n, err := deleteIfValue.Run(ctx, c.scripts, []string{key}, value).Int()
		return n == 1, err
	}
	current, err := c.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && current != value) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, c.Del(ctx, key)
}

func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotConnected
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) IdempotencyKey(scope, id string) string { return key("idempotency", scope, id) }

// LockKey names the lock guarding one cron job across replicas.
func (c *Client) LockKey(job string) string { return key("lock", job) }

func (c *Client) PaymentConfirmKey(gatewayPaymentID string) string {
	return key("payment_confirm", gatewayPaymentID)
}

// ClaimPaymentConfirmation marks gatewayPaymentID as in flight. It returns
// false when another request already holds the claim.
func (c *Client) ClaimPaymentConfirmation(ctx context.Context, gatewayPaymentID string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, c.PaymentConfirmKey(gatewayPaymentID), time.Now().UTC().Format(time.RFC3339), ttl)
}

// ReleasePaymentConfirmation drops the claim so a failed confirmation can be retried.
func (c *Client) ReleasePaymentConfirmation(ctx context.Context, gatewayPaymentID string) error {
	return c.Del(ctx, c.PaymentConfirmKey(gatewayPaymentID))
}

// key joins the non-empty parts under the cs: namespace.
func key(parts ...string) string {
	segments := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}
