package profiles

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	profileKeyPrefix   = "profile:"
	defaultProfileTTL  = time.Hour
	valkeyMaxRetries   = 3
	valkeyRetryDelay   = 250 * time.Millisecond
	valkeyPingTimeout  = 3 * time.Second
	valkeyWriteTimeout = 5 * time.Second
)

// ValkeyConfig configures a ValkeyCache.
type ValkeyConfig struct {
	Address  string
	Password string
	UseTLS   bool
	TTL      time.Duration // defaults to one hour
	Logger   *slog.Logger
}

// ValkeyCache stores profiles as JSON values under "profile:<author>" with a
// TTL. Cache trouble never surfaces to callers; failed reads report a miss
// and failed writes are dropped after logging.
type ValkeyCache struct {
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	client valkey.Client
	opts   valkey.ClientOption
}

// NewValkeyCache connects to valkey and verifies the connection with a ping.
func NewValkeyCache(cfg ValkeyConfig) (*ValkeyCache, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("[ValkeyCache] Address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultProfileTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := valkey.ClientOption{
		InitAddress:      []string{cfg.Address},
		Password:         cfg.Password,
		ConnWriteTimeout: valkeyWriteTimeout,
		SelectDB:         0,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("[ValkeyCache] Failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), valkeyPingTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[ValkeyCache] Ping failed: %w", err)
	}

	cfg.Logger.Info("[ValkeyCache] Connected", slog.String("address", cfg.Address))
	return &ValkeyCache{ttl: cfg.TTL, logger: cfg.Logger, client: client, opts: opts}, nil
}

func (c *ValkeyCache) Get(ctx context.Context, author string) (models.Profile, bool) {
	res, err := c.doWithRetry(ctx, func(client valkey.Client) valkey.Completed {
		return client.B().Get().Key(profileKeyPrefix + author).Build()
	})
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			c.logger.Warn("[ValkeyCache] Get failed",
				slog.String("author", author),
				slog.Any("error", err))
		}
		return models.Profile{}, false
	}

	payload, err := res.AsBytes()
	if err != nil {
		return models.Profile{}, false
	}
	var p models.Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("[ValkeyCache] Corrupt cache entry",
			slog.String("author", author),
			slog.Any("error", err))
		return models.Profile{}, false
	}
	return p, true
}

func (c *ValkeyCache) Put(ctx context.Context, p models.Profile) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	_, err = c.doWithRetry(ctx, func(client valkey.Client) valkey.Completed {
		return client.B().Set().
			Key(profileKeyPrefix + p.Author).
			Value(string(payload)).
			Ex(c.ttl).
			Build()
	})
	if err != nil {
		c.logger.Warn("[ValkeyCache] Put failed",
			slog.String("author", p.Author),
			slog.Any("error", err))
	}
}

// Close releases the underlying connection.
func (c *ValkeyCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.Close()
}

// doWithRetry runs a command, rebuilding it each attempt. Connection errors
// get the client recreated before the next try; other errors return as is.
func (c *ValkeyCache) doWithRetry(ctx context.Context, build func(valkey.Client) valkey.Completed) (valkey.ValkeyResult, error) {
	var res valkey.ValkeyResult
	var err error
	for attempt := 0; attempt <= valkeyMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(valkeyRetryDelay):
			}
		}
		client := c.currentClient()
		res = client.Do(ctx, build(client))
		err = res.Error()
		if err == nil {
			return res, nil
		}
		if !isConnectionError(err) {
			return res, err
		}
		c.logger.Warn("[ValkeyCache] Connection error, recreating client",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		c.recreateClient()
	}
	return res, err
}

func (c *ValkeyCache) currentClient() valkey.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// recreateClient swaps in a fresh connection. When the rebuild fails the old
// client stays so later attempts can try again.
func (c *ValkeyCache) recreateClient() {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := valkey.NewClient(c.opts)
	if err != nil {
		c.logger.Error("[ValkeyCache] Failed to recreate client", slog.Any("error", err))
		return
	}
	c.client.Close()
	c.client = client
	c.logger.Info("[ValkeyCache] Client recreated")
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "i/o timeout")
}

// CacheFromEnv builds the profile cache from the environment. With
// VALKEY_INIT_ADDRESS set it connects a ValkeyCache, otherwise it falls back
// to an in-memory cache.
//
//	VALKEY_INIT_ADDRESS   valkey address, e.g. localhost:6379
//	VALKEY_PASSWORD       optional password
//	VALKEY_TLS            "true" to enable TLS
//	LENSFEED_PROFILE_TTL  cache TTL, e.g. 30m (default 1h)
func CacheFromEnv(logger *slog.Logger) (Cache, error) {
	addr := os.Getenv("VALKEY_INIT_ADDRESS")
	if addr == "" {
		logger.Info("[Profiles] No valkey configured, using in-memory profile cache")
		return NewMemCache(), nil
	}

	ttl := defaultProfileTTL
	if raw := os.Getenv("LENSFEED_PROFILE_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("[Profiles] Invalid LENSFEED_PROFILE_TTL, using default",
				slog.String("value", raw))
		} else {
			ttl = parsed
		}
	}

	return NewValkeyCache(ValkeyConfig{
		Address:  addr,
		Password: os.Getenv("VALKEY_PASSWORD"),
		UseTLS:   os.Getenv("VALKEY_TLS") == "true",
		TTL:      ttl,
		Logger:   logger,
	})
}
