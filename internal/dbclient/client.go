// Package dbclient wraps go-redis with the small surface the monitoring
// engine needs: ping, parsed INFO snapshots, slowlog depth, and a
// capability record derived from the server version. Transient command
// failures are retried with backoff; callers see only the final error.
package dbclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	goredis "github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Mode selects the instance deployment topology.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeSentinel Mode = "sentinel"
	ModeCluster  Mode = "cluster"
)

// Config configures a topology-agnostic instance connection.
type Config struct {
	Mode         Mode
	Addrs        []string // single: 1 addr, sentinel: sentinel addrs, cluster: seed nodes
	MasterName   string   // sentinel only
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client is the database handle the engine polls through.
type Client interface {
	Ping(ctx context.Context) error
	InfoParsed(ctx context.Context) (InfoSnapshot, error)
	SlowlogLen(ctx context.Context) (int64, error)
	Capabilities() Capabilities

	// Raw exposes the driver handle for advanced calls (CLUSTER NODES,
	// CLIENT LIST, MEMORY USAGE, SCAN).
	Raw() goredis.UniversalClient

	Close() error
}

type redisClient struct {
	rdb   goredis.UniversalClient
	caps  Capabilities
	retry failsafe.Executor[any]
}

// Connect dials the instance, verifies it with a ping, and detects its
// capabilities from an initial INFO round trip. go-redis routes on the
// options: MasterName set → Sentinel, multiple Addrs → Cluster, single
// Addr → standalone.
func Connect(ctx context.Context, cfg Config) (Client, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one instance address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultDialTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultDialTimeout
	}

	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping instance: %w", err)
	}

	c := &redisClient{rdb: rdb, retry: newCommandRetry()}

	snap, err := c.InfoParsed(ctx)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("initial info: %w", err)
	}
	c.caps = DetectCapabilities(snap)

	return c, nil
}

// newCommandRetry builds the retry executor for read commands. Two quick
// retries smooth over connection resets without masking a down instance.
func newCommandRetry() failsafe.Executor[any] {
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(100*time.Millisecond, time.Second).
		WithMaxRetries(2).
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		Build()
	return failsafe.With(policy)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, goredis.Nil)
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *redisClient) InfoParsed(ctx context.Context) (InfoSnapshot, error) {
	raw, err := c.retry.WithContext(ctx).Get(func() (any, error) {
		return c.rdb.Info(ctx).Result()
	})
	if err != nil {
		return nil, err
	}
	return ParseInfo(raw.(string)), nil
}

func (c *redisClient) SlowlogLen(ctx context.Context) (int64, error) {
	n, err := c.retry.WithContext(ctx).Get(func() (any, error) {
		// go-redis models SLOWLOG GET but not SLOWLOG LEN.
		return c.rdb.Do(ctx, "SLOWLOG", "LEN").Int64()
	})
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

func (c *redisClient) Capabilities() Capabilities {
	return c.caps
}

func (c *redisClient) Raw() goredis.UniversalClient {
	return c.rdb
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}
