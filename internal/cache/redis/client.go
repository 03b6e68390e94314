// Package redis implements the price cache, decision stream, leader lock and
// API rate limiter on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultClientName tags connections in CLIENT LIST.
const defaultClientName = "perpbot"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	ClientName  string
	DialTimeout time.Duration
}

// Client owns the connection pool shared by the price cache, signal bus,
// leader lock and rate limiter.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects to Redis and fails unless the server answers a PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is empty")
	}
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		ClientName:  name,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = tlsConfig(cfg.Addr)
	}

	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// tlsConfig pins the server name to the host part of addr.
func tlsConfig(addr string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		cfg.ServerName = host
	}
	return cfg
}

// Ping backs the "redis" dependency check in /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

// Close releases the pool. The trading loop must have stopped first since
// the leader lock is refreshed through the same pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
