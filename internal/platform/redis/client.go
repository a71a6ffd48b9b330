// Package redis opens the cache connection used by the sysparam read path.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client embeds the go-redis client and adds the health probe the router's
// readiness check expects.
type Client struct {
	*redis.Client
}

// New connects using a redis:// URL. An empty URL returns a nil client: the
// cache is optional and callers degrade to direct store reads.
func New(url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether the connection still answers.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
