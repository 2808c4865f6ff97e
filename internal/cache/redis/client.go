package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/query"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

const queryKeyPrefix = "nl2sql:query:"

// Client is the shared tier of the query memo.
type Client struct {
	client redis.UniversalClient
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func NewClientFrom(client redis.UniversalClient) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetResult(ctx context.Context, queryHash string, table *query.Table, ttl time.Duration) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = c.client.Set(ctx, queryKeyPrefix+queryHash, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}

	logger.Debug("Query result cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

// GetResult reads a cached result. JSON numbers come back as float64.
func (c *Client) GetResult(ctx context.Context, queryHash string) (*query.Table, bool, error) {
	data, err := c.client.Get(ctx, queryKeyPrefix+queryHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get query cache: %w", err)
	}

	var table query.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("query_hash", queryHash), zap.String("tier", "redis"))
	return &table, true, nil
}

// InvalidateQueries drops every cached query result.
func (c *Client) InvalidateQueries(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, queryKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Query cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
