package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient() *Client {
	return NewClientFrom(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient("127.0.0.1", 1, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestGetResult_Unreachable(t *testing.T) {
	c := unreachableClient()
	defer c.Close()

	table, ok, err := c.GetResult(context.Background(), "abc")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, table)
}

func TestSessionStorage_Unreachable(t *testing.T) {
	c := unreachableClient()
	defer c.Close()
	storage := c.SessionStorage()

	data, err := storage.Get("")
	assert.NoError(t, err)
	assert.Nil(t, data)
	assert.NoError(t, storage.Set("", []byte("x"), time.Minute))
	assert.NoError(t, storage.Set("id", nil, time.Minute))

	_, err = storage.Get("id")
	assert.Error(t, err)
	assert.Error(t, storage.Set("id", []byte("x"), time.Minute))
	assert.NoError(t, storage.Close())
}
