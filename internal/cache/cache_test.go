package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key([]byte(`{"patient":{"id":1},"trials":[]}`))
	b := Key([]byte(`{"patient":{"id":1},"trials":[]}`))
	c := Key([]byte(`{"patient":{"id":2},"trials":[]}`))

	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.Len(t, a, len(KeyPrefix)+64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewDisabled(t *testing.T) {
	c := New(Options{})
	assert.Nil(t, c)

	ctx := context.Background()
	_, ok := c.Get(ctx, "match:x")
	assert.False(t, ok)
	c.Set(ctx, "match:x", []byte(`{}`))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestUnreachableRedisIsAMiss(t *testing.T) {
	c := New(Options{Addr: "127.0.0.1:1", TTL: time.Minute})
	require.NotNil(t, c)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, c.Ping(ctx))
	c.Set(ctx, "match:x", []byte(`{}`))
	_, ok := c.Get(ctx, "match:x")
	assert.False(t, ok)
}
