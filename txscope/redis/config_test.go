//go:build unit

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing address", cfg: Config{Address: "  "}},
		{name: "negative db", cfg: Config{Address: "localhost:6379", DB: -1}},
		{name: "negative pool", cfg: Config{Address: "localhost:6379", PoolSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(context.Background(), tt.cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Address: "localhost:6379"}.withDefaults()

	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, defaultConnectAttempts, cfg.ConnectAttempts)
	assert.Equal(t, defaultDialTimeout, cfg.DialTimeout)

	opts := cfg.options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, defaultDialTimeout, opts.DialTimeout)
}

func TestNewClient_Connects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNewClient_GivesUp(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(context.Background(), Config{
		Address:         addr,
		ConnectAttempts: 2,
		DialTimeout:     100 * time.Millisecond,
	})
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
