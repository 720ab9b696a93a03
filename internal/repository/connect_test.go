package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundermatch/funnel/internal/config"
)

func TestOpenRedis_Disabled(t *testing.T) {
	client, err := OpenRedis(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), config.RedisConfig{URL: "://nope"})
	assert.Error(t, err)
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), config.DatabaseConfig{})
	assert.Error(t, err)
}
