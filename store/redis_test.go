package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/delahq/dela/config"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(config.RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "dela_test:",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_Contract(t *testing.T) {
	s := newTestRedisStore(t)
	exerciseStores(t, storeSet{steps: s, templates: s, runs: s})
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(config.RedisConfig{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
}
