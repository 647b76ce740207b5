package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefeed/livefeed/pkg/types"
	"github.com/livefeed/livefeed/server/internal/logging"
	"github.com/livefeed/livefeed/server/internal/mirror"
	"github.com/livefeed/livefeed/server/internal/store"
)

func newMirror(t *testing.T) (*mirror.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mirror.NewRedis(rdb, "", 0), mr
}

func TestWarmStart_RestoresMirroredSnapshot(t *testing.T) {
	mir, _ := newMirror(t)
	snap, err := types.Encode(map[string]string{"city": "Singapore"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, mir.Save(context.Background(), snap))

	st := store.New()
	warmStart(context.Background(), st, mir)

	got := st.Read()
	assert.False(t, got.IsPlaceholder())
	assert.True(t, got.Equal(snap))
	assert.Equal(t, uint64(1), got.Version())
}

func TestWarmStart_KeepsPlaceholder(t *testing.T) {
	t.Run("nothing mirrored", func(t *testing.T) {
		mir, _ := newMirror(t)
		st := store.New()
		warmStart(context.Background(), st, mir)
		assert.True(t, st.Read().IsPlaceholder())
	})

	t.Run("redis down", func(t *testing.T) {
		var buf bytes.Buffer
		logging.InitWriter(&buf, "info", "text")
		t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil))) })

		mir, mr := newMirror(t)
		mr.Close()
		st := store.New()
		warmStart(context.Background(), st, mir)

		assert.True(t, st.Read().IsPlaceholder())
		assert.Contains(t, buf.String(), "redis unreachable")
		assert.NotContains(t, buf.String(), "warm start failed")
	})
}
