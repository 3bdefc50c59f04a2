package gormstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tirds/internal/cache"
	"tirds/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheWriterRoundTripThroughReader(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "tirds_cache.db")
	w, err := OpenCacheWriter(ctx, path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, w.Upsert(ctx,
		types.CacheEntry{
			Key:       "indicator:rsi_14:AAPL",
			Category:  types.CategoryIndicator,
			Value:     []byte(`{"value":35.5}`),
			Source:    "loader",
			Symbol:    "AAPL",
			ExpiresAt: now.Add(5 * time.Minute),
		},
		types.CacheEntry{
			Key:       "quote:AAPL",
			Value:     []byte(`{"price":150.25}`),
			Source:    "loader",
			Symbol:    "AAPL",
			ExpiresAt: now.Add(-time.Minute),
		},
	))
	// 再次写入同一 key 覆盖旧值
	require.NoError(t, w.Upsert(ctx, types.CacheEntry{
		Key:       "indicator:rsi_14:AAPL",
		Category:  types.CategoryIndicator,
		Value:     []byte(`{"value":36.1}`),
		Source:    "loader",
		Symbol:    "AAPL",
		ExpiresAt: now.Add(5 * time.Minute),
	}))
	n, err := w.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, w.Close())

	store, err := cache.OpenSQLite(ctx, path)
	require.NoError(t, err)
	reader := cache.NewReader(cache.NewMemoryStore(100, time.Minute), store)
	defer reader.Close()

	snap, err := reader.BuildDomainSnapshot(ctx, "AAPL", cache.SnapshotPlan{
		Indicators:  []string{"rsi_14"},
		Concurrency: 2,
	})
	require.NoError(t, err)
	require.Contains(t, snap.Indicators, "rsi_14")
	assert.JSONEq(t, `{"value":36.1}`, string(snap.Indicators["rsi_14"]))
	assert.Empty(t, snap.Quote, "过期的 quote 不应出现在快照中")
}

func TestCacheWriterRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	w, err := OpenCacheWriter(ctx, filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer w.Close()

	future := time.Now().Add(time.Hour)
	cases := []types.CacheEntry{
		{Key: "", Value: []byte(`{}`), ExpiresAt: future},
		{Key: "mystery", Value: []byte(`{}`), ExpiresAt: future},
		{Key: "quote:AAPL", Value: []byte(`{`), ExpiresAt: future},
		{Key: "quote:AAPL", Value: []byte(`{}`)},
	}
	for _, e := range cases {
		assert.Error(t, w.Upsert(ctx, e), "key=%q", e.Key)
	}
}

func TestCacheWriterDeleteExpired(t *testing.T) {
	ctx := context.Background()
	w, err := OpenCacheWriter(ctx, filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer w.Close()

	now := time.Now()
	require.NoError(t, w.Upsert(ctx,
		types.CacheEntry{Key: "ref:SPY", Value: []byte(`{}`), ExpiresAt: now.Add(time.Hour)},
		types.CacheEntry{Key: "ref:VIX", Value: []byte(`{}`), ExpiresAt: now.Add(-time.Hour)},
	))
	deleted, err := w.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	n, err := w.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	body := `[
		{"key": "quote:AAPL", "value_json": {"price": 187.5}, "symbol": "AAPL", "ttl_seconds": 600},
		{"key": "ref:SPY", "value_json": {"price": 520}, "source": "manual", "expires_at": "2030-01-01T00:00:00Z"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	entries, err := LoadSeedFile(path, now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, now.Add(10*time.Minute), entries[0].ExpiresAt)
	assert.Equal(t, "seed", entries[0].Source)
	assert.Equal(t, "manual", entries[1].Source)
	assert.JSONEq(t, `{"price": 520}`, string(entries[1].Value))

	require.NoError(t, os.WriteFile(path, []byte(`[{"key":"quote:X","value_json":{}}]`), 0o644))
	_, err = LoadSeedFile(path, now)
	assert.Error(t, err)
}
