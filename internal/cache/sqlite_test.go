package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tirds/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seedRow struct {
	key, category, value, symbol string
	expires                      string
}

func seedSQLite(t *testing.T, rows ...seedRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, EnsureSchema(ctx, db))
	now := FormatTimestamp(time.Now())
	for _, r := range rows {
		var symbol any
		if r.symbol != "" {
			symbol = r.symbol
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO cache_entries (key, category, value_json, source, symbol, created_at, expires_at, updated_at)
			 VALUES (?, ?, ?, 'test', ?, ?, ?, ?)`,
			r.key, r.category, r.value, symbol, now, r.expires, now)
		require.NoError(t, err)
	}
	return path
}

func future() string { return FormatTimestamp(time.Now().Add(time.Hour)) }
func past() string   { return FormatTimestamp(time.Now().Add(-time.Hour)) }

func TestSQLiteStoreGet(t *testing.T) {
	path := seedSQLite(t,
		seedRow{key: "indicator:rsi_14:AAPL", category: "indicator", value: `{"value":35.5}`, symbol: "AAPL", expires: future()},
		seedRow{key: "quote:AAPL", category: "market_data", value: `{"price":1}`, symbol: "AAPL", expires: past()},
		seedRow{key: "ref:VIX", category: "reference_symbol", value: `{"value":[18.2]}`, expires: future()},
		seedRow{key: "quote:BAD", category: "market_data", value: `{}`, symbol: "BAD", expires: "yesterday"},
	)
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	entry, ok, err := store.Get(ctx, "indicator:rsi_14:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryIndicator, entry.Category)
	assert.Equal(t, "AAPL", entry.Symbol)
	assert.JSONEq(t, `{"value":35.5}`, string(entry.Value))

	_, ok, err = store.Get(ctx, "quote:AAPL")
	require.NoError(t, err)
	assert.False(t, ok, "过期条目视为不存在")

	entry, ok, err = store.Get(ctx, "ref:VIX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, entry.Symbol)

	_, ok, err = store.Get(ctx, "quote:BAD")
	require.NoError(t, err)
	assert.False(t, ok, "时间戳无法解析的行按缺失处理")

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStoreListHelpers(t *testing.T) {
	path := seedSQLite(t,
		seedRow{key: "indicator:rsi_14:AAPL", category: "indicator", value: `{}`, symbol: "AAPL", expires: future()},
		seedRow{key: "indicator:sma_20:AAPL", category: "indicator", value: `{}`, symbol: "AAPL", expires: future()},
		seedRow{key: "indicatorXrsi", category: "indicator", value: `{}`, symbol: "X", expires: future()},
		seedRow{key: "indicator:old:AAPL", category: "indicator", value: `{}`, symbol: "AAPL", expires: past()},
		seedRow{key: "quote:AAPL", category: "market_data", value: `{}`, symbol: "AAPL", expires: future()},
	)
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()

	byPrefix, err := store.ListByPrefix(context.Background(), "indicator:")
	require.NoError(t, err)
	require.Len(t, byPrefix, 2)
	assert.Equal(t, "indicator:rsi_14:AAPL", byPrefix[0].Key)
	assert.Equal(t, "indicator:sma_20:AAPL", byPrefix[1].Key)

	underscore, err := store.ListByPrefix(context.Background(), "indicator:rsi_")
	require.NoError(t, err)
	require.Len(t, underscore, 1)

	bySymbol, err := store.ListBySymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, bySymbol, 3)
}

func TestOpenSQLiteFailures(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))

	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE other (id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLite(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))
	assert.Contains(t, err.Error(), "cache_entries")
}

func TestSQLiteStoreClosedIsUnavailable(t *testing.T) {
	path := seedSQLite(t)
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, _, err = store.Get(context.Background(), "quote:AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))
}

func TestReaderOverSQLiteRoundTrip(t *testing.T) {
	path := seedSQLite(t,
		seedRow{key: "indicator:rsi_14:AAPL", category: "indicator", value: `{"value":35.5}`, symbol: "AAPL", expires: future()},
	)
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	r := NewReader(NewMemoryStore(100, time.Minute), store)
	defer r.Close()

	snap, err := r.BuildDomainSnapshot(context.Background(), "AAPL", SnapshotPlan{
		Indicators: []string{"rsi_14", "sma_20"}, Concurrency: 2,
	})
	require.NoError(t, err)
	require.Contains(t, snap.Indicators, "rsi_14")
	assert.JSONEq(t, `{"value":35.5}`, string(snap.Indicators["rsi_14"]))
	assert.Equal(t, 1, r.Hot().Len())
}
