package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tirds/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDurable struct {
	mock.Mock
}

func (m *mockDurable) Get(ctx context.Context, key string) (types.CacheEntry, bool, error) {
	args := m.Called(ctx, key)
	if fn, ok := args.Get(0).(func(string) (types.CacheEntry, bool)); ok {
		entry, found := fn(key)
		return entry, found, args.Error(2)
	}
	return args.Get(0).(types.CacheEntry), args.Bool(1), args.Error(2)
}

func (m *mockDurable) Close() error { return nil }

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) ObserveCacheLookup(result string) {
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[result]++
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReaderPromotesDurableHit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	durable := &mockDurable{}
	entry := types.CacheEntry{
		Key:       "indicator:rsi_14:AAPL",
		Category:  types.CategoryIndicator,
		Value:     []byte(`{"value":35.5}`),
		Source:    "loader",
		ExpiresAt: now.Add(5 * time.Minute),
	}
	durable.On("Get", mock.Anything, "indicator:rsi_14:AAPL").Return(entry, true, nil).Once()
	obs := &countingObserver{}
	r := NewReader(NewMemoryStore(100, time.Minute), durable, withClock(fixedClock(now)), WithObserver(obs))

	first, ok, err := r.Get(context.Background(), "indicator:rsi_14:AAPL")
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := r.Get(context.Background(), "indicator:rsi_14:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(first), string(second))

	durable.AssertNumberOfCalls(t, "Get", 1)
	assert.Equal(t, 1, obs.counts[LookupDurableHit])
	assert.Equal(t, 1, obs.counts[LookupHotHit])
}

func TestReaderExpiredEntryAbsentInEitherLayer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	expired := types.CacheEntry{
		Key:       "quote:AAPL",
		Value:     []byte(`{"price":1}`),
		ExpiresAt: now.Add(-time.Second),
	}

	t.Run("durable", func(t *testing.T) {
		durable := &mockDurable{}
		durable.On("Get", mock.Anything, "quote:AAPL").Return(expired, true, nil)
		r := NewReader(NewMemoryStore(100, time.Minute), durable, withClock(fixedClock(now)))
		_, ok, err := r.Get(context.Background(), "quote:AAPL")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, r.Hot().Len(), "过期条目不得被提升")
	})

	t.Run("hot", func(t *testing.T) {
		current := now
		hot := NewMemoryStore(100, time.Hour)
		hot.Put(types.CacheEntry{Key: "quote:AAPL", Value: []byte(`{}`), ExpiresAt: now.Add(time.Second)}, now)
		durable := &mockDurable{}
		durable.On("Get", mock.Anything, "quote:AAPL").Return(types.CacheEntry{}, false, nil)
		r := NewReader(hot, durable, withClock(func() time.Time { return current }))

		current = now.Add(2 * time.Second)
		_, ok, err := r.Get(context.Background(), "quote:AAPL")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, hot.Len())
	})
}

func TestReaderDurableFailureIsCacheUnavailable(t *testing.T) {
	durable := &mockDurable{}
	durable.On("Get", mock.Anything, "quote:AAPL").
		Return(types.CacheEntry{}, false, unavailable("read", "quote:AAPL", errors.New("disk I/O error")))
	r := NewReader(NewMemoryStore(100, time.Minute), durable)

	_, _, err := r.Get(context.Background(), "quote:AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))
}

func TestReaderInvalidJSONTreatedAsAbsent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	durable := &mockDurable{}
	durable.On("Get", mock.Anything, "quote:AAPL").Return(types.CacheEntry{
		Key: "quote:AAPL", Value: []byte(`{not json`), ExpiresAt: now.Add(time.Hour),
	}, true, nil)
	r := NewReader(NewMemoryStore(100, time.Minute), durable, withClock(fixedClock(now)))

	_, ok, err := r.Get(context.Background(), "quote:AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildDomainSnapshotAssemblesSections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	live := func(key string, cat types.CacheCategory, value string) types.CacheEntry {
		return types.CacheEntry{
			Key: key, Category: cat, Value: []byte(value), Source: "loader",
			UpdatedAt: now.Add(-30 * time.Second), ExpiresAt: now.Add(time.Hour),
		}
	}
	present := map[string]types.CacheEntry{
		"bars:AAPL:1d":          live("bars:AAPL:1d", types.CategoryMarketData, `[{"c":187.2}]`),
		"quote:AAPL":            live("quote:AAPL", types.CategoryMarketData, `{"price":187.5}`),
		"indicator:rsi_14:AAPL": live("indicator:rsi_14:AAPL", types.CategoryIndicator, `{"value":35.5}`),
		"ref:SPY":               live("ref:SPY", types.CategoryReferenceSymbol, `{"price":520}`),
		"bars:SPY:1d":           live("bars:SPY:1d", types.CategoryMarketData, `[{"c":519}]`),
		"sentiment:news:AAPL":   live("sentiment:news:AAPL", types.CategorySentiment, `{"score":0.4}`),
	}
	durable := &mockDurable{}
	lookup := func(key string) (types.CacheEntry, bool) {
		e, ok := present[key]
		return e, ok
	}
	durable.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(lookup, false, nil)
	r := NewReader(NewMemoryStore(100, time.Minute), durable, withClock(fixedClock(now)))
	plan := SnapshotPlan{
		Timeframes:          []string{"5m", "1d"},
		Indicators:          []string{"rsi_14", "sma_20"},
		ReferenceSymbols:    []string{"SPY", "VIX"},
		ReferenceTimeframes: []string{"1d"},
		SentimentSources:    []string{"news", "social"},
		Concurrency:         4,
	}

	snap, err := r.BuildDomainSnapshot(context.Background(), "AAPL", plan)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, 11, snap.Requested)
	assert.Len(t, snap.Bars, 1)
	assert.JSONEq(t, `[{"c":187.2}]`, string(snap.Bars["1d"]))
	assert.JSONEq(t, `{"price":187.5}`, string(snap.Quote))
	require.Contains(t, snap.Indicators, "rsi_14")
	assert.NotContains(t, snap.Indicators, "sma_20")
	assert.JSONEq(t, `{"value":35.5}`, string(snap.Indicators["rsi_14"]))
	require.Contains(t, snap.References, "SPY")
	assert.NotContains(t, snap.References, "VIX")
	assert.JSONEq(t, `[{"c":519}]`, string(snap.References["SPY"].Bars["1d"]))
	assert.Len(t, snap.Sentiment, 1)
	require.Len(t, snap.Sources, 6)
	assert.Equal(t, int64(30), snap.Sources[0].AgeSeconds)
}

func TestBuildDomainSnapshotAbortsOnUnavailable(t *testing.T) {
	durable := &mockDurable{}
	durable.On("Get", mock.Anything, "quote:AAPL").
		Return(types.CacheEntry{}, false, unavailable("read", "quote:AAPL", errors.New("locked")))
	durable.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(types.CacheEntry{}, false, nil)
	r := NewReader(NewMemoryStore(100, time.Minute), durable)

	snap, err := r.BuildDomainSnapshot(context.Background(), "AAPL", SnapshotPlan{
		Timeframes: []string{"1d"}, Indicators: []string{"rsi_14"}, Concurrency: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))
	assert.Empty(t, snap.Symbol, "失败时不返回部分快照")
}

func TestBuildDomainSnapshotRequiresSymbol(t *testing.T) {
	r := NewReader(NewMemoryStore(1, time.Minute), &mockDurable{})
	_, err := r.BuildDomainSnapshot(context.Background(), " ", SnapshotPlan{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrCacheUnavailable))
}

func ExampleSnapshotPlan() {
	plan := SnapshotPlan{Timeframes: []string{"1d"}, Indicators: []string{"rsi_14"}}
	for _, lk := range plan.lookups("AAPL") {
		fmt.Println(lk.key)
	}
	// Output:
	// bars:AAPL:1d
	// quote:AAPL
	// indicator:rsi_14:AAPL
}
