package cache

import (
	"context"
	"encoding/json"
	"time"

	"tirds/internal/logger"
	"tirds/internal/types"
)

// Lookup 结果标签，用于指标。
const (
	LookupHotHit     = "hot_hit"
	LookupDurableHit = "durable_hit"
	LookupMiss       = "miss"
	LookupError      = "error"
)

// Observer 接收每次 lookup 的结果。
type Observer interface {
	ObserveCacheLookup(result string)
}

// Reader 是两级只读缓存：先查热层，未命中再查持久层并提升到热层。
type Reader struct {
	hot         *MemoryStore
	durable     Durable
	readTimeout time.Duration
	now         func() time.Time
	observer    Observer
}

type ReaderOption func(*Reader)

// WithReadTimeout 限制单次持久层读取的耗时。
func WithReadTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) { r.readTimeout = d }
}

func WithObserver(o Observer) ReaderOption {
	return func(r *Reader) { r.observer = o }
}

func withClock(now func() time.Time) ReaderOption {
	return func(r *Reader) { r.now = now }
}

func NewReader(hot *MemoryStore, durable Durable, opts ...ReaderOption) *Reader {
	r := &Reader{hot: hot, durable: durable, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hot 暴露热层（诊断用）。
func (r *Reader) Hot() *MemoryStore { return r.hot }

func (r *Reader) Close() error {
	if r == nil || r.durable == nil {
		return nil
	}
	return r.durable.Close()
}

// Get 返回 key 对应的值；不存在或已过期时 ok=false。
func (r *Reader) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	entry, ok, err := r.GetEntry(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// GetEntry 同 Get，但返回含元数据的完整条目。
func (r *Reader) GetEntry(ctx context.Context, key string) (types.CacheEntry, bool, error) {
	now := r.now()
	if entry, ok := r.hot.Get(key, now); ok {
		r.observe(LookupHotHit)
		return entry, true, nil
	}
	readCtx := ctx
	if r.readTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, r.readTimeout)
		defer cancel()
	}
	entry, ok, err := r.durable.Get(readCtx, key)
	if err != nil {
		r.observe(LookupError)
		return types.CacheEntry{}, false, err
	}
	if !ok || entry.Expired(r.now()) {
		r.observe(LookupMiss)
		return types.CacheEntry{}, false, nil
	}
	if !json.Valid(entry.Value) {
		logger.Warnf("[cache] %s 的 value_json 不是合法 JSON，按缺失处理", key)
		r.observe(LookupMiss)
		return types.CacheEntry{}, false, nil
	}
	if entry.Key == "" {
		entry.Key = key
	}
	r.hot.Put(entry, r.now())
	r.observe(LookupDurableHit)
	return entry, true, nil
}

func (r *Reader) observe(result string) {
	if r.observer != nil {
		r.observer.ObserveCacheLookup(result)
	}
}
