package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tirds/internal/logger"
	"tirds/internal/types"

	"github.com/redis/go-redis/v9"
)

// RedisOptions 描述 redis 持久层连接。
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// RedisStore 以 "{prefix}{key}" 存放 CacheEntry 的 JSON；redis TTL 与 expires_at 对齐。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// OpenRedis 建立连接并 ping；失败返回 ErrCacheUnavailable。
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, unavailable("open redis", "", errors.New("redis addr 不能为空"))
	}
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  dial,
		ReadTimeout:  dial,
		WriteTimeout: dial,
		MaxRetries:   -1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", addr, err)
	}
	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient 复用已有 client。
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) wrapKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (types.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.wrapKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.CacheEntry{}, false, nil
	}
	if err != nil {
		return types.CacheEntry{}, false, unavailable("read", key, err)
	}
	entry, err := DecodeRedisEntry(data)
	if err != nil {
		logger.Warnf("[cache] 忽略无法解析的 redis 条目 %s: %v", key, err)
		return types.CacheEntry{}, false, nil
	}
	if entry.Key == "" {
		entry.Key = key
	}
	if entry.Expired(s.now()) {
		return types.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put 写入条目（loader / seed 使用）；已过期条目不写入。
func (s *RedisStore) Put(ctx context.Context, entry types.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := EncodeRedisEntry(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.wrapKey(entry.Key), data, ttl).Err(); err != nil {
		return unavailable("write", entry.Key, err)
	}
	return nil
}

func EncodeRedisEntry(entry types.CacheEntry) ([]byte, error) {
	if !json.Valid(entry.Value) {
		return nil, fmt.Errorf("cache entry %s value_json 不是合法 JSON", entry.Key)
	}
	return json.Marshal(entry)
}

func DecodeRedisEntry(data []byte) (types.CacheEntry, error) {
	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return types.CacheEntry{}, err
	}
	return entry, nil
}
