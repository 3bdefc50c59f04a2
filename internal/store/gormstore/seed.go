package gormstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"tirds/internal/types"
)

// SeedEntry 是 seed 文件中的一条记录；ttl_seconds 与 expires_at 二选一。
type SeedEntry struct {
	Key        string              `json:"key"`
	Category   types.CacheCategory `json:"category,omitempty"`
	Value      json.RawMessage     `json:"value_json"`
	Source     string              `json:"source,omitempty"`
	Symbol     string              `json:"symbol,omitempty"`
	TTLSeconds int64               `json:"ttl_seconds,omitempty"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
}

// LoadSeedFile 读取 JSON 数组形式的 seed 文件并转换为 CacheEntry。
func LoadSeedFile(path string, now time.Time) ([]types.CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seeds []SeedEntry
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("解析 seed 文件失败 (%s): %w", path, err)
	}
	out := make([]types.CacheEntry, 0, len(seeds))
	for i, s := range seeds {
		entry, err := s.toEntry(now)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s SeedEntry) toEntry(now time.Time) (types.CacheEntry, error) {
	var expires time.Time
	switch {
	case s.ExpiresAt != nil:
		expires = *s.ExpiresAt
	case s.TTLSeconds > 0:
		expires = now.Add(time.Duration(s.TTLSeconds) * time.Second)
	default:
		return types.CacheEntry{}, fmt.Errorf("%s 需要 ttl_seconds 或 expires_at", s.Key)
	}
	source := s.Source
	if source == "" {
		source = "seed"
	}
	return types.CacheEntry{
		Key:       s.Key,
		Category:  s.Category,
		Value:     s.Value,
		Source:    source,
		Symbol:    s.Symbol,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expires,
	}, nil
}
