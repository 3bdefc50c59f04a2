package types

import (
	"encoding/json"
	"time"
)

// DomainSnapshot 汇总某个 symbol 在缓存中未过期的全部数据，每次评估重新构建。
// 缺失的条目直接省略。
type DomainSnapshot struct {
	Symbol     string                       `json:"symbol"`
	BuiltAt    time.Time                    `json:"built_at"`
	Bars       map[string]json.RawMessage   `json:"bars,omitempty"`
	Quote      json.RawMessage              `json:"quote,omitempty"`
	Indicators map[string]json.RawMessage   `json:"indicators,omitempty"`
	References map[string]ReferenceSnapshot `json:"references,omitempty"`
	Sentiment  map[string]json.RawMessage   `json:"sentiment,omitempty"`
	Sources    []SnapshotSource             `json:"sources,omitempty"`
	// Requested 为本次构建发起的 lookup 数量，用于计算信息覆盖率。
	Requested int `json:"requested"`
}

type ReferenceSnapshot struct {
	Value json.RawMessage            `json:"value,omitempty"`
	Bars  map[string]json.RawMessage `json:"bars,omitempty"`
}

// SnapshotSource 记录一个命中的缓存条目及其新鲜度。
type SnapshotSource struct {
	Key        string        `json:"key"`
	Category   CacheCategory `json:"category"`
	Source     string        `json:"source"`
	AgeSeconds int64         `json:"age_seconds"`
}

func NewDomainSnapshot(symbol string, builtAt time.Time) DomainSnapshot {
	return DomainSnapshot{
		Symbol:     symbol,
		BuiltAt:    builtAt,
		Bars:       make(map[string]json.RawMessage),
		Indicators: make(map[string]json.RawMessage),
		References: make(map[string]ReferenceSnapshot),
		Sentiment:  make(map[string]json.RawMessage),
	}
}

// Empty 报告快照中是否没有任何数据。
func (s DomainSnapshot) Empty() bool {
	return len(s.Bars) == 0 && len(s.Quote) == 0 && len(s.Indicators) == 0 &&
		len(s.References) == 0 && len(s.Sentiment) == 0
}
