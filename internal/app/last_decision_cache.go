package app

import (
	"strings"
	"sync"
	"time"

	"tirds/internal/types"
)

// lastDecisionCache 缓存每个 symbol 最近一次决策，供 HTTP 查询。
type lastDecisionCache struct {
	mu   sync.RWMutex
	data map[string]types.TradeDecision // key: symbol upper
	ttl  time.Duration
}

func newLastDecisionCache(ttl time.Duration) *lastDecisionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &lastDecisionCache{data: make(map[string]types.TradeDecision), ttl: ttl}
}

func (c *lastDecisionCache) Set(d types.TradeDecision) {
	if c == nil {
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
	if sym == "" {
		return
	}
	c.mu.Lock()
	if prev, ok := c.data[sym]; !ok || !prev.DecidedAt.After(d.DecidedAt) {
		c.data[sym] = d
	}
	c.mu.Unlock()
}

func (c *lastDecisionCache) Get(symbol string, now time.Time) (types.TradeDecision, bool) {
	if c == nil {
		return types.TradeDecision{}, false
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	c.mu.RLock()
	d, ok := c.data[sym]
	c.mu.RUnlock()
	if !ok || now.Sub(d.DecidedAt) > c.ttl {
		return types.TradeDecision{}, false
	}
	return d, true
}
