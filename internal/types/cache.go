package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type CacheCategory string

const (
	CategoryMarketData      CacheCategory = "market_data"
	CategoryIndicator       CacheCategory = "indicator"
	CategoryReferenceSymbol CacheCategory = "reference_symbol"
	CategorySentiment       CacheCategory = "sentiment"
	CategorySubscription    CacheCategory = "subscription"
)

func (c CacheCategory) Valid() bool {
	switch c {
	case CategoryMarketData, CategoryIndicator, CategoryReferenceSymbol, CategorySentiment, CategorySubscription:
		return true
	}
	return false
}

// CacheEntry 对应 cache_entries 表的一行，仅由外部 loader 写入。
type CacheEntry struct {
	Key       string          `json:"key"`
	Category  CacheCategory   `json:"category"`
	Value     json.RawMessage `json:"value_json"`
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired 判断在 now 时刻条目是否已不可见（now >= expires_at）。
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func BarsKey(symbol, timeframe string) string {
	return fmt.Sprintf("bars:%s:%s", symbol, timeframe)
}

func QuoteKey(symbol string) string {
	return "quote:" + symbol
}

func IndicatorKey(name, symbol string) string {
	return fmt.Sprintf("indicator:%s:%s", name, symbol)
}

func RefKey(symbol string) string {
	return "ref:" + symbol
}

func SentimentKey(source, symbol string) string {
	return fmt.Sprintf("sentiment:%s:%s", source, symbol)
}

// CategoryForKey 由 key 前缀推断分类；无法识别时返回 false。
func CategoryForKey(key string) (CacheCategory, bool) {
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return "", false
	}
	switch prefix {
	case "bars", "quote":
		return CategoryMarketData, true
	case "indicator":
		return CategoryIndicator, true
	case "ref":
		return CategoryReferenceSymbol, true
	case "sentiment":
		return CategorySentiment, true
	case "sub", "subscription":
		return CategorySubscription, true
	}
	return "", false
}
