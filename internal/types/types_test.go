package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProposal() TradeProposal {
	price := decimal.RequireFromString("187.50")
	qty := decimal.RequireFromString("100")
	return TradeProposal{
		ID:            uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		SchemaVersion: ProposalSchemaVersion,
		Symbol:        "AAPL",
		Legs:          []TradeLeg{{Side: SideBuy, Price: &price, Quantity: &qty}},
		ProposedAt:    time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC),
	}
}

func TestProposalDecodesDecimalStrings(t *testing.T) {
	raw := `{
		"id": "550e8400-e29b-41d4-a716-446655440000",
		"schema_version": 1,
		"symbol": "AAPL",
		"legs": [{"side": "buy", "price": "187.50", "quantity": "100"}],
		"proposed_at": "2026-10-14T14:30:00Z"
	}`
	var p TradeProposal
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, sampleProposal().ID, p.ID)
	require.Len(t, p.Legs, 1)
	assert.True(t, p.Legs[0].Price.Equal(decimal.RequireFromString("187.5")))
	require.NoError(t, ValidateProposal(p))

	out, err := json.Marshal(p.Legs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"buy","price":"187.5","quantity":"100"}`, string(out))
}

func TestValidateProposal(t *testing.T) {
	negative := decimal.RequireFromString("-1")
	cases := []struct {
		name   string
		mutate func(p *TradeProposal)
		field  string
	}{
		{"missing id", func(p *TradeProposal) { p.ID = uuid.Nil }, "ID"},
		{"blank symbol", func(p *TradeProposal) { p.Symbol = "  " }, "Symbol"},
		{"no legs", func(p *TradeProposal) { p.Legs = nil }, "Legs"},
		{"bad side", func(p *TradeProposal) { p.Legs[0].Side = "hold" }, "Side"},
		{"negative price", func(p *TradeProposal) { p.Legs[0].Price = &negative }, "Price"},
		{"schema version", func(p *TradeProposal) { p.SchemaVersion = 2 }, "SchemaVersion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := sampleProposal()
			tc.mutate(&p)
			err := ValidateProposal(p)
			require.Error(t, err)
			var ee *EvaluationError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, TagInvalidProposal, ee.Tag)
			assert.Contains(t, ee.Message, tc.field)
		})
	}
}

func TestValidateProposalMarketLeg(t *testing.T) {
	p := sampleProposal()
	p.Legs = append(p.Legs, TradeLeg{Side: SideSell})
	assert.NoError(t, ValidateProposal(p))
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	e := CacheEntry{ExpiresAt: now}
	assert.True(t, e.Expired(now))
	assert.False(t, e.Expired(now.Add(-time.Nanosecond)))
}

func TestKeyPatterns(t *testing.T) {
	assert.Equal(t, "bars:AAPL:5m", BarsKey("AAPL", "5m"))
	assert.Equal(t, "quote:AAPL", QuoteKey("AAPL"))
	assert.Equal(t, "indicator:rsi_14:AAPL", IndicatorKey("rsi_14", "AAPL"))
	assert.Equal(t, "ref:SPY", RefKey("SPY"))
	assert.Equal(t, "sentiment:news:AAPL", SentimentKey("news", "AAPL"))

	cat, ok := CategoryForKey("indicator:rsi_14:AAPL")
	require.True(t, ok)
	assert.Equal(t, CategoryIndicator, cat)
	_, ok = CategoryForKey("unknown")
	assert.False(t, ok)
}

func TestAsEvaluationError(t *testing.T) {
	ee := AsEvaluationError(fmt.Errorf("read bars: %w", ErrCacheUnavailable))
	assert.Equal(t, TagEvaluationAborted, ee.Tag)
	assert.Equal(t, ReasonCacheUnavailable, ee.Reason)

	ee = AsEvaluationError(fmt.Errorf("load: %w", ErrMalformedConfiguration))
	assert.Equal(t, TagMalformedConfiguration, ee.Tag)

	orig := NewEvaluationError(TagSynthesisFailed, ReasonTimeout, "deadline", nil)
	assert.Same(t, orig, AsEvaluationError(fmt.Errorf("wrap: %w", orig)))
	assert.Equal(t, "SynthesisFailed{Timeout}: deadline", orig.Error())

	out, err := json.Marshal(ErrorEnvelope{Error: orig})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"tag":"SynthesisFailed","reason":"Timeout","message":"deadline"}}`, string(out))
}
