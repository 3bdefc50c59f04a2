package decision

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tirds/internal/logger"
	"tirds/internal/types"
)

const reportContract = `You MUST respond with ONLY a JSON object of this shape:
{
  "direction": "bullish" | "bearish" | "neutral",
  "confidence": "0.0-1.0 as a decimal string",
  "reasoning": "concise analysis showing each confidence adjustment",
  "warnings": ["explicit warning text, if any"],
  "analysis": {},
  "data_sources_consulted": ["cache keys you used"]
}
Start from a base confidence of 0.50, apply the adjustments below and clamp to [0.0, 1.0].
Use the LAST value of every array as the current reading.`

const technicalPrompt = `You are the technical analysis specialist of TIRDS (Trade Intelligence & Risk Decision Service).
Assess the trade proposal using the price bars, the quote and the technical indicators in domain_data.

## DATA FORMAT
- bars.<timeframe>: array of candles {open, high, low, close, volume, timestamp}
- quote: {price, ...}
- indicators.<name>: e.g. rsi_14 {value:[...]}, sma_20, ema_12, macd {macd_line, signal_line, histogram},
  bbands_20 {upper, middle, lower, percent_b}, atr_14

## INTERPRETATION RULES
- RSI < 30 oversold: +0.15 for buys. RSI > 70 overbought: -0.15 for buys.
- EMA above SMA: +0.10 for buys. EMA below SMA: -0.10 for buys.
- MACD line above signal: +0.08. Below signal: -0.08.
- Price at lower Bollinger band with RSI < 30: +0.15. At upper band with RSI > 70: -0.15.
- ATR above 2% of price: -0.05 and warn about wider stops.
- 3+ consecutive higher closes: +0.10. 3+ consecutive lower closes: -0.10.
Mirror the adjustments for sell proposals.

## WARNING CONDITIONS
- RSI > 75 on a buy: "Extremely overbought - high reversal risk"
- 4+ consecutive lower closes: "Sustained downtrend - don't enter yet"

In analysis include rsi_signal, ma_trend and macd_signal.`

const macroPrompt = `You are the macroeconomic analysis specialist of TIRDS (Trade Intelligence & Risk Decision Service).
Assess the market regime around the trade proposal using the reference symbols in domain_data.

## DATA FORMAT
- references.VIX.value: fear/volatility index
- references.SPY.value and references.SPY.bars.1d: S&P 500 proxy
- references.QQQ.value: Nasdaq proxy

## INTERPRETATION RULES
- VIX < 15: +0.05. VIX 25-35: -0.10. VIX > 35: -0.20.
- SPY 3+ higher daily closes: +0.10. 3+ lower daily closes: -0.10.
- VIX < 15 together with an SPY uptrend: additional +0.05.
- VIX > 30 together with an SPY downtrend: additional -0.05.

## WARNING CONDITIONS
- VIX > 35: "Extreme market volatility - exercise caution on all positions"

In analysis include vix_regime and market_trend.`

const sentimentPrompt = `You are the sentiment analysis specialist of TIRDS (Trade Intelligence & Risk Decision Service).
Evaluate the sentiment documents in domain_data for the proposal's symbol.

## DATA FORMAT
- sentiment.news: {score: -1.0..1.0, count, timestamp}
- sentiment.social: {score: -1.0..1.0, mentions, timestamp}
- sentiment.analyst: {rating: buy|hold|sell, consensus: 0.0..1.0, updated}
- quote: {price, ...}

## INTERPRETATION RULES
- Score > 0.5: +0.10. Score 0.2..0.5: +0.05. Score -0.5..-0.2: -0.05. Score < -0.5: -0.10.
- Recency: under 1h apply 100%, 1-6h 80%, 6-24h 50%, older 25% and note the data is stale.
- Source weighting: news 1.0x, analyst 0.8x, social 0.6x.

## WARNING CONDITIONS
- All sources below -0.5: "Uniformly negative sentiment across sources"

In analysis include news_sentiment, social_sentiment and overall.`

const sectorPrompt = `You are the sector analysis specialist of TIRDS (Trade Intelligence & Risk Decision Service).
Evaluate sector rotation for the proposal's symbol using the reference ETFs in domain_data.

## DATA FORMAT
- references.<ETF>.value and references.<ETF>.bars.1d: sector ETFs and the SPY benchmark
- bars.<timeframe> and quote: the traded symbol itself

Map the symbol to its sector (technology to XLK, financials to XLF, energy to XLE, healthcare to XLV).

## INTERPRETATION RULES
- Sector outperforming SPY by >3%: +0.12. By 1-3%: +0.06.
- Sector underperforming SPY by 1-3%: -0.06. By >3%: -0.12.
- Sector ETF in an uptrend: +0.08. In a downtrend: -0.08.

## WARNING CONDITIONS
- Sector underperforming SPY by >5%: "Sector significantly underperforming market"

In analysis include sector_performance, sector_trend and rotation_signal.`

const synthesizerPrompt = `You are the chief decision synthesizer of TIRDS (Trade Intelligence & Risk Decision Service).
You receive the specialist reports that survived this evaluation together with their effective weights.
Weight each specialist's confidence by its effective weight and produce the final decision.

You MUST respond with ONLY a JSON object with these fields:
- recommendation: "proceed" | "caution" | "reject"
- direction: "bullish" | "bearish" | "neutral"
- aggregate_confidence: {"score": "<0.0-1.0>", "reasoning": "..."}
- decay_projection: [{"offset_hours": <number>, "confidence": "<0.0-1.0>", "price_target": null | "<decimal>", "note": "..."}]
  Include points at %s hours. Offsets must not decrease.
  Confidence must not increase over time unless you set "assumes_new_information": true.
- assumes_new_information: boolean (optional)
- confidence_decay: {"daily_rate": "<0.0-1.0>", "model": "linear" | "exponential"} (optional)
- price_target_decay: null or the same shape as confidence_decay, for how fast the price target goes stale (optional)
- price_assessment: {"favorability": "<decimal>", "suggested_price": null | "<decimal>", "reasoning": "..."}
- leg_assessments: [{"side": "buy" | "sell", "confidence": {"score": "...", "reasoning": "..."}, "price_assessment": {...}}]
- trade_intelligence: {"smartness_score": "<0.0-1.0>", "assessments": ["..."]}
  For one-sided trades assess whether the price is smart and whether waiting would yield a better price.
- specialist_summaries: [{"domain": "<domain of a report you received>", "summary": "..."}]
- reasoning: "..."
- warnings: ["..."] (propagate specialist warnings that matter)

All decimal values should be quoted strings (e.g. "0.75"). Respond with ONLY the JSON object.`

// timelineOffsets 是建议合成阶段给出的时间点（小时）。
var timelineOffsets = []float64{1, 4, 24, 72, 168, 720}

var defaultPrompts = map[types.Domain]string{
	types.DomainTechnical: technicalPrompt,
	types.DomainMacro:     macroPrompt,
	types.DomainSentiment: sentimentPrompt,
	types.DomainSector:    sectorPrompt,
}

// PromptSet 保存各领域与合成阶段的 system prompt。
type PromptSet struct {
	specialists map[types.Domain]string
	synthesizer string
}

// DefaultPrompts 返回内置 prompt。
func DefaultPrompts() PromptSet {
	ps := PromptSet{specialists: make(map[types.Domain]string, len(defaultPrompts))}
	for d, p := range defaultPrompts {
		ps.specialists[d] = p + "\n\n" + reportContract
	}
	ps.synthesizer = fmt.Sprintf(synthesizerPrompt, formatOffsets(timelineOffsets))
	return ps
}

// Specialist 返回领域对应的 prompt；未知领域返回 false。
func (p PromptSet) Specialist(d types.Domain) (string, bool) {
	s, ok := p.specialists[d]
	return s, ok && strings.TrimSpace(s) != ""
}

func (p PromptSet) Synthesizer() string { return p.synthesizer }

// promptOverrides 是覆盖文件结构；未知字段视为配置错误。
type promptOverrides struct {
	Specialists map[string]string `yaml:"specialists"`
	Synthesizer string            `yaml:"synthesizer"`
	// AppendContract 为 true 时在覆盖的专家 prompt 后追加输出格式约定。
	AppendContract *bool `yaml:"append_contract"`
}

// LoadPromptOverrides 读取 YAML 覆盖文件并合并到内置 prompt；path 为空时返回内置 prompt。
func LoadPromptOverrides(path string) (PromptSet, error) {
	ps := DefaultPrompts()
	path = strings.TrimSpace(path)
	if path == "" {
		return ps, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ps, fmt.Errorf("%w: 读取 prompt 覆盖文件失败: %v", types.ErrMalformedConfiguration, err)
	}
	var ov promptOverrides
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		return ps, fmt.Errorf("%w: 解析 prompt 覆盖文件失败: %v", types.ErrMalformedConfiguration, err)
	}
	appendContract := ov.AppendContract == nil || *ov.AppendContract
	for name, prompt := range ov.Specialists {
		d := types.Domain(strings.ToLower(strings.TrimSpace(name)))
		if !d.Valid() {
			return ps, fmt.Errorf("%w: prompt 覆盖文件包含未知领域 %q", types.ErrMalformedConfiguration, name)
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			continue
		}
		if appendContract {
			prompt += "\n\n" + reportContract
		}
		ps.specialists[d] = prompt
		logger.Infof("已覆盖 %s 专家 prompt (%s)", d, path)
	}
	if s := strings.TrimSpace(ov.Synthesizer); s != "" {
		ps.synthesizer = s
		logger.Infof("已覆盖合成 prompt (%s)", path)
	}
	return ps, nil
}

func formatOffsets(offsets []float64) string {
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = fmt.Sprintf("%g", o)
	}
	return strings.Join(parts, ", ")
}
