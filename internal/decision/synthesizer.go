package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"tirds/internal/gateway/provider"
	"tirds/internal/logger"
	"tirds/internal/pkg/jsonutil"
	"tirds/internal/pkg/text"
	"tirds/internal/types"
)

// SynthesisError 携带 SynthesisFailed 的原因标签。
type SynthesisError struct {
	Reason  string
	Message string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type SynthesizerOptions struct {
	Model   string
	Timeout time.Duration
	// ClampOutOfRange 为 true 时越界的总体置信度被截断到 [0,1] 并附加警告，否则视为非法输出。
	ClampOutOfRange bool
}

// SynthesisInput 是合成阶段的全部输入；Survivors 已完成权重重分配。
type SynthesisInput struct {
	Proposal  types.TradeProposal
	Snapshot  types.DomainSnapshot
	Survivors []types.WeightedReport
	Failed    []types.SpecialistReport
}

// Synthesizer 把存活报告折叠为最终 TradeDecision，只调用一次模型。
type Synthesizer struct {
	provider provider.ModelProvider
	system   string
	opts     SynthesizerOptions
	now      func() time.Time
}

func NewSynthesizer(p provider.ModelProvider, prompts PromptSet, opts SynthesizerOptions) *Synthesizer {
	return &Synthesizer{provider: p, system: prompts.Synthesizer(), opts: opts, now: time.Now}
}

func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (types.TradeDecision, error) {
	if s.provider == nil {
		return types.TradeDecision{}, &SynthesisError{Reason: types.ReasonProcessError, Message: "未配置推理后端"}
	}
	user, err := synthesisPrompt(in)
	if err != nil {
		return types.TradeDecision{}, &SynthesisError{Reason: types.ReasonProcessError, Message: "构造合成输入失败", Err: err}
	}
	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	out, err := s.provider.Call(callCtx, provider.ChatPayload{
		System:  s.system,
		User:    user,
		Model:   s.opts.Model,
		Purpose: "synthesis",
	})
	if err != nil {
		reason := types.ReasonProcessError
		if provider.KindOf(err) == provider.KindTimeout {
			reason = types.ReasonTimeout
		}
		return types.TradeDecision{}, &SynthesisError{Reason: reason, Message: "合成调用失败", Err: err}
	}

	var errs []string
	for _, c := range jsonutil.Candidates(out) {
		if err := validateAgainst(synthesisSchema, c.Text); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", c.Shape, text.Truncate(schemaError(err).Error(), 200)))
			continue
		}
		d, err := s.buildDecision(gjson.Parse(c.Text), in)
		if err == nil {
			return d, nil
		}
		// 字段解析失败时继续尝试后面的候选，越界判定仍然直接返回
		var serr *SynthesisError
		if !errors.As(err, &serr) || serr.Reason != types.ReasonUnparseableOutput {
			return types.TradeDecision{}, err
		}
		errs = append(errs, fmt.Sprintf("%s: %s", c.Shape, text.Truncate(err.Error(), 200)))
	}
	return types.TradeDecision{}, &SynthesisError{
		Reason:  types.ReasonUnparseableOutput,
		Message: "无法解析合成输出: " + strings.Join(errs, "; "),
	}
}

func (s *Synthesizer) buildDecision(doc gjson.Result, in SynthesisInput) (types.TradeDecision, error) {
	var warnings []string
	unparseable := func(field string, err error) (types.TradeDecision, error) {
		return types.TradeDecision{}, &SynthesisError{Reason: types.ReasonUnparseableOutput, Message: field, Err: err}
	}

	score, err := parseUnit(doc.Get("aggregate_confidence.score"))
	if err != nil {
		if !errors.Is(err, errOutOfRange) {
			return unparseable("aggregate_confidence.score", err)
		}
		logger.Warnf("合成输出总体置信度越界 raw=%s", doc.Get("aggregate_confidence.score").Raw)
		if !s.opts.ClampOutOfRange {
			return types.TradeDecision{}, &SynthesisError{Reason: types.ReasonOutOfRange, Message: "aggregate_confidence.score 超出 [0,1]", Err: err}
		}
		warnings = append(warnings, fmt.Sprintf("aggregate confidence %v clamped to [0,1]", score))
		score = clampUnit(score)
	}

	points, decayWarnings, err := decodeDecay(doc.Get("decay_projection"), doc.Get("assumes_new_information").Bool())
	if err != nil {
		return unparseable("decay_projection", err)
	}
	warnings = append(warnings, decayWarnings...)

	price, err := decodePrice(doc.Get("price_assessment"))
	if err != nil {
		return unparseable("price_assessment", err)
	}
	legs, err := decodeLegs(doc.Get("leg_assessments"))
	if err != nil {
		return unparseable("leg_assessments", err)
	}
	decay, err := decodeDecayProfile(doc.Get("confidence_decay"))
	if err != nil {
		return unparseable("confidence_decay", err)
	}
	priceDecay, err := decodeDecayProfile(doc.Get("price_target_decay"))
	if err != nil {
		return unparseable("price_target_decay", err)
	}
	intel, err := decodeIntelligence(doc.Get("trade_intelligence"))
	if err != nil {
		return unparseable("trade_intelligence", err)
	}

	contributions, summaryWarnings := buildContributions(in.Survivors, doc.Get("specialist_summaries"))
	warnings = append(warnings, summaryWarnings...)
	for _, f := range in.Failed {
		warnings = append(warnings, fmt.Sprintf("specialist %s (%s) excluded: %s", f.Name, f.Domain, f.Failure.Reason))
	}
	warnings = appendUnique(warnings, stringArray(doc.Get("warnings"))...)

	decision := types.TradeDecision{
		ID:             uuid.New(),
		SchemaVersion:  types.DecisionSchemaVersion,
		ProposalID:     in.Proposal.ID,
		Symbol:         in.Proposal.Symbol,
		DecidedAt:      s.now().UTC(),
		Recommendation: types.Recommendation(normalizeEnum(doc.Get("recommendation").String())),
		Direction:      types.Lean(normalizeEnum(doc.Get("direction").String())),
		AggregateConfidence: types.ConfidenceScore{
			Score:     unitDecimal(score),
			Reasoning: strings.TrimSpace(doc.Get("aggregate_confidence.reasoning").String()),
		},
		DecayProjection:      points,
		ConfidenceDecay:      decay,
		PriceTargetDecay:     priceDecay,
		PriceAssessment:      price,
		LegAssessments:       legs,
		TradeIntelligence:    intel,
		InformationRelevance: informationRelevance(in.Snapshot, in.Survivors),
		Contributions:        contributions,
		Reasoning:            strings.TrimSpace(doc.Get("reasoning").String()),
		Warnings:             warnings,
	}
	logger.Infof("合成完成 symbol=%s recommendation=%s confidence=%s warnings=%d",
		decision.Symbol, decision.Recommendation, decision.AggregateConfidence.Score, len(warnings))
	return decision, nil
}

// decodeDecay 解析衰减序列；offset 倒退、为负或置信度上升只产生警告。
func decodeDecay(arr gjson.Result, assumesNewInfo bool) ([]types.DecayPoint, []string, error) {
	var (
		points   []types.DecayPoint
		warnings []string
		err      error
	)
	arr.ForEach(func(_, item gjson.Result) bool {
		var offset float64
		offset, err = parseNumber(item.Get("offset_hours"))
		if err != nil {
			err = fmt.Errorf("offset_hours: %w", err)
			return false
		}
		conf, cerr := parseUnit(item.Get("confidence"))
		if cerr != nil {
			if !errors.Is(cerr, errOutOfRange) {
				err = fmt.Errorf("confidence: %w", cerr)
				return false
			}
			warnings = append(warnings, fmt.Sprintf("decay confidence %v at %gh clamped to [0,1]", conf, offset))
			conf = clampUnit(conf)
		}
		var target *decimal.Decimal
		target, err = parseOptionalDecimal(item.Get("price_target"))
		if err != nil {
			err = fmt.Errorf("price_target: %w", err)
			return false
		}
		points = append(points, types.DecayPoint{
			OffsetHours: offset,
			Confidence:  unitDecimal(conf),
			PriceTarget: target,
			Note:        strings.TrimSpace(item.Get("note").String()),
		})
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, decayWarnings(points, assumesNewInfo)...)
	return points, warnings, nil
}

func decayWarnings(points []types.DecayPoint, assumesNewInfo bool) []string {
	var out []string
	for i, p := range points {
		if p.OffsetHours < 0 {
			out = append(out, fmt.Sprintf("decay point %d has negative offset %gh", i, p.OffsetHours))
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if p.OffsetHours < prev.OffsetHours {
			out = append(out, fmt.Sprintf("decay offsets decrease at point %d (%gh after %gh)", i, p.OffsetHours, prev.OffsetHours))
		}
		if !assumesNewInfo && p.Confidence.GreaterThan(prev.Confidence) {
			out = append(out, fmt.Sprintf("decay confidence rises at %gh (%s after %s) without new information",
				p.OffsetHours, p.Confidence, prev.Confidence))
		}
	}
	return out
}

func decodePrice(v gjson.Result) (types.PriceAssessment, error) {
	fav, err := parseDecimal(v.Get("favorability"))
	if err != nil {
		return types.PriceAssessment{}, fmt.Errorf("favorability: %w", err)
	}
	suggested, err := parseOptionalDecimal(v.Get("suggested_price"))
	if err != nil {
		return types.PriceAssessment{}, fmt.Errorf("suggested_price: %w", err)
	}
	return types.PriceAssessment{
		Favorability:   fav,
		SuggestedPrice: suggested,
		Reasoning:      strings.TrimSpace(v.Get("reasoning").String()),
	}, nil
}

func decodeLegs(arr gjson.Result) ([]types.LegAssessment, error) {
	var (
		out []types.LegAssessment
		err error
	)
	arr.ForEach(func(_, item gjson.Result) bool {
		var score decimal.Decimal
		score, err = parseDecimal(item.Get("confidence.score"))
		if err != nil {
			err = fmt.Errorf("confidence.score: %w", err)
			return false
		}
		leg := types.LegAssessment{
			Side: types.Side(normalizeEnum(item.Get("side").String())),
			Confidence: types.ConfidenceScore{
				Score:     score,
				Reasoning: strings.TrimSpace(item.Get("confidence.reasoning").String()),
			},
		}
		if pa := item.Get("price_assessment"); pa.IsObject() {
			leg.PriceAssessment, err = decodePrice(pa)
			if err != nil {
				return false
			}
		}
		out = append(out, leg)
		return true
	})
	return out, err
}

func decodeDecayProfile(v gjson.Result) (*types.DecayProfile, error) {
	if !v.IsObject() {
		return nil, nil
	}
	rate, err := parseDecimal(v.Get("daily_rate"))
	if err != nil {
		return nil, fmt.Errorf("daily_rate: %w", err)
	}
	return &types.DecayProfile{DailyRate: rate, Model: normalizeEnum(v.Get("model").String())}, nil
}

func decodeIntelligence(v gjson.Result) (*types.TradeIntelligence, error) {
	if !v.IsObject() {
		return nil, nil
	}
	score, err := parseDecimal(v.Get("smartness_score"))
	if err != nil {
		return nil, fmt.Errorf("smartness_score: %w", err)
	}
	return &types.TradeIntelligence{SmartnessScore: score, Assessments: stringArray(v.Get("assessments"))}, nil
}

// buildContributions 以存活集合为准生成贡献列表，模型摘要按领域合并；
// 不在存活集合中的摘要被丢弃并产生警告。
func buildContributions(survivors []types.WeightedReport, summaries gjson.Result) ([]types.Contribution, []string) {
	byDomain := make(map[types.Domain]string)
	var warnings []string
	live := make(map[types.Domain]bool, len(survivors))
	for _, s := range survivors {
		live[s.Report.Domain] = true
	}
	summaries.ForEach(func(_, item gjson.Result) bool {
		d := types.Domain(normalizeEnum(item.Get("domain").String()))
		summary := strings.TrimSpace(item.Get("summary").String())
		if !live[d] {
			warnings = append(warnings, fmt.Sprintf("dropped summary for domain %q outside surviving specialists", d))
			return true
		}
		if summary != "" {
			if prev := byDomain[d]; prev != "" {
				summary = prev + " " + summary
			}
			byDomain[d] = summary
		}
		return true
	})

	out := make([]types.Contribution, 0, len(survivors))
	for _, s := range survivors {
		r := s.Report
		summary := byDomain[r.Domain]
		if summary == "" {
			summary = text.Truncate(r.Rationale, 600)
		}
		out = append(out, types.Contribution{
			Name:             r.Name,
			Domain:           r.Domain,
			Direction:        r.Lean,
			Confidence:       unitDecimal(r.Confidence),
			ConfiguredWeight: s.ConfiguredWeight,
			EffectiveWeight:  s.EffectiveWeight,
			Summary:          summary,
			Warnings:         r.Warnings,
			DataSources:      r.DataSources,
			ElapsedMS:        r.Elapsed.Milliseconds(),
		})
	}
	return out, warnings
}

type synthesisReport struct {
	Name             string          `json:"name"`
	Domain           types.Domain    `json:"domain"`
	Direction        types.Lean      `json:"direction"`
	Confidence       float64         `json:"confidence"`
	ConfiguredWeight float64         `json:"configured_weight"`
	EffectiveWeight  float64         `json:"effective_weight"`
	Reasoning        string          `json:"reasoning"`
	Warnings         []string        `json:"warnings,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	DataSources      []string        `json:"data_sources_consulted,omitempty"`
}

type synthesisFailure struct {
	Name   string       `json:"name"`
	Domain types.Domain `json:"domain"`
	Reason string       `json:"reason"`
}

type synthesisUserInput struct {
	Proposal          types.TradeProposal    `json:"proposal"`
	Symbol            string                 `json:"symbol"`
	SnapshotBuiltAt   time.Time              `json:"snapshot_built_at"`
	Sources           []types.SnapshotSource `json:"sources,omitempty"`
	Reports           []synthesisReport      `json:"reports"`
	FailedSpecialists []synthesisFailure     `json:"failed_specialists,omitempty"`
	TimelineHours     []float64              `json:"timeline_offsets_hours"`
}

func synthesisPrompt(in SynthesisInput) (string, error) {
	doc := synthesisUserInput{
		Proposal:        in.Proposal,
		Symbol:          in.Proposal.Symbol,
		SnapshotBuiltAt: in.Snapshot.BuiltAt,
		Sources:         in.Snapshot.Sources,
		TimelineHours:   timelineOffsets,
	}
	for _, s := range in.Survivors {
		r := s.Report
		doc.Reports = append(doc.Reports, synthesisReport{
			Name:             r.Name,
			Domain:           r.Domain,
			Direction:        r.Lean,
			Confidence:       r.Confidence,
			ConfiguredWeight: s.ConfiguredWeight,
			EffectiveWeight:  s.EffectiveWeight,
			Reasoning:        r.Rationale,
			Warnings:         r.Warnings,
			Analysis:         r.Analysis,
			DataSources:      r.DataSources,
		})
	}
	for _, f := range in.Failed {
		doc.FailedSpecialists = append(doc.FailedSpecialists, synthesisFailure{Name: f.Name, Domain: f.Domain, Reason: f.Failure.Reason})
	}
	b, err := jsonutil.Encode(doc, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clampUnit(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func unitDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(4)
}
