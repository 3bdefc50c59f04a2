package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DecisionSchemaVersion 是当前输出结构版本。
const DecisionSchemaVersion = 1

type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendCaution Recommendation = "caution"
	RecommendReject  Recommendation = "reject"
)

func (r Recommendation) Valid() bool {
	switch r {
	case RecommendProceed, RecommendCaution, RecommendReject:
		return true
	}
	return false
}

// TradeDecision 由合成阶段每次评估恰好产出一次，返回后不可修改。
type TradeDecision struct {
	ID                   uuid.UUID            `json:"id"`
	SchemaVersion        int                  `json:"schema_version"`
	ProposalID           uuid.UUID            `json:"proposal_id"`
	Symbol               string               `json:"symbol"`
	DecidedAt            time.Time            `json:"decided_at"`
	Recommendation       Recommendation       `json:"recommendation"`
	Direction            Lean                 `json:"direction,omitempty"`
	AggregateConfidence  ConfidenceScore      `json:"aggregate_confidence"`
	DecayProjection      []DecayPoint         `json:"decay_projection"`
	ConfidenceDecay      *DecayProfile        `json:"confidence_decay,omitempty"`
	PriceTargetDecay     *DecayProfile        `json:"price_target_decay,omitempty"`
	PriceAssessment      PriceAssessment      `json:"price_assessment"`
	LegAssessments       []LegAssessment      `json:"leg_assessments,omitempty"`
	TradeIntelligence    *TradeIntelligence   `json:"trade_intelligence,omitempty"`
	InformationRelevance InformationRelevance `json:"information_relevance"`
	Contributions        []Contribution       `json:"contributions"`
	Reasoning            string               `json:"reasoning"`
	Warnings             []string             `json:"warnings,omitempty"`
	ProcessingTimeMS     int64                `json:"processing_time_ms"`
}

type ConfidenceScore struct {
	Score     decimal.Decimal `json:"score"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// DecayPoint 是评估时刻之后 OffsetHours 小时的预测置信度。
type DecayPoint struct {
	OffsetHours float64          `json:"offset_hours"`
	Confidence  decimal.Decimal  `json:"confidence"`
	PriceTarget *decimal.Decimal `json:"price_target,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type DecayProfile struct {
	DailyRate decimal.Decimal `json:"daily_rate"`
	Model     string          `json:"model"`
}

type PriceAssessment struct {
	Favorability   decimal.Decimal  `json:"favorability"`
	SuggestedPrice *decimal.Decimal `json:"suggested_price,omitempty"`
	Reasoning      string           `json:"reasoning,omitempty"`
}

type LegAssessment struct {
	Side            Side            `json:"side"`
	Confidence      ConfidenceScore `json:"confidence"`
	PriceAssessment PriceAssessment `json:"price_assessment"`
}

type TradeIntelligence struct {
	SmartnessScore decimal.Decimal `json:"smartness_score"`
	Assessments    []string        `json:"assessments,omitempty"`
}

type InformationRelevance struct {
	Score               decimal.Decimal      `json:"score"`
	SourceContributions []SourceContribution `json:"source_contributions,omitempty"`
}

type SourceContribution struct {
	SourceName       string          `json:"source_name"`
	Relevance        decimal.Decimal `json:"relevance"`
	FreshnessSeconds int64           `json:"freshness_seconds"`
}

// Contribution 只会出现在存活专家集合中，附带其有效权重。
type Contribution struct {
	Name             string          `json:"name"`
	Domain           Domain          `json:"domain"`
	Direction        Lean            `json:"direction"`
	Confidence       decimal.Decimal `json:"confidence"`
	ConfiguredWeight float64         `json:"configured_weight"`
	EffectiveWeight  float64         `json:"effective_weight"`
	Summary          string          `json:"summary"`
	Warnings         []string        `json:"warnings,omitempty"`
	DataSources      []string        `json:"data_sources,omitempty"`
	ElapsedMS        int64           `json:"elapsed_ms"`
}
