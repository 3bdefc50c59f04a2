package types

import (
	"encoding/json"
	"time"
)

// Domain 是专家的封闭领域集合。
type Domain string

const (
	DomainTechnical Domain = "technical"
	DomainMacro     Domain = "macro"
	DomainSentiment Domain = "sentiment"
	DomainSector    Domain = "sector"
)

// AllDomains 按固定顺序列出全部领域。
var AllDomains = []Domain{DomainTechnical, DomainMacro, DomainSentiment, DomainSector}

func (d Domain) Valid() bool {
	switch d {
	case DomainTechnical, DomainMacro, DomainSentiment, DomainSector:
		return true
	}
	return false
}

// Lean 是方向倾向。
type Lean string

const (
	LeanBullish Lean = "bullish"
	LeanBearish Lean = "bearish"
	LeanNeutral Lean = "neutral"
)

func (l Lean) Valid() bool {
	switch l {
	case LeanBullish, LeanBearish, LeanNeutral:
		return true
	}
	return false
}

// SpecialistSettings 是单个专家在一次评估中使用的配置快照。
type SpecialistSettings struct {
	Name    string        `json:"name"`
	Domain  Domain        `json:"domain"`
	Model   string        `json:"model"`
	Weight  float64       `json:"weight"`
	Timeout time.Duration `json:"-"`
}

// SpecialistRequest 每次评估为每个专家单独构造。
type SpecialistRequest struct {
	Domain   Domain             `json:"domain"`
	Snapshot DomainSnapshot     `json:"snapshot"`
	Proposal TradeProposal      `json:"proposal"`
	Settings SpecialistSettings `json:"settings"`
}

// SpecialistFailure 是可恢复的专家失败，只会被记录，不会中止评估。
type SpecialistFailure struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// SpecialistReport 是专家的结构化评估或失败结果；置信度尚未按权重调整。
type SpecialistReport struct {
	Name        string             `json:"name"`
	Domain      Domain             `json:"domain"`
	Lean        Lean               `json:"direction,omitempty"`
	Confidence  float64            `json:"confidence"`
	Rationale   string             `json:"reasoning,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	Analysis    json.RawMessage    `json:"analysis,omitempty"`
	DataSources []string           `json:"data_sources_consulted,omitempty"`
	Elapsed     time.Duration      `json:"-"`
	Failure     *SpecialistFailure `json:"failure,omitempty"`
}

func (r SpecialistReport) Failed() bool {
	return r.Failure != nil
}

// FailedReport 构造一个带原因标签的失败报告。
func FailedReport(name string, domain Domain, reason, message string, elapsed time.Duration) SpecialistReport {
	return SpecialistReport{
		Name:    name,
		Domain:  domain,
		Elapsed: elapsed,
		Failure: &SpecialistFailure{Reason: reason, Message: message},
	}
}

// WeightedReport 是进入合成阶段的存活报告及其有效权重。
type WeightedReport struct {
	Report           SpecialistReport `json:"report"`
	ConfiguredWeight float64          `json:"configured_weight"`
	EffectiveWeight  float64          `json:"effective_weight"`
}
