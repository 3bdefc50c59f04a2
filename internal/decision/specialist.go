package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tirds/internal/gateway/provider"
	"tirds/internal/logger"
	"tirds/internal/pkg/jsonutil"
	"tirds/internal/types"
)

// Specialist 是单一领域的评估者；deadline 通过 ctx 传递，失败以报告值返回。
type Specialist interface {
	Name() string
	Domain() types.Domain
	Evaluate(ctx context.Context, req types.SpecialistRequest) types.SpecialistReport
}

// domainSlice 从快照中挑出某个领域需要的数据。
type domainSlice func(types.DomainSnapshot) map[string]any

// specialistCore 是四个领域共用的 prompt → 调用 → 解析 流程。
type specialistCore struct {
	name     string
	domain   types.Domain
	system   string
	provider provider.ModelProvider
	slice    domainSlice
}

type TechnicalSpecialist struct{ specialistCore }

type MacroSpecialist struct{ specialistCore }

type SentimentSpecialist struct{ specialistCore }

type SectorSpecialist struct{ specialistCore }

// NewSpecialist 按领域构造专家；name 为空时使用领域名。
func NewSpecialist(name string, domain types.Domain, p provider.ModelProvider, prompts PromptSet) (Specialist, error) {
	if p == nil {
		return nil, fmt.Errorf("specialist %s: 未配置推理后端", domain)
	}
	system, ok := prompts.Specialist(domain)
	if !ok {
		return nil, fmt.Errorf("specialist %s: 缺少 system prompt", domain)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(domain)
	}
	core := specialistCore{name: name, domain: domain, system: system, provider: p}
	switch domain {
	case types.DomainTechnical:
		core.slice = technicalSlice
		return &TechnicalSpecialist{core}, nil
	case types.DomainMacro:
		core.slice = macroSlice
		return &MacroSpecialist{core}, nil
	case types.DomainSentiment:
		core.slice = sentimentSlice
		return &SentimentSpecialist{core}, nil
	case types.DomainSector:
		core.slice = sectorSlice
		return &SectorSpecialist{core}, nil
	}
	return nil, fmt.Errorf("未知专家领域: %q", domain)
}

func (s *specialistCore) Name() string { return s.name }

func (s *specialistCore) Domain() types.Domain { return s.domain }

func (s *specialistCore) Evaluate(ctx context.Context, req types.SpecialistRequest) types.SpecialistReport {
	start := time.Now()
	user, err := s.userPrompt(req)
	if err != nil {
		return types.FailedReport(s.name, s.domain, types.ReasonProcessError, err.Error(), time.Since(start))
	}
	out, err := s.provider.Call(ctx, provider.ChatPayload{
		System:  s.system,
		User:    user,
		Model:   req.Settings.Model,
		Purpose: "specialist:" + string(s.domain),
	})
	elapsed := time.Since(start)
	if err != nil {
		reason := types.ReasonProcessError
		if provider.KindOf(err) == provider.KindTimeout {
			reason = types.ReasonTimeout
		}
		return types.FailedReport(s.name, s.domain, reason, err.Error(), elapsed)
	}
	parsed, err := parseReport(out)
	if err != nil {
		logger.Debugf("specialist %s 输出无法解析: %v", s.name, err)
		return types.FailedReport(s.name, s.domain, types.ReasonUnparseableOutput, err.Error(), elapsed)
	}
	return types.SpecialistReport{
		Name:        s.name,
		Domain:      s.domain,
		Lean:        parsed.Lean,
		Confidence:  parsed.Confidence,
		Rationale:   parsed.Rationale,
		Warnings:    parsed.Warnings,
		Analysis:    parsed.Analysis,
		DataSources: parsed.DataSources,
		Elapsed:     elapsed,
	}
}

type specialistInput struct {
	RequestID  string              `json:"request_id"`
	AgentName  string              `json:"agent_name"`
	Domain     types.Domain        `json:"domain"`
	Proposal   types.TradeProposal `json:"proposal"`
	DomainData map[string]any      `json:"domain_data"`
}

func (s *specialistCore) userPrompt(req types.SpecialistRequest) (string, error) {
	in := specialistInput{
		RequestID:  uuid.NewString(),
		AgentName:  s.name,
		Domain:     s.domain,
		Proposal:   req.Proposal,
		DomainData: s.slice(req.Snapshot),
	}
	b, err := jsonutil.Encode(in, false)
	if err != nil {
		return "", fmt.Errorf("序列化专家输入失败: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func technicalSlice(snap types.DomainSnapshot) map[string]any {
	out := baseSlice(snap)
	putRawMap(out, "bars", snap.Bars)
	putRaw(out, "quote", snap.Quote)
	putRawMap(out, "indicators", snap.Indicators)
	return out
}

func macroSlice(snap types.DomainSnapshot) map[string]any {
	out := baseSlice(snap)
	if len(snap.References) > 0 {
		out["references"] = snap.References
	}
	return out
}

func sentimentSlice(snap types.DomainSnapshot) map[string]any {
	out := baseSlice(snap)
	putRawMap(out, "sentiment", snap.Sentiment)
	putRaw(out, "quote", snap.Quote)
	return out
}

func sectorSlice(snap types.DomainSnapshot) map[string]any {
	out := baseSlice(snap)
	if len(snap.References) > 0 {
		out["references"] = snap.References
	}
	putRawMap(out, "bars", snap.Bars)
	putRaw(out, "quote", snap.Quote)
	return out
}

func baseSlice(snap types.DomainSnapshot) map[string]any {
	return map[string]any{
		"symbol":   snap.Symbol,
		"built_at": snap.BuiltAt,
	}
}

func putRaw(dst map[string]any, key string, raw json.RawMessage) {
	if len(raw) > 0 {
		dst[key] = raw
	}
}

func putRawMap(dst map[string]any, key string, m map[string]json.RawMessage) {
	if len(m) > 0 {
		dst[key] = m
	}
}
