package decision

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"tirds/internal/cache"
	"tirds/internal/gateway/provider"
	"tirds/internal/types"
)

type mockProvider struct{ mock.Mock }

func (m *mockProvider) ID() string { return "mock" }

func (m *mockProvider) Call(ctx context.Context, p provider.ChatPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

// funcSpecialist 用函数模拟专家行为。
type funcSpecialist struct {
	name   string
	domain types.Domain
	fn     func(ctx context.Context, req types.SpecialistRequest) types.SpecialistReport
}

func (f *funcSpecialist) Name() string         { return f.name }
func (f *funcSpecialist) Domain() types.Domain { return f.domain }
func (f *funcSpecialist) Evaluate(ctx context.Context, req types.SpecialistRequest) types.SpecialistReport {
	return f.fn(ctx, req)
}

func succeeding(domain types.Domain, lean types.Lean, conf float64) *funcSpecialist {
	return &funcSpecialist{name: string(domain), domain: domain, fn: func(context.Context, types.SpecialistRequest) types.SpecialistReport {
		return types.SpecialistReport{Lean: lean, Confidence: conf, Rationale: string(domain) + " view"}
	}}
}

// stubborn 忽略 ctx，直到 release 关闭才返回。
func stubborn(domain types.Domain, release <-chan struct{}) *funcSpecialist {
	return &funcSpecialist{name: string(domain), domain: domain, fn: func(context.Context, types.SpecialistRequest) types.SpecialistReport {
		<-release
		return types.SpecialistReport{Lean: types.LeanBullish, Confidence: 0.9, Rationale: "late"}
	}}
}

func failing(domain types.Domain, reason string) *funcSpecialist {
	return &funcSpecialist{name: string(domain), domain: domain, fn: func(context.Context, types.SpecialistRequest) types.SpecialistReport {
		return types.FailedReport(string(domain), domain, reason, "boom", time.Millisecond)
	}}
}

type stubSnapshots struct {
	snap types.DomainSnapshot
	err  error
}

func (s stubSnapshots) BuildDomainSnapshot(_ context.Context, symbol string, _ cache.SnapshotPlan) (types.DomainSnapshot, error) {
	if s.err != nil {
		return types.DomainSnapshot{}, s.err
	}
	snap := s.snap
	snap.Symbol = symbol
	return snap, nil
}

// recordingSynth 记录收到的输入。
type recordingSynth struct {
	mu     sync.Mutex
	calls  int
	inputs []SynthesisInput
	err    error
}

func (r *recordingSynth) Synthesize(_ context.Context, in SynthesisInput) (types.TradeDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return types.TradeDecision{}, r.err
	}
	return types.TradeDecision{
		ID:             uuid.New(),
		SchemaVersion:  types.DecisionSchemaVersion,
		ProposalID:     in.Proposal.ID,
		Symbol:         in.Proposal.Symbol,
		Recommendation: types.RecommendProceed,
	}, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	specialists int
	traces      []EvaluationTrace
}

func (o *recordingObserver) OnTransition(_ context.Context, _, to State) {
	o.mu.Lock()
	o.transitions = append(o.transitions, to)
	o.mu.Unlock()
}

func (o *recordingObserver) OnSpecialist(context.Context, types.SpecialistReport) {
	o.mu.Lock()
	o.specialists++
	o.mu.Unlock()
}

func (o *recordingObserver) AfterEvaluate(_ context.Context, trace EvaluationTrace) {
	o.mu.Lock()
	o.traces = append(o.traces, trace)
	o.mu.Unlock()
}

func testProposal() types.TradeProposal {
	price := decimal.RequireFromString("185.50")
	return types.TradeProposal{
		ID:            uuid.MustParse("6f1c2a9e-8b1d-4c3e-9a7f-1d2e3f4a5b6c"),
		SchemaVersion: types.ProposalSchemaVersion,
		Symbol:        "AAPL",
		Legs:          []types.TradeLeg{{Side: types.SideBuy, Price: &price}},
		ProposedAt:    time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}
}

func testSnapshot() types.DomainSnapshot {
	snap := types.NewDomainSnapshot("AAPL", time.Date(2026, 3, 2, 14, 30, 1, 0, time.UTC))
	snap.Quote = json.RawMessage(`{"price":185.2}`)
	snap.Indicators["rsi_14"] = json.RawMessage(`{"value":[41.2,38.7]}`)
	snap.Sentiment["news"] = json.RawMessage(`{"score":0.3}`)
	snap.References["SPY"] = types.ReferenceSnapshot{Value: json.RawMessage(`{"value":[512.1]}`)}
	snap.Sources = []types.SnapshotSource{
		{Key: "quote:AAPL", Category: types.CategoryMarketData, Source: "polygon", AgeSeconds: 5},
		{Key: "indicator:rsi_14:AAPL", Category: types.CategoryIndicator, Source: "calc", AgeSeconds: 30},
		{Key: "sentiment:news:AAPL", Category: types.CategorySentiment, Source: "newsapi", AgeSeconds: 600},
		{Key: "ref:SPY", Category: types.CategoryReferenceSymbol, Source: "polygon", AgeSeconds: 60},
	}
	snap.Requested = 8
	return snap
}

func defaultMembers(specs ...Specialist) []Member {
	weights := map[types.Domain]float64{
		types.DomainTechnical: 0.35,
		types.DomainMacro:     0.20,
		types.DomainSentiment: 0.20,
		types.DomainSector:    0.25,
	}
	out := make([]Member, 0, len(specs))
	for _, s := range specs {
		out = append(out, Member{Specialist: s, Settings: types.SpecialistSettings{
			Name:    s.Name(),
			Domain:  s.Domain(),
			Model:   "fast-model",
			Weight:  weights[s.Domain()],
			Timeout: 2 * time.Second,
		}})
	}
	return out
}
