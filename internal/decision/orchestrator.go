package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tirds/internal/cache"
	"tirds/internal/logger"
	"tirds/internal/pkg/circuit"
	"tirds/internal/types"
)

// State 是一次评估所处的阶段。
type State string

const (
	StateIdle             State = "Idle"
	StateSnapshotBuilding State = "SnapshotBuilding"
	StateFanningOut       State = "FanningOut"
	StateCollecting       State = "Collecting"
	StateRenormalizing    State = "Renormalizing"
	StateSynthesizing     State = "Synthesizing"
	StateDone             State = "Done"
	StateFailed           State = "Failed"
)

// SnapshotBuilder 是编排器对缓存的唯一依赖。
type SnapshotBuilder interface {
	BuildDomainSnapshot(ctx context.Context, symbol string, plan cache.SnapshotPlan) (types.DomainSnapshot, error)
}

// DecisionSynthesizer 折叠存活报告；错误应为 *SynthesisError。
type DecisionSynthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (types.TradeDecision, error)
}

// Member 是参与评估的专家及其配置。
type Member struct {
	Specialist Specialist
	Settings   types.SpecialistSettings
}

type OrchestratorOptions struct {
	Plan cache.SnapshotPlan
	// DefaultTimeout 用于未单独配置超时的专家。
	DefaultTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Observer         Observer
}

// Orchestrator 驱动 快照 → 并发专家 → 权重重分配 → 合成 的状态机。
type Orchestrator struct {
	snapshots SnapshotBuilder
	members   []Member
	synth     DecisionSynthesizer
	opts      OrchestratorOptions
	breakers  map[types.Domain]*circuit.CircuitBreaker
	now       func() time.Time
}

func NewOrchestrator(snapshots SnapshotBuilder, members []Member, synth DecisionSynthesizer, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		snapshots: snapshots,
		members:   append([]Member(nil), members...),
		synth:     synth,
		opts:      opts,
		now:       time.Now,
	}
	if opts.BreakerThreshold > 0 {
		o.breakers = make(map[types.Domain]*circuit.CircuitBreaker, len(members))
		for _, m := range members {
			d := m.Specialist.Domain()
			o.breakers[d] = circuit.NewCircuitBreaker("specialist:"+string(d), opts.BreakerThreshold, opts.BreakerCooldown)
		}
	}
	return o
}

// Breaker 返回领域的熔断器；未启用熔断时返回 nil。
func (o *Orchestrator) Breaker(d types.Domain) *circuit.CircuitBreaker {
	return o.breakers[d]
}

// run 记录单次评估的状态流转。
type run struct {
	o        *Orchestrator
	ctx      context.Context
	proposal types.TradeProposal
	state    State
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	logger.Debugf("evaluation %s %s: %s -> %s", r.proposal.ID, r.proposal.Symbol, from, to)
	if obs := r.o.opts.Observer; obs != nil {
		obs.OnTransition(r.ctx, from, to)
	}
}

// Evaluate 完成一次评估；失败时只返回 *types.EvaluationError，不返回部分决策。
func (o *Orchestrator) Evaluate(ctx context.Context, proposal types.TradeProposal) (types.TradeDecision, error) {
	start := o.now()
	r := &run{o: o, ctx: ctx, proposal: proposal, state: StateIdle}
	trace := EvaluationTrace{ProposalID: proposal.ID, Symbol: proposal.Symbol}

	decision, err := o.evaluate(r, &trace)
	trace.Elapsed = o.now().Sub(start)
	if err != nil {
		trace.Err = types.AsEvaluationError(err)
		r.transition(StateFailed)
		logger.Warnf("评估失败 symbol=%s id=%s err=%v", proposal.Symbol, proposal.ID, err)
		o.observeEvaluation(ctx, r.state, trace)
		return types.TradeDecision{}, trace.Err
	}
	decision.ProcessingTimeMS = trace.Elapsed.Milliseconds()
	r.transition(StateDone)
	logger.Infof("评估完成 symbol=%s id=%s recommendation=%s elapsed=%s",
		proposal.Symbol, proposal.ID, decision.Recommendation, trace.Elapsed.Truncate(time.Millisecond))
	o.observeEvaluation(ctx, r.state, trace)
	return decision, nil
}

func (o *Orchestrator) observeEvaluation(ctx context.Context, final State, trace EvaluationTrace) {
	trace.Final = final
	if obs := o.opts.Observer; obs != nil {
		obs.AfterEvaluate(ctx, trace)
	}
}

func (o *Orchestrator) evaluate(r *run, trace *EvaluationTrace) (types.TradeDecision, error) {
	r.transition(StateSnapshotBuilding)
	snap, err := o.snapshots.BuildDomainSnapshot(r.ctx, r.proposal.Symbol, o.opts.Plan)
	if err != nil {
		reason := ""
		if errors.Is(err, types.ErrCacheUnavailable) {
			reason = types.ReasonCacheUnavailable
		}
		return types.TradeDecision{}, types.NewEvaluationError(types.TagEvaluationAborted, reason, "构建快照失败: "+err.Error(), err)
	}
	logger.Debugf("snapshot %s: %d/%d lookups found", snap.Symbol, len(snap.Sources), snap.Requested)

	r.transition(StateFanningOut)
	reports := o.fanOut(r, snap)
	trace.Reports = reports

	r.transition(StateRenormalizing)
	settings := make([]types.SpecialistSettings, len(o.members))
	var failed []types.SpecialistReport
	for i, m := range o.members {
		settings[i] = m.Settings
		if reports[i].Failed() {
			failed = append(failed, reports[i])
		}
	}
	survivors := Renormalize(reports, settings)
	if len(survivors) == 0 {
		return types.TradeDecision{}, types.NewEvaluationError(types.TagAllSpecialistsFailed, "", describeFailures(failed), nil)
	}

	r.transition(StateSynthesizing)
	decision, err := o.synth.Synthesize(r.ctx, SynthesisInput{
		Proposal:  r.proposal,
		Snapshot:  snap,
		Survivors: survivors,
		Failed:    failed,
	})
	if err != nil {
		reason := types.ReasonProcessError
		var se *SynthesisError
		if errors.As(err, &se) {
			reason = se.Reason
		}
		return types.TradeDecision{}, types.NewEvaluationError(types.TagSynthesisFailed, reason, err.Error(), err)
	}
	return decision, nil
}

// fanOut 为每个专家单独设置 deadline 并发执行；返回值与 o.members 按下标对应。
func (o *Orchestrator) fanOut(r *run, snap types.DomainSnapshot) []types.SpecialistReport {
	reports := make([]types.SpecialistReport, len(o.members))
	if len(o.members) == 0 {
		r.transition(StateCollecting)
		return reports
	}
	// 每个专家只受自己的 deadline 约束，没有共享的阶段超时
	eg, egCtx := errgroup.WithContext(r.ctx)
	eg.SetLimit(len(o.members))
	for i, m := range o.members {
		i, m := i, m
		eg.Go(func() error {
			reports[i] = o.runSpecialist(egCtx, m, types.SpecialistRequest{
				Domain:   m.Specialist.Domain(),
				Snapshot: snap,
				Proposal: r.proposal,
				Settings: m.Settings,
			})
			if obs := o.opts.Observer; obs != nil {
				obs.OnSpecialist(r.ctx, reports[i])
			}
			return nil
		})
	}
	r.transition(StateCollecting)
	_ = eg.Wait()
	return reports
}

func (o *Orchestrator) runSpecialist(ctx context.Context, m Member, req types.SpecialistRequest) types.SpecialistReport {
	name, domain := m.Specialist.Name(), m.Specialist.Domain()
	breaker := o.breakers[domain]
	if breaker != nil && !breaker.Allow() {
		logger.Warnf("specialist %s 熔断中，跳过本次调用", name)
		return types.FailedReport(name, domain, types.ReasonProcessError, "circuit open", 0)
	}
	timeout := m.Settings.Timeout
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := o.now()
	done := make(chan types.SpecialistReport, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- types.FailedReport(name, domain, types.ReasonProcessError, fmt.Sprintf("panic: %v", rec), o.now().Sub(start))
			}
		}()
		done <- m.Specialist.Evaluate(sctx, req)
	}()

	var rep types.SpecialistReport
	select {
	case rep = <-done:
	case <-sctx.Done():
		// 专家未响应 ctx 时由这里兜底
		rep = types.FailedReport(name, domain, types.ReasonTimeout, "deadline exceeded: "+sctx.Err().Error(), o.now().Sub(start))
	}
	rep.Name, rep.Domain = name, domain
	if rep.Elapsed == 0 {
		rep.Elapsed = o.now().Sub(start)
	}
	if !rep.Failed() && (rep.Confidence < 0 || rep.Confidence > 1 || !rep.Lean.Valid()) {
		rep = types.FailedReport(name, domain, types.ReasonUnparseableOutput,
			fmt.Sprintf("invalid report direction=%q confidence=%v", rep.Lean, rep.Confidence), rep.Elapsed)
	}

	if rep.Failed() {
		logger.Warnf("specialist %s 失败 reason=%s elapsed=%s msg=%s",
			name, rep.Failure.Reason, rep.Elapsed.Truncate(time.Millisecond), rep.Failure.Message)
		if breaker != nil {
			breaker.RecordFailure()
		}
	} else {
		logger.Infof("specialist %s 完成 direction=%s confidence=%.2f elapsed=%s",
			name, rep.Lean, rep.Confidence, rep.Elapsed.Truncate(time.Millisecond))
		if breaker != nil {
			breaker.RecordSuccess()
		}
	}
	return rep
}

func describeFailures(failed []types.SpecialistReport) string {
	if len(failed) == 0 {
		return "没有启用的专家"
	}
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Name, f.Failure.Reason))
	}
	return "全部专家失败: " + strings.Join(parts, ", ")
}
