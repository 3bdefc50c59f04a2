package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tirds/internal/types"

	"golang.org/x/sync/errgroup"
)

// SnapshotPlan 决定为一个 symbol 发起哪些 lookup。
type SnapshotPlan struct {
	Timeframes          []string
	Indicators          []string
	ReferenceSymbols    []string
	ReferenceTimeframes []string
	SentimentSources    []string
	Concurrency         int
}

type snapshotLookup struct {
	key    string
	assign func(snap *types.DomainSnapshot, value json.RawMessage)
}

// lookups 按 bars → quote → 指标 → 参考标的 → 情绪 的顺序展开。
func (p SnapshotPlan) lookups(symbol string) []snapshotLookup {
	var out []snapshotLookup
	for _, tf := range p.Timeframes {
		tf := tf
		out = append(out, snapshotLookup{
			key:    types.BarsKey(symbol, tf),
			assign: func(s *types.DomainSnapshot, v json.RawMessage) { s.Bars[tf] = v },
		})
	}
	out = append(out, snapshotLookup{
		key:    types.QuoteKey(symbol),
		assign: func(s *types.DomainSnapshot, v json.RawMessage) { s.Quote = v },
	})
	for _, name := range p.Indicators {
		name := name
		out = append(out, snapshotLookup{
			key:    types.IndicatorKey(name, symbol),
			assign: func(s *types.DomainSnapshot, v json.RawMessage) { s.Indicators[name] = v },
		})
	}
	for _, ref := range p.ReferenceSymbols {
		ref := ref
		out = append(out, snapshotLookup{
			key: types.RefKey(ref),
			assign: func(s *types.DomainSnapshot, v json.RawMessage) {
				rs := s.References[ref]
				rs.Value = v
				s.References[ref] = rs
			},
		})
		for _, tf := range p.ReferenceTimeframes {
			tf := tf
			out = append(out, snapshotLookup{
				key: types.BarsKey(ref, tf),
				assign: func(s *types.DomainSnapshot, v json.RawMessage) {
					rs := s.References[ref]
					if rs.Bars == nil {
						rs.Bars = make(map[string]json.RawMessage)
					}
					rs.Bars[tf] = v
					s.References[ref] = rs
				},
			})
		}
	}
	for _, src := range p.SentimentSources {
		src := src
		out = append(out, snapshotLookup{
			key:    types.SentimentKey(src, symbol),
			assign: func(s *types.DomainSnapshot, v json.RawMessage) { s.Sentiment[src] = v },
		})
	}
	return out
}

// BuildDomainSnapshot 并发执行 plan 中的全部 lookup 并汇总未过期的结果。
// 缺失条目直接省略；任一持久层故障都会使整个快照失败，不返回部分结果。
func (r *Reader) BuildDomainSnapshot(ctx context.Context, symbol string, plan SnapshotPlan) (types.DomainSnapshot, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return types.DomainSnapshot{}, fmt.Errorf("symbol 不能为空")
	}
	lookups := plan.lookups(symbol)
	found := make([]*types.CacheEntry, len(lookups))

	g, gctx := errgroup.WithContext(ctx)
	limit := plan.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, lk := range lookups {
		i, lk := i, lk
		g.Go(func() error {
			entry, ok, err := r.GetEntry(gctx, lk.key)
			if err != nil {
				return err
			}
			if ok {
				found[i] = &entry
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.DomainSnapshot{}, fmt.Errorf("build snapshot %s: %w", symbol, err)
	}

	now := r.now()
	snap := types.NewDomainSnapshot(symbol, now)
	snap.Requested = len(lookups)
	for i, lk := range lookups {
		entry := found[i]
		if entry == nil {
			continue
		}
		lk.assign(&snap, entry.Value)
		age := int64(now.Sub(entry.UpdatedAt).Seconds())
		if age < 0 || entry.UpdatedAt.IsZero() {
			age = 0
		}
		snap.Sources = append(snap.Sources, types.SnapshotSource{
			Key:        lk.key,
			Category:   entry.Category,
			Source:     entry.Source,
			AgeSeconds: age,
		})
	}
	return snap, nil
}
