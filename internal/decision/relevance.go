package decision

import (
	"strings"

	"github.com/shopspring/decimal"

	"tirds/internal/types"
)

// informationRelevance 由快照命中情况与存活专家引用的数据源计算：
// 总分为命中的 lookup 占比，单个来源的相关度为引用它的专家有效权重之和。
// 未声明数据源的专家视为使用了全部数据。
func informationRelevance(snap types.DomainSnapshot, survivors []types.WeightedReport) types.InformationRelevance {
	out := types.InformationRelevance{Score: decimal.Zero}
	if snap.Requested > 0 {
		out.Score = unitDecimal(float64(len(snap.Sources)) / float64(snap.Requested))
	}
	for _, src := range snap.Sources {
		relevance := 0.0
		for _, s := range survivors {
			if consulted(s.Report.DataSources, src.Key) {
				relevance += s.EffectiveWeight
			}
		}
		out.SourceContributions = append(out.SourceContributions, types.SourceContribution{
			SourceName:       src.Key,
			Relevance:        unitDecimal(clampUnit(relevance)),
			FreshnessSeconds: src.AgeSeconds,
		})
	}
	return out
}

func consulted(dataSources []string, key string) bool {
	if len(dataSources) == 0 {
		return true
	}
	key = strings.ToLower(key)
	for _, ds := range dataSources {
		ds = strings.ToLower(strings.TrimSpace(ds))
		if ds == "" {
			continue
		}
		if ds == key || strings.Contains(ds, key) || strings.Contains(key, ds) {
			return true
		}
	}
	return false
}
