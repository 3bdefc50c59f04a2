package decision

import "tirds/internal/types"

// Renormalize 只保留成功的报告，并按 w_i / Σw 重新分配权重；
// 存活集合的配置权重和为 0 时均分。reports 与 settings 按下标一一对应。
func Renormalize(reports []types.SpecialistReport, settings []types.SpecialistSettings) []types.WeightedReport {
	var survivors []types.WeightedReport
	total := 0.0
	for i, r := range reports {
		if r.Failed() || i >= len(settings) {
			continue
		}
		w := settings[i].Weight
		if w < 0 {
			w = 0
		}
		total += w
		survivors = append(survivors, types.WeightedReport{Report: r, ConfiguredWeight: w})
	}
	if len(survivors) == 0 {
		return nil
	}
	for i := range survivors {
		if total > 0 {
			survivors[i].EffectiveWeight = survivors[i].ConfiguredWeight / total
		} else {
			survivors[i].EffectiveWeight = 1 / float64(len(survivors))
		}
	}
	return survivors
}
