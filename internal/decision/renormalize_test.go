package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tirds/internal/types"
)

func ok(d types.Domain) types.SpecialistReport {
	return types.SpecialistReport{Name: string(d), Domain: d, Lean: types.LeanBullish, Confidence: 0.6, Rationale: "x"}
}

func settingsFor(weights ...float64) []types.SpecialistSettings {
	out := make([]types.SpecialistSettings, len(weights))
	for i, w := range weights {
		out[i] = types.SpecialistSettings{Domain: types.AllDomains[i], Weight: w}
	}
	return out
}

func TestRenormalizeDropsFailures(t *testing.T) {
	reports := []types.SpecialistReport{
		ok(types.DomainTechnical),
		ok(types.DomainMacro),
		types.FailedReport("sentiment", types.DomainSentiment, types.ReasonTimeout, "", 0),
		ok(types.DomainSector),
	}
	got := Renormalize(reports, settingsFor(0.35, 0.20, 0.20, 0.25))
	require.Len(t, got, 3)
	assert.InDelta(t, 0.4375, got[0].EffectiveWeight, 1e-9)
	assert.InDelta(t, 0.25, got[1].EffectiveWeight, 1e-9)
	assert.InDelta(t, 0.3125, got[2].EffectiveWeight, 1e-9)
	assert.Equal(t, 0.35, got[0].ConfiguredWeight)
}

func TestRenormalizeZeroWeightsSplitEvenly(t *testing.T) {
	reports := []types.SpecialistReport{ok(types.DomainTechnical), ok(types.DomainMacro)}
	got := Renormalize(reports, settingsFor(0, 0))
	require.Len(t, got, 2)
	assert.InDelta(t, 0.5, got[0].EffectiveWeight, 1e-9)
	assert.InDelta(t, 0.5, got[1].EffectiveWeight, 1e-9)
}

func TestRenormalizeAllFailed(t *testing.T) {
	reports := []types.SpecialistReport{types.FailedReport("technical", types.DomainTechnical, types.ReasonProcessError, "", 0)}
	assert.Nil(t, Renormalize(reports, settingsFor(1)))
}

func TestRenormalizeSumsToOne(t *testing.T) {
	cases := [][]float64{{0.1, 0.2, 0.3, 0.4}, {1, 0, 0, 0}, {0.7, 0.7, 0.7, 0.7}, {0.05, 0.9, 0.01, 0.04}}
	for _, weights := range cases {
		reports := []types.SpecialistReport{ok(types.DomainTechnical), ok(types.DomainMacro), ok(types.DomainSentiment), ok(types.DomainSector)}
		sum := 0.0
		for _, w := range Renormalize(reports, settingsFor(weights...)) {
			sum += w.EffectiveWeight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, weights)
	}
}
