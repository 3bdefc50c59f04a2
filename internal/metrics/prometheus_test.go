package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tirds/internal/cache"
	"tirds/internal/decision"
	"tirds/internal/types"
)

var (
	_ cache.Observer    = (*Recorder)(nil)
	_ decision.Observer = (*Recorder)(nil)
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.ObserveCacheLookup(cache.LookupHotHit)
	r.ObserveCacheLookup(cache.LookupHotHit)
	r.ObserveCacheLookup(cache.LookupMiss)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookup.WithLabelValues(cache.LookupHotHit)))

	r.OnSpecialist(ctx, types.SpecialistReport{Domain: types.DomainMacro, Lean: types.LeanBullish, Confidence: 0.5, Elapsed: time.Second})
	r.OnSpecialist(ctx, types.FailedReport("sentiment", types.DomainSentiment, types.ReasonTimeout, "", 45*time.Second))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.specialists.WithLabelValues("macro", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.specialists.WithLabelValues("sentiment", types.ReasonTimeout)))

	r.OnTransition(ctx, decision.StateIdle, decision.StateSnapshotBuilding)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues(string(decision.StateSnapshotBuilding))))

	r.AfterEvaluate(ctx, decision.EvaluationTrace{Final: decision.StateDone, Elapsed: 3 * time.Second})
	r.AfterEvaluate(ctx, decision.EvaluationTrace{
		Final: decision.StateFailed,
		Err:   types.NewEvaluationError(types.TagAllSpecialistsFailed, "", "all failed", nil),
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evaluations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evaluations.WithLabelValues(string(types.TagAllSpecialistsFailed))))
}

func TestRecorderHandler(t *testing.T) {
	r := New()
	r.ObserveCacheLookup(cache.LookupDurableHit)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tirds_cache_lookups_total{result="durable_hit"} 1`)
}
