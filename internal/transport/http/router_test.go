package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tirds/internal/types"
)

type mockEvaluator struct{ mock.Mock }

func (m *mockEvaluator) Evaluate(ctx context.Context, p types.TradeProposal) (types.TradeDecision, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(types.TradeDecision), args.Error(1)
}

const proposalBody = `{
  "id": "6f1c2a9e-8b1d-4c3e-9a7f-1d2e3f4a5b6c",
  "schema_version": 1,
  "symbol": "AAPL",
  "legs": [{"side": "buy", "price": "185.50"}],
  "proposed_at": "2026-03-02T14:30:00Z"
}`

func newTestServer(t *testing.T, ev Evaluator, ready func(context.Context) error) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Evaluator: ev, Ready: ready, Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tirds_up 1\n"))
	})})
	require.NoError(t, err)
	return srv.Handler()
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvaluateReturnsDecision(t *testing.T) {
	ev := &mockEvaluator{}
	decisionID := uuid.New()
	ev.On("Evaluate", mock.Anything, mock.MatchedBy(func(p types.TradeProposal) bool {
		return p.Symbol == "AAPL" && len(p.Legs) == 1
	})).Return(types.TradeDecision{ID: decisionID, Symbol: "AAPL", Recommendation: types.RecommendCaution}, nil)

	rec := post(newTestServer(t, ev, nil), proposalBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.TradeDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, decisionID, got.ID)
	assert.Equal(t, types.RecommendCaution, got.Recommendation)
	ev.AssertExpectations(t)
}

func TestEvaluateErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		tag    types.ErrTag
	}{
		{types.NewEvaluationError(types.TagInvalidProposal, "", "Symbol 不满足 required", nil), http.StatusBadRequest, types.TagInvalidProposal},
		{fmt.Errorf("read: %w", types.ErrCacheUnavailable), http.StatusServiceUnavailable, types.TagEvaluationAborted},
		{types.NewEvaluationError(types.TagAllSpecialistsFailed, "", "all failed", nil), http.StatusBadGateway, types.TagAllSpecialistsFailed},
		{types.NewEvaluationError(types.TagSynthesisFailed, types.ReasonTimeout, "slow", nil), http.StatusBadGateway, types.TagSynthesisFailed},
	}
	for _, tc := range cases {
		t.Run(string(tc.tag), func(t *testing.T) {
			ev := &mockEvaluator{}
			ev.On("Evaluate", mock.Anything, mock.Anything).Return(types.TradeDecision{}, tc.err)
			rec := post(newTestServer(t, ev, nil), proposalBody)
			assert.Equal(t, tc.status, rec.Code)
			var env struct {
				Error struct {
					Tag     string `json:"tag"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, string(tc.tag), env.Error.Tag)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestEvaluateMalformedBody(t *testing.T) {
	ev := &mockEvaluator{}
	rec := post(newTestServer(t, ev, nil), `{"id": 42`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.TagInvalidProposal))
	ev.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestEvaluateRejectsOversizedBody(t *testing.T) {
	ev := &mockEvaluator{}
	body := `{"symbol": "AAPL", "pad": "` + strings.Repeat("x", maxProposalBytes+1) + `"}`
	rec := post(newTestServer(t, ev, nil), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body too large")
	ev.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestServer(t, &mockEvaluator{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tirds_up 1")

	down := newTestServer(t, &mockEvaluator{}, func(context.Context) error { return fmt.Errorf("sqlite: closed") })
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerRequiresEvaluator(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

type staticDecisions map[string]types.TradeDecision

func (s staticDecisions) Latest(symbol string) (types.TradeDecision, bool) {
	d, ok := s[symbol]
	return d, ok
}

func TestLatestDecisionRoute(t *testing.T) {
	id := uuid.New()
	srv, err := NewServer(ServerConfig{
		Evaluator: &mockEvaluator{},
		Decisions: staticDecisions{"AAPL": {ID: id, Symbol: "AAPL"}},
	})
	require.NoError(t, err)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/decisions/AAPL/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.TradeDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/decisions/MSFT/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRouteAbsentWithoutLookup(t *testing.T) {
	h := newTestServer(t, &mockEvaluator{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/decisions/AAPL/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
