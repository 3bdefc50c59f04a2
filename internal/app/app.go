package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tirds/internal/cache"
	"tirds/internal/config"
	"tirds/internal/decision"
	"tirds/internal/logger"
	"tirds/internal/metrics"
	apihttp "tirds/internal/transport/http"
	"tirds/internal/types"
)

// readyProbeKey 只用于健康检查，未命中即视为持久层可用。
const readyProbeKey = "healthz:probe"

// App 持有一次进程生命周期内的全部依赖：缓存、编排器与指标。
type App struct {
	cfg     *config.Config
	reader  *cache.Reader
	orch    *decision.Orchestrator
	metrics *metrics.Recorder
	latest  *lastDecisionCache
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, opts)
}

// Evaluate 校验提案并完成一次评估；失败时返回 *types.EvaluationError。
func (a *App) Evaluate(ctx context.Context, proposal types.TradeProposal) (types.TradeDecision, error) {
	if a == nil || a.orch == nil {
		return types.TradeDecision{}, fmt.Errorf("app not initialized")
	}
	proposal.Symbol = strings.TrimSpace(proposal.Symbol)
	if err := types.ValidateProposal(proposal); err != nil {
		return types.TradeDecision{}, types.AsEvaluationError(err)
	}
	d, err := a.orch.Evaluate(ctx, proposal)
	if err != nil {
		return types.TradeDecision{}, err
	}
	a.latest.Set(d)
	return d, nil
}

// Latest 返回 symbol 最近一次（未过期的）决策。
func (a *App) Latest(symbol string) (types.TradeDecision, bool) {
	return a.latest.Get(symbol, time.Now())
}

// Ready 通过一次缓存读取确认持久层可用。
func (a *App) Ready(ctx context.Context) error {
	_, _, err := a.reader.Get(ctx, readyProbeKey)
	return err
}

// Serve 启动 HTTP 服务直到 ctx 取消。
func (a *App) Serve(ctx context.Context, addr string) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if strings.TrimSpace(addr) == "" {
		addr = a.cfg.HTTP.Addr
	}
	if a.Summary != nil {
		a.Summary.Log()
	}
	srv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:      addr,
		Evaluator: a,
		Decisions: a,
		Metrics:   a.metrics.Handler(),
		Ready:     a.Ready,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func (a *App) Metrics() *metrics.Recorder { return a.metrics }

func (a *App) Close() error {
	if a == nil || a.reader == nil {
		return nil
	}
	if err := a.reader.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
