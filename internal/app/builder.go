package app

import (
	"context"
	"fmt"
	"time"

	"tirds/internal/cache"
	"tirds/internal/config"
	"tirds/internal/decision"
	"tirds/internal/gateway/provider"
	"tirds/internal/logger"
	"tirds/internal/metrics"
	"tirds/internal/types"
)

const latestDecisionTTL = time.Hour

type AppBuilder struct {
	cfg *config.Config

	durableFn  func(context.Context, config.CacheConfig) (cache.Durable, error)
	providerFn func(config.AgentsConfig) (provider.ModelProvider, error)
	promptsFn  func(string) (decision.PromptSet, error)
}

type AppBuilderOption func(*AppBuilder)

// WithDurable 替换持久层（测试或外部注入）。
func WithDurable(d cache.Durable) AppBuilderOption {
	return func(b *AppBuilder) {
		b.durableFn = func(context.Context, config.CacheConfig) (cache.Durable, error) { return d, nil }
	}
}

// WithProvider 替换推理后端。
func WithProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.providerFn = func(config.AgentsConfig) (provider.ModelProvider, error) { return p, nil }
	}
}

func WithPrompts(ps decision.PromptSet) AppBuilderOption {
	return func(b *AppBuilder) {
		b.promptsFn = func(string) (decision.PromptSet, error) { return ps, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		durableFn:  openDurable,
		providerFn: provider.BuildFromConfig,
		promptsFn:  decision.LoadPromptOverrides,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	prompts, err := b.promptsFn(cfg.Prompt.OverridesPath)
	if err != nil {
		return nil, err
	}
	model, err := b.providerFn(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedConfiguration, err)
	}
	members, err := buildMembers(cfg, model, prompts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedConfiguration, err)
	}

	durable, err := b.durableFn(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	rec := metrics.New()
	hot := cache.NewMemoryStore(cfg.Cache.MemoryMaxCapacity, cfg.Cache.MemoryTTL())
	reader := cache.NewReader(hot, durable,
		cache.WithReadTimeout(cfg.Cache.ReadTimeout()),
		cache.WithObserver(rec),
	)

	synth := decision.NewSynthesizer(model, prompts, decision.SynthesizerOptions{
		Model:           cfg.SynthesizerModel(),
		Timeout:         cfg.Synthesizer.Timeout(),
		ClampOutOfRange: cfg.Synthesizer.ClampOutOfRange,
	})
	orch := decision.NewOrchestrator(reader, members, synth, decision.OrchestratorOptions{
		Plan:             snapshotPlan(cfg.Snapshot),
		DefaultTimeout:   cfg.Agents.SpecialistTimeout(),
		BreakerThreshold: cfg.Agents.BreakerThreshold,
		BreakerCooldown:  cfg.Agents.BreakerCooldown(),
		Observer:         rec,
	})

	summary := newStartupSummary(cfg, model.ID(), members)
	return &App{
		cfg:     cfg,
		reader:  reader,
		orch:    orch,
		metrics: rec,
		latest:  newLastDecisionCache(latestDecisionTTL),
		Summary: summary,
	}, nil
}

func buildMembers(cfg *config.Config, model provider.ModelProvider, prompts decision.PromptSet) ([]decision.Member, error) {
	enabled := cfg.EnabledSpecialists()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("未启用任何专家")
	}
	members := make([]decision.Member, 0, len(enabled))
	for _, sc := range enabled {
		sp, err := decision.NewSpecialist(sc.Name, sc.Domain, model, prompts)
		if err != nil {
			return nil, err
		}
		settings := cfg.SpecialistSettings(sc)
		settings.Name = sp.Name()
		members = append(members, decision.Member{Specialist: sp, Settings: settings})
	}
	return members, nil
}

func snapshotPlan(sc config.SnapshotConfig) cache.SnapshotPlan {
	return cache.SnapshotPlan{
		Timeframes:          sc.Timeframes,
		Indicators:          sc.Indicators,
		ReferenceSymbols:    sc.ReferenceSymbols,
		ReferenceTimeframes: sc.ReferenceTimeframes,
		SentimentSources:    sc.SentimentSources,
		Concurrency:         sc.LookupConcurrency,
	}
}

// RedisOptions 把 [cache] 配置映射为 redis 连接参数；读路径与 seed 共用。
func RedisOptions(cc config.CacheConfig) cache.RedisOptions {
	return cache.RedisOptions{
		Addr:        cc.RedisAddr,
		Password:    cc.RedisPassword,
		DB:          cc.RedisDB,
		Prefix:      cc.RedisPrefix,
		DialTimeout: cc.ReadTimeout(),
	}
}

func openDurable(ctx context.Context, cc config.CacheConfig) (cache.Durable, error) {
	switch cc.Backend {
	case config.BackendRedis:
		logger.Infof("持久缓存: redis addr=%s db=%d", cc.RedisAddr, cc.RedisDB)
		return cache.OpenRedis(ctx, RedisOptions(cc))
	case config.BackendSQLite, "":
		logger.Infof("持久缓存: sqlite path=%s", cc.SQLitePath)
		return cache.OpenSQLite(ctx, cc.SQLitePath)
	}
	return nil, fmt.Errorf("%w: 未知缓存后端 %q", types.ErrMalformedConfiguration, cc.Backend)
}
