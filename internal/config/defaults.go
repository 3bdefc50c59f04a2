package config

import (
	"fmt"
	"strings"

	"tirds/internal/types"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultCacheBackend        = BackendSQLite
	defaultCacheSQLitePath     = "data/tirds_cache.db"
	defaultCacheRedisPrefix    = "tirds:"
	defaultCacheMemoryCapacity = 10000
	defaultCacheMemoryTTL      = 60
	defaultCacheReadTimeout    = 5
	defaultLookupConcurrency   = 8
	defaultAgentsProvider      = ProviderClaudeCLI
	defaultAgentsTotalTimeout  = 120
	defaultSpecialistTimeout   = 45
	defaultBreakerCooldown     = 60
	defaultTierFast            = "claude-3-5-haiku-latest"
	defaultTierDeep            = "claude-sonnet-4-5-20250929"
	defaultCLIBinary           = "claude"
	defaultCLISystemPromptFlag = "--system-prompt"
	defaultCLIModelFlag        = "--model"
	defaultHTTPAddr            = ":9991"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	ProviderClaudeCLI = "claude_cli"
	ProviderOpenAI    = "openai"
)

var (
	defaultTimeframes          = []string{"5m", "1h", "1d"}
	defaultIndicators          = []string{"sma_20", "ema_12", "rsi_14", "macd", "bbands_20", "atr_14"}
	defaultReferenceSymbols    = []string{"SPY", "VIX", "QQQ"}
	defaultReferenceTimeframes = []string{"1d"}
	defaultSentimentSources    = []string{"news", "social", "analyst"}
	defaultCLIArgs             = []string{"-p", "--output-format", "text"}

	// 各领域名义权重，合计 1.0。
	defaultWeights = map[types.Domain]float64{
		types.DomainTechnical: 0.35,
		types.DomainMacro:     0.20,
		types.DomainSentiment: 0.20,
		types.DomainSector:    0.25,
	}
)

// DefaultWeight 返回领域的默认名义权重。
func DefaultWeight(d types.Domain) float64 {
	return defaultWeights[d]
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Snapshot.applyDefaults(keys)
	c.Agents.applyDefaults(keys)
	c.Synthesizer.applyDefaults(keys, c.Agents.TotalTimeoutSeconds)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	applyFieldDefaults(keys,
		stringFieldDefault("cache.backend", &c.Backend, defaultCacheBackend),
		stringFieldDefault("cache.sqlite_path", &c.SQLitePath, defaultCacheSQLitePath),
		stringFieldDefault("cache.redis_prefix", &c.RedisPrefix, defaultCacheRedisPrefix),
		intFieldDefault("cache.memory_max_capacity", &c.MemoryMaxCapacity, defaultCacheMemoryCapacity),
		intFieldDefault("cache.memory_ttl_seconds", &c.MemoryTTLSeconds, defaultCacheMemoryTTL),
		intFieldDefault("cache.read_timeout_seconds", &c.ReadTimeoutSeconds, defaultCacheReadTimeout),
	)
}

func (s *SnapshotConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		listFieldDefault("snapshot.timeframes", &s.Timeframes, defaultTimeframes),
		listFieldDefault("snapshot.indicators", &s.Indicators, defaultIndicators),
		listFieldDefault("snapshot.reference_symbols", &s.ReferenceSymbols, defaultReferenceSymbols),
		listFieldDefault("snapshot.reference_timeframes", &s.ReferenceTimeframes, defaultReferenceTimeframes),
		listFieldDefault("snapshot.sentiment_sources", &s.SentimentSources, defaultSentimentSources),
		intFieldDefault("snapshot.lookup_concurrency", &s.LookupConcurrency, defaultLookupConcurrency),
	)
	s.Timeframes = normalizeList(s.Timeframes)
	s.Indicators = normalizeList(s.Indicators)
	s.ReferenceSymbols = normalizeList(s.ReferenceSymbols)
	s.ReferenceTimeframes = normalizeList(s.ReferenceTimeframes)
	s.SentimentSources = normalizeList(s.SentimentSources)
}

func (a *AgentsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	applyFieldDefaults(keys,
		stringFieldDefault("agents.provider", &a.Provider, defaultAgentsProvider),
		intFieldDefault("agents.total_timeout_seconds", &a.TotalTimeoutSeconds, defaultAgentsTotalTimeout),
		intFieldDefault("agents.specialist_timeout_seconds", &a.SpecialistTimeoutSeconds, defaultSpecialistTimeout),
		intFieldDefault("agents.breaker_cooldown_seconds", &a.BreakerCooldownSeconds, defaultBreakerCooldown),
		stringFieldDefault("agents.tiers.fast", &a.Tiers.Fast, defaultTierFast),
		stringFieldDefault("agents.tiers.deep", &a.Tiers.Deep, defaultTierDeep),
		stringFieldDefault("agents.cli.binary", &a.CLI.Binary, defaultCLIBinary),
		listFieldDefault("agents.cli.args", &a.CLI.Args, defaultCLIArgs),
		stringFieldDefault("agents.cli.system_prompt_flag", &a.CLI.SystemPromptFlag, defaultCLISystemPromptFlag),
		stringFieldDefault("agents.cli.model_flag", &a.CLI.ModelFlag, defaultCLIModelFlag),
	)
	if !keys.isSet("agents.specialists") && len(a.Specialists) == 0 {
		for _, d := range types.AllDomains {
			a.Specialists = append(a.Specialists, SpecialistConfig{Domain: d})
		}
	}
	for i := range a.Specialists {
		sc := &a.Specialists[i]
		sc.Domain = types.Domain(strings.ToLower(strings.TrimSpace(string(sc.Domain))))
		prefix := fmt.Sprintf("agents.specialists.%d.", i)
		applyFieldDefaults(keys,
			stringFieldDefault(prefix+"name", &sc.Name, string(sc.Domain)),
			stringFieldDefault(prefix+"tier", &sc.Tier, TierFast),
			boolFieldDefault(prefix+"enabled", &sc.Enabled, true),
			fieldDefault{
				key:   prefix + "weight",
				need:  func() bool { return sc.Weight == 0 },
				apply: func() { sc.Weight = defaultWeights[sc.Domain] },
			},
		)
	}
}

func (s *SynthesizerConfig) applyDefaults(keys keySet, totalTimeout int) {
	if s == nil {
		return
	}
	if totalTimeout <= 0 {
		totalTimeout = defaultAgentsTotalTimeout
	}
	applyFieldDefaults(keys,
		stringFieldDefault("synthesizer.tier", &s.Tier, TierDeep),
		intFieldDefault("synthesizer.timeout_seconds", &s.TimeoutSeconds, totalTimeout),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func listFieldDefault(key string, target *[]string, def []string) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && len(*target) == 0 },
		apply: func() {
			if target != nil {
				*target = append([]string(nil), def...)
			}
		},
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
