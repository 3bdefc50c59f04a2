package config

import (
	"fmt"
	"math"
	"strings"

	"tirds/internal/logger"
	"tirds/internal/types"
)

// weightSumTolerance 是名义权重合计偏离 1.0 的容差。
const weightSumTolerance = 1e-6

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Snapshot.validate(); err != nil {
		return err
	}
	if err := c.Agents.validate(); err != nil {
		return err
	}
	if err := c.Synthesizer.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr cannot be empty")
	}
	return nil
}

func (a *AppConfig) validate() error {
	if !logger.ValidLevel(a.LogLevel) {
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error (got %q)", a.LogLevel)
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("cache.sqlite_path cannot be empty when cache.backend=sqlite")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("cache.redis_addr cannot be empty when cache.backend=redis")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("cache.redis_db must be >= 0")
		}
	default:
		return fmt.Errorf("cache.backend must be sqlite or redis (got %q)", c.Backend)
	}
	if c.MemoryMaxCapacity <= 0 {
		return fmt.Errorf("cache.memory_max_capacity must be > 0")
	}
	if c.MemoryTTLSeconds <= 0 {
		return fmt.Errorf("cache.memory_ttl_seconds must be > 0")
	}
	if c.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("cache.read_timeout_seconds must be > 0")
	}
	return nil
}

func (s *SnapshotConfig) validate() error {
	lists := map[string][]string{
		"snapshot.timeframes":           s.Timeframes,
		"snapshot.indicators":           s.Indicators,
		"snapshot.reference_symbols":    s.ReferenceSymbols,
		"snapshot.reference_timeframes": s.ReferenceTimeframes,
		"snapshot.sentiment_sources":    s.SentimentSources,
	}
	for key, items := range lists {
		for _, item := range items {
			if strings.Contains(item, ":") {
				return fmt.Errorf("%s entry %q must not contain ':'", key, item)
			}
		}
	}
	if s.LookupConcurrency <= 0 {
		return fmt.Errorf("snapshot.lookup_concurrency must be > 0")
	}
	return nil
}

func (a *AgentsConfig) validate() error {
	switch a.Provider {
	case ProviderClaudeCLI:
		if strings.TrimSpace(a.CLI.Binary) == "" {
			return fmt.Errorf("agents.cli.binary cannot be empty when agents.provider=claude_cli")
		}
	case ProviderOpenAI:
		if strings.TrimSpace(a.HTTP.APIURL) == "" {
			return fmt.Errorf("agents.http.api_url cannot be empty when agents.provider=openai")
		}
	default:
		return fmt.Errorf("agents.provider must be claude_cli or openai (got %q)", a.Provider)
	}
	if a.TotalTimeoutSeconds <= 0 {
		return fmt.Errorf("agents.total_timeout_seconds must be > 0")
	}
	if a.SpecialistTimeoutSeconds <= 0 {
		return fmt.Errorf("agents.specialist_timeout_seconds must be > 0")
	}
	if a.SpecialistTimeoutSeconds > a.TotalTimeoutSeconds {
		return fmt.Errorf("agents.specialist_timeout_seconds (%d) must not exceed agents.total_timeout_seconds (%d)",
			a.SpecialistTimeoutSeconds, a.TotalTimeoutSeconds)
	}
	if a.BreakerThreshold < 0 {
		return fmt.Errorf("agents.breaker_threshold must be >= 0")
	}
	if strings.TrimSpace(a.Tiers.Fast) == "" || strings.TrimSpace(a.Tiers.Deep) == "" {
		return fmt.Errorf("agents.tiers.fast and agents.tiers.deep cannot be empty")
	}
	if len(a.Specialists) == 0 {
		return fmt.Errorf("agents.specialists requires at least one entry")
	}
	seen := make(map[types.Domain]bool, len(a.Specialists))
	sum := 0.0
	enabled := 0
	for i, sc := range a.Specialists {
		if !sc.Domain.Valid() {
			return fmt.Errorf("agents.specialists[%d].domain must be technical/macro/sentiment/sector (got %q)", i, sc.Domain)
		}
		if seen[sc.Domain] {
			return fmt.Errorf("agents.specialists contains duplicate domain %s", sc.Domain)
		}
		seen[sc.Domain] = true
		if math.IsNaN(sc.Weight) || math.IsInf(sc.Weight, 0) || sc.Weight < 0 {
			return fmt.Errorf("agents.specialists.%s.weight must be a non-negative number", sc.Domain)
		}
		if !validTier(sc.Tier) {
			return fmt.Errorf("agents.specialists.%s.tier must be fast or deep (got %q)", sc.Domain, sc.Tier)
		}
		if sc.TimeoutSeconds < 0 {
			return fmt.Errorf("agents.specialists.%s.timeout_seconds must be >= 0", sc.Domain)
		}
		if sc.TimeoutSeconds > a.TotalTimeoutSeconds {
			return fmt.Errorf("agents.specialists.%s.timeout_seconds (%d) must not exceed agents.total_timeout_seconds (%d)",
				sc.Domain, sc.TimeoutSeconds, a.TotalTimeoutSeconds)
		}
		sum += sc.Weight
		if sc.Enabled {
			enabled++
		}
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("agents.specialists weights must sum to 1.0 (got %.6f)", sum)
	}
	if enabled == 0 {
		return fmt.Errorf("agents.specialists requires at least one enabled specialist")
	}
	return nil
}

func (s *SynthesizerConfig) validate() error {
	if !validTier(s.Tier) {
		return fmt.Errorf("synthesizer.tier must be fast or deep (got %q)", s.Tier)
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("synthesizer.timeout_seconds must be > 0")
	}
	return nil
}

func validTier(tier string) bool {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case TierFast, TierDeep:
		return true
	}
	return false
}
