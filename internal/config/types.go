package config

import (
	"strings"
	"time"

	"tirds/internal/types"
)

// Config 是 TIRDS 的主配置载体，启动时加载一次，之后只读。
type Config struct {
	App         AppConfig         `toml:"app"`
	Cache       CacheConfig       `toml:"cache"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Agents      AgentsConfig      `toml:"agents"`
	Synthesizer SynthesizerConfig `toml:"synthesizer"`
	Prompt      PromptConfig      `toml:"prompt"`
	HTTP        HTTPConfig        `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// CacheConfig 描述两级缓存：内存热层 + 持久层（sqlite 或 redis）。
type CacheConfig struct {
	Backend            string `toml:"backend"`
	SQLitePath         string `toml:"sqlite_path"`
	RedisAddr          string `toml:"redis_addr"`
	RedisDB            int    `toml:"redis_db"`
	RedisPassword      string `toml:"redis_password"`
	RedisPrefix        string `toml:"redis_prefix"`
	MemoryMaxCapacity  int    `toml:"memory_max_capacity"`
	MemoryTTLSeconds   int    `toml:"memory_ttl_seconds"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
}

func (c CacheConfig) MemoryTTL() time.Duration {
	return time.Duration(c.MemoryTTLSeconds) * time.Second
}

func (c CacheConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// SnapshotConfig 决定 BuildDomainSnapshot 发起哪些 lookup。
type SnapshotConfig struct {
	Timeframes          []string `toml:"timeframes"`
	Indicators          []string `toml:"indicators"`
	ReferenceSymbols    []string `toml:"reference_symbols"`
	ReferenceTimeframes []string `toml:"reference_timeframes"`
	SentimentSources    []string `toml:"sentiment_sources"`
	LookupConcurrency   int      `toml:"lookup_concurrency"`
}

type AgentsConfig struct {
	Provider                 string             `toml:"provider"`
	TotalTimeoutSeconds      int                `toml:"total_timeout_seconds"`
	SpecialistTimeoutSeconds int                `toml:"specialist_timeout_seconds"`
	BreakerThreshold         int                `toml:"breaker_threshold"`
	BreakerCooldownSeconds   int                `toml:"breaker_cooldown_seconds"`
	Tiers                    TierConfig         `toml:"tiers"`
	CLI                      CLIConfig          `toml:"cli"`
	HTTP                     HTTPProviderConfig `toml:"http"`
	Specialists              []SpecialistConfig `toml:"specialists"`
}

func (a AgentsConfig) SpecialistTimeout() time.Duration {
	return time.Duration(a.SpecialistTimeoutSeconds) * time.Second
}

// TotalTimeout 是每个专家超时的上限，也是综合器超时的默认值。
func (a AgentsConfig) TotalTimeout() time.Duration {
	return time.Duration(a.TotalTimeoutSeconds) * time.Second
}

func (a AgentsConfig) BreakerCooldown() time.Duration {
	return time.Duration(a.BreakerCooldownSeconds) * time.Second
}

// TierConfig 将模型档位映射到具体模型名。
type TierConfig struct {
	Fast string `toml:"fast"`
	Deep string `toml:"deep"`
}

// Resolve 返回档位对应的模型；未知档位回退到 fast。
func (t TierConfig) Resolve(tier string) string {
	if strings.EqualFold(strings.TrimSpace(tier), TierDeep) {
		return t.Deep
	}
	return t.Fast
}

const (
	TierFast = "fast"
	TierDeep = "deep"
)

// CLIConfig 描述外部推理子进程的调用方式。
type CLIConfig struct {
	Binary           string   `toml:"binary"`
	Args             []string `toml:"args"`
	SystemPromptFlag string   `toml:"system_prompt_flag"`
	ModelFlag        string   `toml:"model_flag"`
}

type HTTPProviderConfig struct {
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

// SpecialistConfig 是单个领域专家的配置。
type SpecialistConfig struct {
	Name           string       `toml:"name"`
	Domain         types.Domain `toml:"domain"`
	Enabled        bool         `toml:"enabled"`
	Weight         float64      `toml:"weight"`
	Tier           string       `toml:"tier"`
	Model          string       `toml:"model"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
}

type SynthesizerConfig struct {
	Tier            string `toml:"tier"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	ClampOutOfRange bool   `toml:"clamp_out_of_range"`
}

func (s SynthesizerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type PromptConfig struct {
	OverridesPath string `toml:"overrides_path"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// SpecialistSettings 解析出某个专家本次评估使用的模型与超时。
func (c *Config) SpecialistSettings(sc SpecialistConfig) types.SpecialistSettings {
	model := strings.TrimSpace(sc.Model)
	if model == "" {
		model = c.Agents.Tiers.Resolve(sc.Tier)
	}
	timeout := c.Agents.SpecialistTimeout()
	if sc.TimeoutSeconds > 0 {
		timeout = time.Duration(sc.TimeoutSeconds) * time.Second
	}
	return types.SpecialistSettings{
		Name:    sc.Name,
		Domain:  sc.Domain,
		Model:   model,
		Weight:  sc.Weight,
		Timeout: timeout,
	}
}

// SynthesizerModel 返回合成阶段使用的模型。
func (c *Config) SynthesizerModel() string {
	if m := strings.TrimSpace(c.Synthesizer.Model); m != "" {
		return m
	}
	return c.Agents.Tiers.Resolve(c.Synthesizer.Tier)
}

// EnabledSpecialists 返回启用的专家配置（保持配置顺序）。
func (c *Config) EnabledSpecialists() []SpecialistConfig {
	out := make([]SpecialistConfig, 0, len(c.Agents.Specialists))
	for _, sc := range c.Agents.Specialists {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
