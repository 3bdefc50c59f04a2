package app

import (
	"fmt"
	"strings"
	"time"

	"tirds/internal/config"
	"tirds/internal/decision"
	"tirds/internal/logger"
)

// StartupSummary 汇总启动配置，serve 模式启动时写入日志（stdout 保留给决策输出）。
type StartupSummary struct {
	Backend     string
	CachePath   string
	Provider    string
	Synthesizer string
	Timeframes  []string
	Indicators  []string
	References  []string
	Sentiment   []string
	Specialists []SpecialistDetail
	Total       time.Duration
}

type SpecialistDetail struct {
	Name    string
	Domain  string
	Model   string
	Weight  float64
	Timeout time.Duration
}

func newStartupSummary(cfg *config.Config, providerID string, members []decision.Member) *StartupSummary {
	s := &StartupSummary{
		Backend:     cfg.Cache.Backend,
		Provider:    providerID,
		Synthesizer: cfg.SynthesizerModel(),
		Timeframes:  cfg.Snapshot.Timeframes,
		Indicators:  cfg.Snapshot.Indicators,
		References:  cfg.Snapshot.ReferenceSymbols,
		Sentiment:   cfg.Snapshot.SentimentSources,
		Total:       cfg.Agents.TotalTimeout(),
	}
	if cfg.Cache.Backend == config.BackendRedis {
		s.CachePath = cfg.Cache.RedisAddr
	} else {
		s.CachePath = cfg.Cache.SQLitePath
	}
	for _, m := range members {
		s.Specialists = append(s.Specialists, SpecialistDetail{
			Name:    m.Settings.Name,
			Domain:  string(m.Settings.Domain),
			Model:   m.Settings.Model,
			Weight:  m.Settings.Weight,
			Timeout: m.Settings.Timeout,
		})
	}
	return s
}

// Lines 返回摘要的文本行。
func (s *StartupSummary) Lines() []string {
	if s == nil {
		return nil
	}
	lines := []string{
		strings.Repeat("=", 60),
		"启动配置摘要 (STARTUP SUMMARY)",
		fmt.Sprintf("[缓存] backend=%s target=%s", s.Backend, s.CachePath),
		fmt.Sprintf("[快照] 周期: %s | 指标: %s", formatList(s.Timeframes), formatList(s.Indicators)),
		fmt.Sprintf("[快照] 参考标的: %s | 情绪源: %s", formatList(s.References), formatList(s.Sentiment)),
		fmt.Sprintf("[推理] provider=%s synthesizer=%s total_timeout=%s", s.Provider, s.Synthesizer, s.Total),
		"[专家]:",
	}
	if len(s.Specialists) == 0 {
		lines = append(lines, "  - (无)")
	}
	for _, sp := range s.Specialists {
		lines = append(lines, fmt.Sprintf("  - %s (%s) model=%s weight=%.2f timeout=%s", sp.Name, sp.Domain, sp.Model, sp.Weight, sp.Timeout))
	}
	return append(lines, strings.Repeat("=", 60))
}

func (s *StartupSummary) Log() {
	for _, line := range s.Lines() {
		logger.Infof("%s", line)
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
