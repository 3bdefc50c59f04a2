package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"tirds/internal/pkg/jsonutil"
	"tirds/internal/pkg/text"
	"tirds/internal/types"
)

// errOutOfRange 表示数值可解析但超出 [0,1]。
var errOutOfRange = errors.New("confidence out of range")

// parsedReport 是专家输出中通过校验的字段。
type parsedReport struct {
	Lean        types.Lean
	Confidence  float64
	Rationale   string
	Warnings    []string
	Analysis    json.RawMessage
	DataSources []string
}

// parseReport 依次尝试 代码块、说明文字后的首个 JSON 对象、整段文本，返回首个合法报告。
func parseReport(raw string) (parsedReport, error) {
	candidates := jsonutil.Candidates(raw)
	if len(candidates) == 0 {
		return parsedReport{}, fmt.Errorf("输出为空")
	}
	var errs []string
	for _, c := range candidates {
		rep, err := parseReportCandidate(c.Text)
		if err == nil {
			return rep, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %s", c.Shape, text.Truncate(err.Error(), 200)))
	}
	return parsedReport{}, fmt.Errorf("无法解析专家输出: %s", strings.Join(errs, "; "))
}

func parseReportCandidate(doc string) (parsedReport, error) {
	if err := validateAgainst(reportSchema, doc); err != nil {
		return parsedReport{}, schemaError(err)
	}
	parsed := gjson.Parse(doc)
	conf, err := parseUnit(parsed.Get("confidence"))
	if err != nil {
		return parsedReport{}, fmt.Errorf("confidence: %w", err)
	}
	rep := parsedReport{
		Lean:        types.Lean(strings.ToLower(strings.TrimSpace(parsed.Get("direction").String()))),
		Confidence:  conf,
		Rationale:   strings.TrimSpace(parsed.Get("reasoning").String()),
		Warnings:    stringArray(parsed.Get("warnings")),
		DataSources: stringArray(parsed.Get("data_sources_consulted")),
	}
	if rep.Rationale == "" {
		return parsedReport{}, fmt.Errorf("reasoning 为空")
	}
	if a := parsed.Get("analysis"); a.IsObject() {
		rep.Analysis = json.RawMessage(a.Raw)
		// analysis.warnings 也视为专家警告
		rep.Warnings = appendUnique(rep.Warnings, stringArray(a.Get("warnings"))...)
	}
	return rep, nil
}

// schemaError 只保留最深层的校验信息，便于日志阅读。
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		return fmt.Errorf("schema: %s %s", leaf.InstanceLocation, leaf.Message)
	}
	return err
}

// parseNumber 接受 JSON 数字或数字字符串。
func parseNumber(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("非数字: %q", v.Str)
		}
		return f, nil
	}
	return 0, fmt.Errorf("缺少数值")
}

// parseUnit 解析 [0,1] 内的数值；越界时同时返回原值与 errOutOfRange。
func parseUnit(v gjson.Result) (float64, error) {
	f, err := parseNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("非有限数值: %v", f)
	}
	if f < 0 || f > 1 {
		return f, fmt.Errorf("%w: %v", errOutOfRange, f)
	}
	return f, nil
}

func parseDecimal(v gjson.Result) (decimal.Decimal, error) {
	switch v.Type {
	case gjson.Number:
		return decimal.NewFromString(v.Raw)
	case gjson.String:
		return decimal.NewFromString(strings.TrimSpace(v.Str))
	}
	return decimal.Zero, fmt.Errorf("缺少数值")
}

// parseOptionalDecimal 在字段缺失或为 null 时返回 nil。
func parseOptionalDecimal(v gjson.Result) (*decimal.Decimal, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	d, err := parseDecimal(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
