package jsonutil

import (
	"strings"
)

const codeFence = "```"

// Shape 标记候选 JSON 来自模型输出的哪种文本形态。
type Shape string

const (
	ShapeFenced Shape = "fenced"
	ShapeProse  Shape = "prose"
	ShapePure   Shape = "pure"
)

// Candidate 是一段可能为结构化结果的文本片段。
type Candidate struct {
	Shape Shape
	Text  string
}

// Candidates 按 代码块 → 前置说明文字 → 纯 JSON 的顺序返回候选片段，
// 由调用方逐个校验并解码，首个成功的即为结果。
func Candidates(raw string) []Candidate {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make([]Candidate, 0, 3)
	if block, ok := extractFromFence(raw); ok {
		out = append(out, Candidate{Shape: ShapeFenced, Text: block})
	}
	if obj, start, ok := extractJSONObject(raw); ok && start > 0 {
		out = append(out, Candidate{Shape: ShapeProse, Text: obj})
	}
	out = append(out, Candidate{Shape: ShapePure, Text: raw})
	return out
}

func extractFromFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 跳过 ```json 这类语言标记行
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	return block, true
}

func extractJSONObject(raw string) (string, int, bool) {
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", -1, false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), start, true
			}
		}
	}
	return "", -1, false
}
