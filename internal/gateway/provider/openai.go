package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tirds/internal/logger"
	"tirds/internal/pkg/text"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider 兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 调用不做任何重试，deadline 由 ctx 决定。
type OpenAIProvider struct {
	id      string
	url     string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

type OpenAIOptions struct {
	ID      string
	BaseURL string
	APIKey  string
	Headers map[string]string
	Client  *http.Client
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = "openai"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		id:      id,
		url:     completionsURL(opts.BaseURL),
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		client:  client,
	}
}

// completionsURL 规范化 BaseURL，避免配置里写了完整 /chat/completions 导致路径重复。
func completionsURL(base string) string {
	url := strings.TrimSpace(base)
	if url == "" {
		url = defaultOpenAIBaseURL
	}
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (p *OpenAIProvider) ID() string { return p.id }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body, err := json.Marshal(chatRequest{Model: payload.Model, Messages: messages, Temperature: 0.2})
	if err != nil {
		return "", processError(p.id, "序列化请求失败", err)
	}
	logger.LogLLMRequest("http", p.id, payload.Purpose, payload.System, payload.User, string(body))
	logger.Debugf("[AI] 请求: POST %s, headers=%v", p.url, p.maskedHeaders())

	start := time.Now()
	out, err := p.do(ctx, body)
	logger.LogLLMResponse("http", p.id, payload.Purpose, out, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *OpenAIProvider) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", processError(p.id, "构造请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", timeoutError(p.id, ctx.Err())
		}
		return "", processError(p.id, "请求失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eresp chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", processError(p.id, fmt.Sprintf("status=%d: %s", resp.StatusCode, text.Truncate(msg, 512)), nil)
	}
	var r chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if ctx.Err() != nil {
			return "", timeoutError(p.id, ctx.Err())
		}
		return "", processError(p.id, "解析响应失败", err)
	}
	if len(r.Choices) == 0 {
		return "", processError(p.id, "empty choices", nil)
	}
	out := strings.TrimSpace(r.Choices[0].Message.Content)
	if out == "" {
		return "", processError(p.id, "模型输出为空", nil)
	}
	return out, nil
}

// maskedHeaders 用于日志：授权类头只展示后 4 位。
func (p *OpenAIProvider) maskedHeaders() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if p.apiKey != "" {
		out["Authorization"] = "Bearer " + mask(p.apiKey)
	}
	for k, v := range p.headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = mask(v)
		}
		out[k] = v
	}
	return out
}

func mask(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}
