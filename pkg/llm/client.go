package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/errs"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
)

// Request 一次补全请求
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// JSON 要求模型返回JSON对象
	JSON bool
}

// Completer 大模型补全接口
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// Options 客户端配置
type Options struct {
	Provider    string
	APIURL      string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OptionsFromConfig 从应用配置构建
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider:    cfg.LLM.Provider,
		APIURL:      cfg.LLM.APIURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}
}

// New 按provider创建客户端，缺少API key时返回配置错误
func New(ctx context.Context, opts Options) (Completer, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(opts)
	case ProviderGemini:
		return NewGeminiClient(ctx, opts)
	default:
		return nil, errs.Configuration("llm", fmt.Errorf("未知的provider: %s", opts.Provider))
	}
}

// Message 表示对话中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// ChatRequest 表示聊天请求
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// ChatResponse 表示聊天响应
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIClient OpenAI兼容的chat completions客户端
type OpenAIClient struct {
	apiURL      string
	apiKey      string
	modelName   string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOpenAIClient 创建新的大模型客户端
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errs.Configuration("openai", errors.New("缺少API key"))
	}
	if opts.APIURL == "" {
		opts.APIURL = defaultOpenAIURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		apiURL:      opts.APIURL,
		apiKey:      opts.APIKey,
		modelName:   opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// Model 模型名称
func (c *OpenAIClient) Model() string {
	return c.modelName
}

// Complete 发送聊天请求并获取响应
func (c *OpenAIClient) Complete(ctx context.Context, r Request) (string, error) {
	messages := make([]Message, 0, 2)
	if r.System != "" {
		messages = append(messages, Message{Role: "system", Content: r.System})
	}
	messages = append(messages, Message{Role: "user", Content: r.User})

	reqBody := ChatRequest{
		Model:       c.modelName,
		Messages:    messages,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
	if reqBody.MaxTokens == 0 {
		reqBody.MaxTokens = c.maxTokens
	}
	if reqBody.Temperature == 0 {
		reqBody.Temperature = c.temperature
	}
	if r.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errs.Transient("openai请求", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Transient("读取openai响应", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", errs.Transient("解析openai响应", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errs.Transient("openai", errors.New("API返回空响应"))
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// classifyHTTPError 鉴权与额度问题不可重试，其余视为临时错误
func classifyHTTPError(status int, body []byte) error {
	var wrapped ChatResponse
	msg := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
		msg = wrapped.Error.Message
		code = wrapped.Error.Code
		if code == "" {
			code = wrapped.Error.Type
		}
	}
	err := fmt.Errorf("API返回错误 %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Configuration("openai", err)
	case status == http.StatusTooManyRequests && (code == "insufficient_quota" || strings.Contains(strings.ToLower(msg), "quota")):
		return errs.Configuration("openai", err)
	case status == http.StatusTooManyRequests || status >= 500:
		return errs.Transient("openai", err)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "api key"):
		return errs.Configuration("openai", err)
	default:
		return errs.Transient("openai", err)
	}
}
