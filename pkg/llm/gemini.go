package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"FilingRadar/pkg/errs"
)

// GeminiClient 基于genai SDK的补全客户端
type GeminiClient struct {
	client      *genai.Client
	modelName   string
	temperature float64
	maxTokens   int
}

// NewGeminiClient 创建Gemini客户端
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errs.Configuration("gemini", errors.New("缺少API key"))
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.Configuration("gemini", fmt.Errorf("创建客户端失败: %w", err))
	}
	model := opts.Model
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		client:      client,
		modelName:   model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Model 模型名称
func (g *GeminiClient) Model() string {
	return g.modelName
}

// Complete 调用GenerateContent
func (g *GeminiClient) Complete(ctx context.Context, r Request) (string, error) {
	temp := r.Temperature
	if temp == 0 {
		temp = g.temperature
	}
	maxTokens := r.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temp)),
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	if r.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if r.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: r.System}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(r.User), config)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", errs.Transient("gemini", errors.New("API返回空响应"))
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.Configuration("gemini", err)
	case code == http.StatusBadRequest && errs.ClassifyMessage(err.Error()) == errs.KindConfiguration:
		return errs.Configuration("gemini", err)
	case code != 0:
		return errs.Transient("gemini", err)
	}

	if errs.ClassifyMessage(err.Error()) == errs.KindConfiguration {
		return errs.Configuration("gemini", err)
	}
	return errs.Transient("gemini", err)
}
