package openai

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

	"ChainBazaar/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

const chooseSystemPrompt = "" +
	"You are an autonomous trading agent with access to various paid data APIs. " +
	"Your goal is to choose ONE data API that will provide the most value for making a trading recommendation. " +
	"Consider both the cost and the informational value of each API. " +
	"Be strategic and cost-conscious."

const analyzeSystemPrompt = "" +
	"You are a professional trading analyst. " +
	"Provide concise, actionable trading insights based on the data. " +
	"Be specific and clear."

// ChooseTool 通过 function calling 让大模型在候选工具中强制选择一个。
func (c *Client) ChooseTool(ctx context.Context, goal string, tools []llm.ToolOption) (*llm.Selection, error) {
	if len(tools) == 0 {
		return nil, errors.New("候选工具列表为空")
	}

	type function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	type toolDef struct {
		Type     string   `json:"type"`
		Function function `json:"function"`
	}

	defs := make([]toolDef, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, toolDef{
			Type: "function",
			Function: function{
				Name:        tool.Name,
				Description: fmt.Sprintf("%s - $%s", tool.Description, tool.PriceUSD.String()),
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		})
	}

	userPrompt := strings.TrimSpace(goal)
	if userPrompt == "" {
		userPrompt = "Analyze the available tools and choose ONE to purchase for making a trading recommendation. Explain your reasoning."
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": chooseSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"tools":       defs,
		"tool_choice": "required",
	}

	decoded, err := c.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	message := decoded.Choices[0].Message
	if len(message.ToolCalls) == 0 {
		return nil, errors.New("大模型没有选择任何工具")
	}

	call := message.ToolCalls[0]
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("解析工具参数失败: %w", err)
		}
	}

	reasoning := strings.TrimSpace(message.Content)
	if reasoning == "" {
		reasoning = "Strategic choice based on value/cost ratio"
	}

	return &llm.Selection{
		Tool:      call.Function.Name,
		Arguments: args,
		Reasoning: reasoning,
	}, nil
}

// Analyze 将采购到的数据交给大模型生成交易建议。
func (c *Client) Analyze(ctx context.Context, data any) (string, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化分析数据失败: %w", err)
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": analyzeSystemPrompt},
			{"role": "user", "content": "Analyze this data and provide a trading recommendation:\n\n" + string(encoded)},
		},
		"max_tokens": 500,
	}

	decoded, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		content = "Analysis complete"
	}
	return content, nil
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, body map[string]any) (*completionResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}
	return &decoded, nil
}
