package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"ChainBazaar/internal/market"
	"ChainBazaar/pkg/logger"
)

// ToolSource 标识工具的归属:平台自营或提供方接入。
type ToolSource string

const (
	SourcePlatform ToolSource = "platform"
	SourceProvider ToolSource = "provider"
)

// 执行失败的分类，原样进入用量日志的 error_type 字段。
const (
	ErrorTypeProvider      = "provider_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeExecution     = "execution_error"
)

// ExecError 描述一次执行失败:分类、对外状态码与细节。
type ExecError struct {
	Type       string
	StatusCode int
	Message    string
	Details    string
}

func (e *ExecError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Resolved 是一次工具查找的结果。Source 为 SourcePlatform 时 builtin 非空。
type Resolved struct {
	Tool    *market.Tool
	Source  ToolSource
	builtin *Builtin
}

// Registry 合并内置目录与持久化的提供方工具。
type Registry struct {
	store      market.Store
	builtins   map[string]Builtin
	httpClient *http.Client
}

// New 创建注册表。catalogPath 为空时只用编译期内置目录。
func New(store market.Store, catalogPath string) (*Registry, error) {
	builtins, err := loadCatalog(catalogPath, defaultBuiltins())
	if err != nil {
		return nil, err
	}
	return &Registry{
		store:    store,
		builtins: builtins,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// builtinTool 为内置工具合成统一的 market.Tool 视图。
func builtinTool(b *Builtin) *market.Tool {
	return &market.Tool{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		PriceUSD:    b.PriceUSD,
		Parameters:  b.Parameters,
		IsActive:    true,
		Status:      market.ToolApproved,
	}
}

// Resolve 按 id 查找工具，内置目录优先于提供方工具。
func (r *Registry) Resolve(ctx context.Context, id string) (Resolved, error) {
	if builtin, ok := r.builtins[id]; ok {
		b := builtin
		return Resolved{Tool: builtinTool(&b), Source: SourcePlatform, builtin: &b}, nil
	}

	tool, err := r.store.ToolByID(ctx, id)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Tool: tool, Source: SourceProvider}, nil
}

// ListAll 返回内置工具加全部可达的提供方工具，内置在前。
func (r *Registry) ListAll(ctx context.Context) ([]Resolved, error) {
	ids := make([]string, 0, len(r.builtins))
	for id := range r.builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resolved := make([]Resolved, 0, len(ids))
	for _, id := range ids {
		b := r.builtins[id]
		resolved = append(resolved, Resolved{Tool: builtinTool(&b), Source: SourcePlatform, builtin: &b})
	}

	tools, err := r.store.ListActiveTools(ctx)
	if err != nil {
		return nil, err
	}
	for _, tool := range tools {
		// 与内置目录撞 id 的提供方工具不可见。
		if _, ok := r.builtins[tool.ID]; ok {
			continue
		}
		resolved = append(resolved, Resolved{Tool: tool, Source: SourceProvider})
	}
	return resolved, nil
}

// Execute 运行工具并返回其数据。失败以 *ExecError 返回以便调用方
// 写日志、定状态码。
func (r *Registry) Execute(ctx context.Context, resolved Resolved, params map[string]any) (any, *ExecError) {
	if resolved.Source == SourcePlatform && resolved.builtin != nil {
		return resolved.builtin.handler(params), nil
	}

	if resolved.Tool == nil || resolved.Tool.ExternalURL == "" {
		return nil, &ExecError{
			Type:       ErrorTypeConfiguration,
			StatusCode: http.StatusInternalServerError,
			Message:    "Tool has no data source configured",
		}
	}
	return r.proxy(ctx, resolved.Tool, params)
}

// proxy 将调用透传到提供方的外部端点，参数折叠进查询字符串。
func (r *Registry) proxy(ctx context.Context, tool *market.Tool, params map[string]any) (any, *ExecError) {
	target, err := url.Parse(tool.ExternalURL)
	if err != nil {
		return nil, &ExecError{
			Type:       ErrorTypeConfiguration,
			StatusCode: http.StatusInternalServerError,
			Message:    "Tool has an invalid external URL",
			Details:    err.Error(),
		}
	}

	query := target.Query()
	for key, value := range params {
		query.Set(key, fmt.Sprint(value))
	}
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &ExecError{
			Type:       ErrorTypeExecution,
			StatusCode: http.StatusInternalServerError,
			Message:    "Failed to build provider request",
			Details:    err.Error(),
		}
	}
	req.Header.Set("User-Agent", "ChainBazaar-Marketplace/1.0")

	logger.L().Debug("代理调用提供方端点", "tool_id", tool.ID, "url", target.String())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &ExecError{
			Type:       ErrorTypeExecution,
			StatusCode: http.StatusInternalServerError,
			Message:    "Provider request failed",
			Details:    err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ExecError{
			Type:       ErrorTypeExecution,
			StatusCode: http.StatusInternalServerError,
			Message:    "Failed to read provider response",
			Details:    err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExecError{
			Type:       ErrorTypeProvider,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Provider returned %d", resp.StatusCode),
			Details:    string(body),
		}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &ExecError{
			Type:       ErrorTypeExecution,
			StatusCode: http.StatusInternalServerError,
			Message:    "Provider returned invalid JSON",
			Details:    err.Error(),
		}
	}
	return data, nil
}
