package llm

import (
	"context"

	"github.com/shopspring/decimal"
)

// ToolOption 描述可供大模型选择的一个付费工具。
type ToolOption struct {
	Name        string
	Description string
	PriceUSD    decimal.Decimal
}

// Selection 是大模型做出的工具采购决策。
type Selection struct {
	Tool      string
	Arguments map[string]any
	Reasoning string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	// ChooseTool 让大模型在候选工具中选择一个进行采购。
	ChooseTool(ctx context.Context, goal string, tools []ToolOption) (*Selection, error)
	// Analyze 对采购到的数据进行分析并给出结论。
	Analyze(ctx context.Context, data any) (string, error)
}
