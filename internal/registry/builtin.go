package registry

import (
	"time"

	"github.com/shopspring/decimal"
)

// Builtin 描述一个平台自营工具:无上游代理，数据由处理函数直接给出。
type Builtin struct {
	ID          string
	Name        string
	Description string
	PriceUSD    decimal.Decimal
	Parameters  map[string]any
	handler     func(params map[string]any) map[string]any
}

var defaultPrice = decimal.RequireFromString("0.01")

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}}
}

func stringParamSchema(name, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{"type": "string", "description": description},
		},
		"required": []any{},
	}
}

func paramString(params map[string]any, key, fallback string) string {
	if raw, ok := params[key]; ok {
		if value, ok := raw.(string); ok && value != "" {
			return value
		}
	}
	return fallback
}

// defaultBuiltins 返回编译期内置的工具目录。
func defaultBuiltins() map[string]Builtin {
	return map[string]Builtin{
		"market": {
			ID:          "market",
			Name:        "get_market_data",
			Description: "Get real-time stock market data including S&P 500, NASDAQ, and Dow Jones indices",
			PriceUSD:    defaultPrice,
			Parameters:  emptySchema(),
			handler: func(map[string]any) map[string]any {
				return map[string]any{
					"timestamp": time.Now().UnixMilli(),
					"sp500":     map[string]any{"price": 4783.35, "change": 40.85, "changePercent": 0.86},
					"nasdaq":    map[string]any{"price": 15095.14, "change": -45.23, "changePercent": -0.3},
					"dowJones":  map[string]any{"price": 37305.16, "change": 134.58, "changePercent": 0.36},
				}
			},
		},
		"crypto": {
			ID:          "crypto",
			Name:        "get_crypto_prices",
			Description: "Get current cryptocurrency prices for Bitcoin, Ethereum, and USDC",
			PriceUSD:    defaultPrice,
			Parameters:  emptySchema(),
			handler: func(map[string]any) map[string]any {
				return map[string]any{
					"timestamp": time.Now().UnixMilli(),
					"bitcoin":   map[string]any{"symbol": "BTC", "price": 43250.5, "change24h": 2.34},
					"ethereum":  map[string]any{"symbol": "ETH", "price": 2285.75, "change24h": 1.87},
					"usdc":      map[string]any{"symbol": "USDC", "price": 1.0, "change24h": 0.01},
				}
			},
		},
		"weather": {
			ID:          "weather",
			Name:        "get_weather",
			Description: "Get current weather data for a specific location",
			PriceUSD:    defaultPrice,
			Parameters:  stringParamSchema("location", "City name"),
			handler: func(params map[string]any) map[string]any {
				return map[string]any{
					"timestamp":   time.Now().UnixMilli(),
					"location":    paramString(params, "location", "New York"),
					"temperature": 72,
					"humidity":    65,
					"conditions":  "Partly Cloudy",
					"windSpeed":   12,
				}
			},
		},
		"sentiment": {
			ID:          "sentiment",
			Name:        "get_sentiment",
			Description: "Get social media sentiment analysis for a topic",
			PriceUSD:    defaultPrice,
			Parameters:  stringParamSchema("topic", "Topic to analyze"),
			handler: func(params map[string]any) map[string]any {
				return map[string]any{
					"timestamp": time.Now().UnixMilli(),
					"topic":     paramString(params, "topic", "crypto"),
					"sentiment": 0.68,
					"volume":    15420,
					"trending":  true,
				}
			},
		},
		"web3": {
			ID:          "web3",
			Name:        "get_web3_analytics",
			Description: "Get Web3 analytics including TVL, gas prices, and DEX volume",
			PriceUSD:    defaultPrice,
			Parameters:  emptySchema(),
			handler: func(map[string]any) map[string]any {
				return map[string]any{
					"timestamp":        time.Now().UnixMilli(),
					"totalValueLocked": "85.4B",
					"gasPrice":         map[string]any{"fast": 25, "standard": 18, "slow": 12},
					"dexVolume24h":     "4.2B",
				}
			},
		},
	}
}
