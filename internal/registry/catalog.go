package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogFile models configs/tools.yaml, an optional overlay that adjusts
// built-in tool metadata without a rebuild.
type catalogFile struct {
	Tools map[string]catalogEntry `yaml:"tools"`
}

type catalogEntry struct {
	Description string `yaml:"description"`
	PriceUSD    string `yaml:"price_usd"`
	Disabled    bool   `yaml:"disabled"`
}

// loadCatalog 读取目录覆盖文件并套用到内置工具上。路径为空时原样返回。
func loadCatalog(path string, builtins map[string]Builtin) (map[string]Builtin, error) {
	if strings.TrimSpace(path) == "" {
		return builtins, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工具目录失败: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析工具目录失败: %w", err)
	}

	for id, entry := range catalog.Tools {
		builtin, ok := builtins[id]
		if !ok {
			continue
		}
		if entry.Disabled {
			delete(builtins, id)
			continue
		}
		if entry.Description != "" {
			builtin.Description = entry.Description
		}
		if entry.PriceUSD != "" {
			price, err := decimal.NewFromString(entry.PriceUSD)
			if err != nil {
				return nil, fmt.Errorf("工具 %s 的价格非法: %w", id, err)
			}
			builtin.PriceUSD = price
		}
		builtins[id] = builtin
	}
	return builtins, nil
}
