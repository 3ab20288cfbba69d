package mysql

import (
	"encoding/json"
	"fmt"
)

// 工具参数以 JSON 文本列存储。
func encodeParameters(parameters map[string]any) (string, error) {
	if len(parameters) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(parameters)
	if err != nil {
		return "", fmt.Errorf("序列化工具参数失败: %w", err)
	}
	return string(encoded), nil
}

func decodeParameters(raw string) (map[string]any, error) {
	var parameters map[string]any
	if err := json.Unmarshal([]byte(raw), &parameters); err != nil {
		return nil, fmt.Errorf("解析工具参数失败: %w", err)
	}
	return parameters, nil
}
