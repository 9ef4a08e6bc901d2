package pixelmap

import (
	"encoding/json"
	"fmt"
	"os"

	"Pixmux/model"
)

// Parse 解析并校验 JSON 像素映射
func Parse(data []byte) (*model.PixelMap, error) {
	var pm model.PixelMap
	if err := json.Unmarshal(data, &pm); err != nil {
		return nil, fmt.Errorf("解析像素映射失败: %w", err)
	}
	if err := pm.Validate(); err != nil {
		return nil, fmt.Errorf("像素映射无效: %w", err)
	}
	return &pm, nil
}

// Load 读取像素映射文件
func Load(path string) (*model.PixelMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取像素映射失败: %w", err)
	}
	return Parse(data)
}

// Marshal 序列化像素映射
func Marshal(pm *model.PixelMap) ([]byte, error) {
	return json.MarshalIndent(pm, "", "  ")
}
