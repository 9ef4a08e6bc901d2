package model

import "fmt"

// Point 灯具像素在画布上的坐标
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MapObject 一个灯具对象（灯条、矩阵等），按顺序列出其像素点
type MapObject struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
}

// PixelMap 像素映射文件
// 会话期间只读，由外部编辑器修改后整体原子替换
type PixelMap struct {
	Canvas  Canvas      `json:"canvas"`
	Objects []MapObject `json:"objects"`
}

// PointCount 所有对象的像素点总数
func (m *PixelMap) PointCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, obj := range m.Objects {
		n += len(obj.Points)
	}
	return n
}

// Validate 校验画布尺寸与对象 ID
func (m *PixelMap) Validate() error {
	if m == nil {
		return fmt.Errorf("pixel map is nil")
	}
	if !m.Canvas.Valid() {
		return fmt.Errorf("invalid canvas size %dx%d", m.Canvas.Width, m.Canvas.Height)
	}
	seen := make(map[string]bool, len(m.Objects))
	for i, obj := range m.Objects {
		if obj.ID == "" {
			return fmt.Errorf("object %d has empty id", i)
		}
		if seen[obj.ID] {
			return fmt.Errorf("duplicate object id %q", obj.ID)
		}
		seen[obj.ID] = true
	}
	return nil
}
