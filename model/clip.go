package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClipParams 片段的插件参数，GORM 中以 JSON 存储
type ClipParams map[string]interface{}

// Scan 实现 sql.Scanner 接口
func (p *ClipParams) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*p = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*p = nil
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Value 实现 driver.Valuer 接口
func (p ClipParams) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// ClipShape 生成器片段的形状参数
type ClipShape struct {
	Size      float64 `json:"size" yaml:"size" gorm:"default:100"`
	PositionX float64 `json:"positionX" yaml:"position_x"`
	PositionY float64 `json:"positionY" yaml:"position_y"`
	Rotation  float64 `json:"rotation" yaml:"rotation"`
	Scale     float64 `json:"scale" yaml:"scale" gorm:"default:1"`
}

// DefaultShape 片段加载失败时使用的默认形状
func DefaultShape() ClipShape {
	return ClipShape{Size: 100, PositionX: 0, PositionY: 0, Rotation: 0, Scale: 1}
}

// Clip 播放列表中的一个片段
type Clip struct {
	ID             uuid.UUID  `json:"id" yaml:"id" gorm:"type:char(36);primaryKey"`
	Name           string     `json:"name" yaml:"name" gorm:"size:100;not null"`
	Source         string     `json:"source" yaml:"source" gorm:"size:50;not null"` // 插件 ID，如 gradient、image_sequence
	Path           string     `json:"path,omitempty" yaml:"path" gorm:"size:255"`
	Params         ClipParams `json:"params,omitempty" yaml:"params" gorm:"type:json"`
	DurationFrames int        `json:"durationFrames" yaml:"duration_frames"` // 0 表示由源决定
	Shape          ClipShape  `json:"shape" yaml:"shape" gorm:"embedded;embeddedPrefix:shape_"`
	CreatedAt      time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time  `json:"updatedAt" yaml:"-"`
}

// TableName 指定表名
func (Clip) TableName() string {
	return "clips"
}

// DisplayName 日志里使用的名称
func (c *Clip) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}

// Normalized 补齐未设置的尺寸与缩放
func (s ClipShape) Normalized() ClipShape {
	if s.Size <= 0 {
		s.Size = 100
	}
	if s.Scale <= 0 {
		s.Scale = 1
	}
	return s
}
