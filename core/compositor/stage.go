package compositor

import (
	"errors"
	"time"

	"Pixmux/model"
)

// ErrLayerNotFound 按 ID 操作的图层不存在
var ErrLayerNotFound = errors.New("layer not found")

// FrameSource 帧来源（视频解码、程序生成、图片序列等）
// NextFrame 返回 ok=false 表示源已耗尽
type FrameSource interface {
	NextFrame() (frame *model.Frame, duration time.Duration, ok bool)
	Reset() error
	SourceName() string
}

// Seekable 可按帧号定位的源，传输状态机据此驱动倒放、变速和乒乓播放
type Seekable interface {
	FrameCount() int
	Seek(frame int) error
}

// EffectContext 效果处理时可用的上下文
type EffectContext struct {
	Engine     string
	Canvas     model.Canvas
	Time       float64 // 引擎启动以来的秒数
	FrameIndex uint64
	Position   float64 // 传输位置（帧）
	Shape      model.ClipShape
	Budget     time.Duration // 单帧处理时限，脚本超时即失败；0 表示用默认值
}

// EffectStage 纯函数式的帧变换
type EffectStage interface {
	ID() string
	Initialize(params map[string]interface{}) error
	Process(frame *model.Frame, ctx *EffectContext) (*model.Frame, error)
	UpdateParameter(name string, value interface{}) bool
	CurrentParameters() map[string]interface{}
}
