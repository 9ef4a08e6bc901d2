package transport

import (
	"fmt"
	"math"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// StageID 传输状态机作为效果阶段挂载时的 ID
const StageID = "transport"

// 可通过 set_transport_param 修改的参数
const (
	ParamSpeed        = "speed"
	ParamReverse      = "reverse"
	ParamLoopCount    = "loop_count"
	ParamPlaybackMode = "playback_mode"
	ParamTrimIn       = "trim_in"
	ParamTrimOut      = "trim_out"
	ParamPosition     = "position"
)

var _ compositor.EffectStage = (*Transport)(nil)

// ID 实现 compositor.EffectStage
func (t *Transport) ID() string {
	return StageID
}

// Initialize 批量应用参数，遇到无效参数返回错误
func (t *Transport) Initialize(params map[string]interface{}) error {
	for name, value := range params {
		if !t.UpdateParameter(name, value) {
			return fmt.Errorf("transport: invalid parameter %s=%v", name, value)
		}
	}
	return nil
}

// Process 不改变画面
func (t *Transport) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	return frame, nil
}

// UpdateParameter 修改单个传输参数，下一次 Advance 生效
func (t *Transport) UpdateParameter(name string, value interface{}) bool {
	switch name {
	case ParamSpeed:
		f, ok := compositor.ToFloat(value)
		return ok && t.SetSpeed(f) == nil
	case ParamReverse:
		b, ok := compositor.ToBool(value)
		if ok {
			t.SetReverse(b)
		}
		return ok
	case ParamLoopCount:
		f, ok := compositor.ToFloat(value)
		if !ok || f < 0 || f > math.MaxUint32 {
			return false
		}
		t.SetLoopCount(uint32(f))
		return true
	case ParamPlaybackMode:
		s, ok := value.(string)
		if !ok {
			return false
		}
		mode, err := ParseMode(s)
		if err != nil {
			return false
		}
		t.SetMode(mode)
		return true
	case ParamTrimIn, ParamTrimOut:
		f, ok := compositor.ToFloat(value)
		if !ok {
			return false
		}
		snap := t.Snapshot()
		in, out := snap.TrimIn, snap.TrimOut
		if snap.Unbounded {
			out = math.Inf(1)
		}
		if name == ParamTrimIn {
			in = f
		} else {
			out = f
		}
		return t.SetTrim(in, out) == nil
	case ParamPosition:
		f, ok := compositor.ToFloat(value)
		if ok {
			t.Seek(f)
		}
		return ok
	default:
		return false
	}
}

// CurrentParameters 当前参数
func (t *Transport) CurrentParameters() map[string]interface{} {
	s := t.Snapshot()
	params := map[string]interface{}{
		ParamSpeed:        s.Speed,
		ParamReverse:      s.Reverse,
		ParamLoopCount:    s.LoopCount,
		ParamPlaybackMode: s.Mode,
		ParamTrimIn:       s.TrimIn,
		ParamPosition:     s.Position,
	}
	if !s.Unbounded {
		params[ParamTrimOut] = s.TrimOut
	}
	return params
}
