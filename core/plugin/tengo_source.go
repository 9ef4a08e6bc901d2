package plugin

import (
	"context"
	"fmt"
	"os"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/logger"
	"Pixmux/model"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

// tengo 生成器脚本的输入输出变量
// 输入：width、height、frame；输出：out，按行排列的 r,g,b 整数数组
const (
	tengoWidth  = "width"
	tengoHeight = "height"
	tengoFrame  = "frame"
	tengoOut    = "out"

	// tengoMinTimeout 高帧率时单帧时限的下限
	tengoMinTimeout = 20 * time.Millisecond
)

type tengoRenderer struct {
	name     string
	compiled *tengo.Compiled
	timeout  time.Duration // 单帧执行时限，超时该帧按失败处理
	failures int
}

// newTengoSource 脚本来自片段文件或 script 参数
func newTengoSource(req SourceRequest) (compositor.FrameSource, error) {
	src := paramString(req.Params, "script", "")
	if req.Path != "" {
		b, err := os.ReadFile(req.Path)
		if err != nil {
			return nil, fmt.Errorf("tengo: %w", err)
		}
		src = string(b)
	}
	if src == "" {
		return nil, fmt.Errorf("tengo: empty script")
	}

	script := tengo.NewScript([]byte(src))
	_ = script.Add(tengoWidth, req.Canvas.Width)
	_ = script.Add(tengoHeight, req.Canvas.Height)
	_ = script.Add(tengoFrame, 0)
	_ = script.Add(tengoOut, []interface{}{})
	script.SetImports(stdlib.GetModuleMap("math", "text"))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("tengo: %w", err)
	}

	name := SourceTengo
	if req.Clip != nil {
		name = SourceTengo + ":" + req.Clip.DisplayName()
	}
	duration := frameDuration(req.Params)
	rt := &tengoRenderer{name: name, compiled: compiled, timeout: max(duration, tengoMinTimeout)}
	return &generator{
		name:     name,
		canvas:   req.Canvas,
		frames:   int(paramFloat(req.Params, "frames", 0)),
		duration: duration,
		render:   rt.render,
	}, nil
}

// render 运行一次脚本；出错时该帧保持全黑
func (rt *tengoRenderer) render(f *model.Frame, index int) {
	if err := rt.run(f, index); err != nil {
		rt.failures++
		// 只记录首次和之后每 100 次，避免刷屏
		if rt.failures%100 == 1 {
			logger.Warn("tengo 脚本执行失败",
				logger.String("source", rt.name),
				logger.Int("frame", index),
				logger.Int("failures", rt.failures),
				logger.ErrorField(err))
		}
	}
}

func (rt *tengoRenderer) run(f *model.Frame, index int) error {
	if err := rt.compiled.Set(tengoFrame, index); err != nil {
		return err
	}
	if err := rt.compiled.Set(tengoOut, []interface{}{}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()
	if err := rt.compiled.RunContext(ctx); err != nil {
		return err
	}

	values := rt.compiled.Get(tengoOut).Array()
	n := min(len(values), len(f.Pix))
	for i := 0; i < n; i++ {
		v, ok := compositor.ToFloat(values[i])
		if !ok {
			return fmt.Errorf("out[%d] is not a number", i)
		}
		f.Pix[i] = clampByte(v)
	}
	return nil
}
