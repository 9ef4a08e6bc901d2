package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// ErrClipLoad 片段无法加载（文件缺失、插件未知、参数无效）
var ErrClipLoad = errors.New("clip load failed")

// ClipLoader 通过插件注册表把片段解析为帧源，实现 engine.ClipLoader
type ClipLoader struct {
	registry  *Registry
	mediaRoot string
}

// NewClipLoader 相对路径以 mediaRoot 为根
func NewClipLoader(registry *Registry, mediaRoot string) *ClipLoader {
	return &ClipLoader{registry: registry, mediaRoot: mediaRoot}
}

// Load 解析片段
func (l *ClipLoader) Load(ctx context.Context, clip *model.Clip, canvas model.Canvas) (compositor.FrameSource, model.ClipShape, error) {
	shape := clip.Shape.Normalized()
	if err := ctx.Err(); err != nil {
		return nil, shape, fmt.Errorf("%w: %s: %w", ErrClipLoad, clip.DisplayName(), err)
	}
	if clip.Source == "" {
		return nil, shape, fmt.Errorf("%w: %s: no source plugin", ErrClipLoad, clip.DisplayName())
	}

	path := l.resolve(clip.Path)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, shape, fmt.Errorf("%w: %s: %w", ErrClipLoad, clip.DisplayName(), err)
		}
	}

	src, err := l.registry.NewSource(clip.Source, SourceRequest{
		Clip:   clip,
		Path:   path,
		Canvas: canvas,
		Shape:  shape,
		Params: clip.Params,
	})
	if err != nil {
		return nil, shape, fmt.Errorf("%w: %s: %w", ErrClipLoad, clip.DisplayName(), err)
	}
	return src, shape, nil
}

func (l *ClipLoader) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || l.mediaRoot == "" {
		return path
	}
	return filepath.Join(l.mediaRoot, path)
}

// Fallback 按默认形状绘制的白色圆
func (l *ClipLoader) Fallback(canvas model.Canvas, shape model.ClipShape) compositor.FrameSource {
	src, _ := newShapeSource(canvas, shape, nil)
	return src
}
