package plugin

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/logger"
	"Pixmux/model"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
)

const defaultMaxSequenceFrames = 3000

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true}

// ImageSequence 目录中按文件名排序的图片序列，加载时缩放到画布尺寸
// 可定位，传输状态机可直接驱动倒放与乒乓
type ImageSequence struct {
	name     string
	duration time.Duration

	mu     sync.Mutex
	frames []*model.Frame
	next   int
}

func newImageSequenceSource(req SourceRequest) (compositor.FrameSource, error) {
	seq, err := LoadImageSequence(req.Path, req.Canvas, int(paramFloat(req.Params, "max_frames", defaultMaxSequenceFrames)))
	if err != nil {
		return nil, err
	}
	seq.duration = frameDuration(req.Params)
	return seq, nil
}

// LoadImageSequence 读取目录下的全部图片
func LoadImageSequence(dir string, canvas model.Canvas, maxFrames int) (*ImageSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("image_sequence: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("image_sequence: no images in %s", dir)
	}
	if maxFrames > 0 && len(files) > maxFrames {
		logger.Warn("图片序列过长，已截断",
			logger.String("dir", dir),
			logger.Int("files", len(files)),
			logger.Int("maxFrames", maxFrames))
		files = files[:maxFrames]
	}

	seq := &ImageSequence{
		name:     SourceImageSequence + ":" + filepath.Base(dir),
		duration: time.Second / defaultSourceFPS,
		frames:   make([]*model.Frame, 0, len(files)),
	}
	for _, path := range files {
		frame, err := decodeFrame(path, canvas)
		if err != nil {
			return nil, err
		}
		seq.frames = append(seq.frames, frame)
	}
	return seq, nil
}

func decodeFrame(path string, canvas model.Canvas) (*model.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image_sequence: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image_sequence: decode %s: %w", filepath.Base(path), err)
	}
	return FrameFromImage(img, canvas), nil
}

// FrameFromImage 双线性缩放到画布尺寸
func FrameFromImage(img image.Image, canvas model.Canvas) *model.Frame {
	scaled := image.NewRGBA(image.Rect(0, 0, canvas.Width, canvas.Height))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	frame := model.NewFrameFor(canvas)
	for y := 0; y < canvas.Height; y++ {
		for x := 0; x < canvas.Width; x++ {
			i := scaled.PixOffset(x, y)
			frame.Set(x, y, scaled.Pix[i], scaled.Pix[i+1], scaled.Pix[i+2])
		}
	}
	return frame
}

func (s *ImageSequence) NextFrame() (*model.Frame, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, 0, false
	}
	f := s.frames[s.next].Clone()
	s.next++
	return f, s.duration, true
}

func (s *ImageSequence) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	return nil
}

func (s *ImageSequence) SourceName() string {
	return s.name
}

func (s *ImageSequence) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *ImageSequence) Seek(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame < 0 || frame >= len(s.frames) {
		return fmt.Errorf("%s: seek %d out of range [0, %d)", s.name, frame, len(s.frames))
	}
	s.next = frame
	return nil
}

// Close 释放已解码的帧
func (s *ImageSequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.next = 0
	return nil
}
