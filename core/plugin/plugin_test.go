package plugin

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

func solidFrame(w, h int, r, g, b uint8) *model.Frame {
	f := model.NewFrame(w, h)
	f.Fill(r, g, b)
	return f
}

func process(t *testing.T, e compositor.EffectStage, in *model.Frame) *model.Frame {
	t.Helper()
	out, err := e.Process(in, &compositor.EffectContext{Canvas: in.Canvas()})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func assertPixel(t *testing.T, f *model.Frame, x, y int, want [3]uint8) {
	t.Helper()
	r, g, b := f.At(x, y)
	if [3]uint8{r, g, b} != want {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, [3]uint8{r, g, b}, want)
	}
}

func TestBuiltinEffects(t *testing.T) {
	reg := Builtin(nil)
	tests := []struct {
		id     string
		params map[string]interface{}
		in     [3]uint8
		want   [3]uint8
	}{
		{EffectBrightness, map[string]interface{}{"level": 0.5}, [3]uint8{200, 100, 50}, [3]uint8{100, 50, 25}},
		{EffectBrightness, nil, [3]uint8{200, 100, 50}, [3]uint8{200, 100, 50}},
		{EffectInvert, nil, [3]uint8{10, 128, 255}, [3]uint8{245, 127, 0}},
		{EffectInvert, map[string]interface{}{"amount": 0}, [3]uint8{10, 128, 255}, [3]uint8{10, 128, 255}},
		{EffectTint, map[string]interface{}{"r": 255, "g": 0, "b": 0, "strength": 1}, [3]uint8{100, 100, 100}, [3]uint8{100, 0, 0}},
	}
	for _, tt := range tests {
		e, err := reg.NewEffect(tt.id, tt.params)
		if err != nil {
			t.Fatalf("%s: %v", tt.id, err)
		}
		in := solidFrame(2, 2, tt.in[0], tt.in[1], tt.in[2])
		out := process(t, e, in)
		assertPixel(t, out, 1, 1, tt.want)
		assertPixel(t, in, 1, 1, tt.in)
	}
}

func TestMirror(t *testing.T) {
	in := model.NewFrame(3, 2)
	in.Set(0, 0, 255, 0, 0)

	out := process(t, NewMirror(), in)
	assertPixel(t, out, 2, 0, [3]uint8{255, 0, 0})
	assertPixel(t, out, 0, 0, [3]uint8{0, 0, 0})

	m := NewMirror()
	if !m.UpdateParameter("axis", "vertical") {
		t.Fatal("axis update rejected")
	}
	assertPixel(t, process(t, m, in), 0, 1, [3]uint8{255, 0, 0})

	m.UpdateParameter("axis", "diagonal")
	if _, err := m.Process(in, nil); err == nil {
		t.Error("unknown axis should fail")
	}
}

func TestEffectParameters(t *testing.T) {
	e := NewBrightness()
	if e.UpdateParameter("nope", 1) {
		t.Error("unknown parameter accepted")
	}
	if e.UpdateParameter("level", "bright") {
		t.Error("non-numeric level accepted")
	}
	if !e.UpdateParameter("level", "0.25") {
		t.Error("numeric string rejected")
	}
	if got := e.CurrentParameters()["level"]; got != 0.25 {
		t.Errorf("level = %v", got)
	}
	if err := e.Initialize(map[string]interface{}{"gain": 2}); err == nil {
		t.Error("Initialize should reject unknown parameters")
	}
}

func TestLuaEffect(t *testing.T) {
	reg := Builtin(nil)
	e, err := reg.NewEffect(EffectLua, map[string]interface{}{
		"script": "function process(r, g, b, x, y, t) return b, g, r + x end",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := process(t, e, solidFrame(2, 1, 10, 20, 30))
	assertPixel(t, out, 0, 0, [3]uint8{30, 20, 10})
	assertPixel(t, out, 1, 0, [3]uint8{30, 20, 11})

	if e.UpdateParameter("script", "function process(") {
		t.Error("broken script accepted")
	}
	assertPixel(t, process(t, e, solidFrame(1, 1, 1, 2, 3)), 0, 0, [3]uint8{3, 2, 1})

	if _, err := reg.NewEffect(EffectLua, map[string]interface{}{"script": "x = 1"}); err == nil {
		t.Error("script without process should fail")
	}
	if _, err := reg.NewEffect(EffectLua, map[string]interface{}{"script": "require('os')"}); err == nil {
		t.Error("require must not be available")
	}

	failing, _ := reg.NewEffect(EffectLua, map[string]interface{}{"script": "function process() error('boom') end"})
	if _, err := failing.Process(solidFrame(1, 1, 0, 0, 0), nil); err == nil {
		t.Error("runtime error should surface")
	}
	_ = e.(*LuaEffect).Close()
}

func TestAudioLevel(t *testing.T) {
	features := &StaticFeatures{}
	reg := Builtin(features)
	e, err := reg.NewEffect(EffectAudioLevel, map[string]interface{}{"band": "bass", "floor": 0})
	if err != nil {
		t.Fatal(err)
	}

	assertPixel(t, process(t, e, solidFrame(1, 1, 200, 200, 200)), 0, 0, [3]uint8{0, 0, 0})
	features.Update(FeatureSnapshot{Bass: 0.5})
	assertPixel(t, process(t, e, solidFrame(1, 1, 200, 200, 200)), 0, 0, [3]uint8{100, 100, 100})

	e.UpdateParameter("band", "sub")
	if _, err := e.Process(solidFrame(1, 1, 0, 0, 0), nil); err == nil {
		t.Error("unknown band should fail")
	}
}

func TestRegistry(t *testing.T) {
	reg := Builtin(nil)
	if got := reg.Effects(); len(got) != 6 || got[0] != EffectAudioLevel {
		t.Errorf("effects = %v", got)
	}
	if got := reg.Sources(); len(got) != 5 {
		t.Errorf("sources = %v", got)
	}
	if _, err := reg.NewEffect("blur", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("err = %v", err)
	}
	if _, err := reg.NewSource("video", SourceRequest{}); !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("err = %v", err)
	}
}

var canvas = model.Canvas{Width: 9, Height: 9}

func TestGeneratorSources(t *testing.T) {
	reg := Builtin(nil)

	solid, err := reg.NewSource(SourceSolid, SourceRequest{Canvas: canvas, Params: map[string]interface{}{"r": 1, "g": 2, "b": 3}})
	if err != nil {
		t.Fatal(err)
	}
	f, _, ok := solid.NextFrame()
	if !ok {
		t.Fatal("solid source exhausted")
	}
	assertPixel(t, f, 4, 4, [3]uint8{1, 2, 3})

	grad, err := reg.NewSource(SourceGradient, SourceRequest{Canvas: canvas, Params: map[string]interface{}{"frames": 3}})
	if err != nil {
		t.Fatal(err)
	}
	seek, ok := grad.(compositor.Seekable)
	if !ok || seek.FrameCount() != 3 {
		t.Fatal("finite gradient should be seekable with 3 frames")
	}
	first, _, _ := grad.NextFrame()
	for i := 0; i < 2; i++ {
		if _, _, ok := grad.NextFrame(); !ok {
			t.Fatalf("frame %d missing", i+1)
		}
	}
	if _, _, ok := grad.NextFrame(); ok {
		t.Error("gradient should be exhausted after 3 frames")
	}
	_ = seek.Seek(0)
	again, _, _ := grad.NextFrame()
	if string(again.Pix) != string(first.Pix) {
		t.Error("seek(0) should reproduce the first frame")
	}
	if err := seek.Seek(3); err == nil {
		t.Error("seek past end accepted")
	}
}

func TestShapeSource(t *testing.T) {
	src, err := Builtin(nil).NewSource(SourceShape, SourceRequest{Canvas: canvas, Shape: model.ClipShape{Size: 50, Scale: 1}})
	if err != nil {
		t.Fatal(err)
	}
	f, _, _ := src.NextFrame()
	assertPixel(t, f, 4, 4, [3]uint8{255, 255, 255})
	assertPixel(t, f, 0, 0, [3]uint8{0, 0, 0})

	moved, _ := newShapeSource(canvas, model.ClipShape{Size: 20, Scale: 1, PositionX: 3}, nil)
	f, _, _ = moved.NextFrame()
	assertPixel(t, f, 7, 4, [3]uint8{255, 255, 255})
	assertPixel(t, f, 4, 4, [3]uint8{0, 0, 0})

	if _, err := newShapeSource(canvas, model.DefaultShape(), map[string]interface{}{"kind": "star"}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestTengoSource(t *testing.T) {
	script := `
out = []
for i := 0; i < width * height; i++ {
	out = append(out, frame * 10, i, 300)
}
`
	src, err := Builtin(nil).NewSource(SourceTengo, SourceRequest{
		Canvas: model.Canvas{Width: 2, Height: 2},
		Params: map[string]interface{}{"script": script, "frames": 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	f, _, _ := src.NextFrame()
	assertPixel(t, f, 1, 1, [3]uint8{0, 3, 255})
	f, _, _ = src.NextFrame()
	assertPixel(t, f, 0, 0, [3]uint8{10, 0, 255})

	if _, err := Builtin(nil).NewSource(SourceTengo, SourceRequest{Params: map[string]interface{}{"script": "out = ["}}); err == nil {
		t.Error("compile error should fail")
	}
}

func TestRunawayScriptsAreInterrupted(t *testing.T) {
	reg := Builtin(nil)
	fx, err := reg.NewEffect(EffectLua, map[string]interface{}{
		"script": "function process(r, g, b, x, y, t) while true do end end",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fx.(*LuaEffect).Close()

	done := make(chan error, 1)
	go func() {
		_, err := fx.Process(solidFrame(2, 2, 0, 0, 0), &compositor.EffectContext{Budget: 20 * time.Millisecond})
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("runaway lua process should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lua process not interrupted")
	}

	if _, err := reg.NewEffect(EffectLua, map[string]interface{}{"script": "while true do end"}); err == nil {
		t.Error("runaway top-level script should fail to load")
	}

	src, err := reg.NewSource(SourceTengo, SourceRequest{
		Canvas: model.Canvas{Width: 2, Height: 2},
		Params: map[string]interface{}{"script": "for {}", "fps": 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	frames := make(chan *model.Frame, 1)
	go func() {
		f, _, _ := src.NextFrame()
		frames <- f
	}()
	select {
	case f := <-frames:
		if f == nil {
			t.Fatal("tengo source should still produce a frame")
		}
		assertPixel(t, f, 0, 0, [3]uint8{0, 0, 0})
	case <-time.After(2 * time.Second):
		t.Fatal("tengo script not interrupted")
	}
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestImageSequence(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), color.RGBA{0, 0, 255, 255})
	writePNG(t, filepath.Join(dir, "001.png"), color.RGBA{255, 0, 0, 255})
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)

	loader := NewClipLoader(Builtin(nil), filepath.Dir(dir))
	clip := &model.Clip{Name: "seq", Source: SourceImageSequence, Path: filepath.Base(dir)}
	src, shape, err := loader.Load(context.Background(), clip, model.Canvas{Width: 2, Height: 2})
	if err != nil {
		t.Fatal(err)
	}
	if shape != model.DefaultShape() {
		t.Errorf("shape = %+v", shape)
	}
	seq := src.(*ImageSequence)
	if seq.FrameCount() != 2 {
		t.Fatalf("frames = %d", seq.FrameCount())
	}
	f, _, _ := seq.NextFrame()
	assertPixel(t, f, 1, 1, [3]uint8{255, 0, 0})
	_ = seq.Seek(1)
	f, _, _ = seq.NextFrame()
	assertPixel(t, f, 0, 0, [3]uint8{0, 0, 255})
	if _, _, ok := seq.NextFrame(); ok {
		t.Error("sequence should be exhausted")
	}
	_ = seq.Close()
	if seq.FrameCount() != 0 {
		t.Error("close should release frames")
	}
}

func TestClipLoaderErrors(t *testing.T) {
	loader := NewClipLoader(Builtin(nil), t.TempDir())
	ctx := context.Background()
	canvas := model.Canvas{Width: 2, Height: 2}

	_, _, err := loader.Load(ctx, &model.Clip{Name: "gone", Source: SourceImageSequence, Path: "missing"}, canvas)
	if !errors.Is(err, ErrClipLoad) {
		t.Errorf("missing file: %v", err)
	}
	_, _, err = loader.Load(ctx, &model.Clip{Name: "video", Source: "ffmpeg"}, canvas)
	if !errors.Is(err, ErrClipLoad) || !errors.Is(err, ErrUnknownPlugin) {
		t.Errorf("unknown plugin: %v", err)
	}
	_, _, err = loader.Load(ctx, &model.Clip{Name: "empty"}, canvas)
	if !errors.Is(err, ErrClipLoad) {
		t.Errorf("no source: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := loader.Load(cancelled, &model.Clip{Source: SourceSolid}, canvas); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: %v", err)
	}

	fb := loader.Fallback(canvas, model.DefaultShape())
	if f, _, ok := fb.NextFrame(); !ok || f.Width != 2 {
		t.Error("fallback should always produce frames")
	}
}
