package compositor

import (
	"errors"
	"testing"
	"time"

	"Pixmux/model"

	"github.com/google/uuid"
)

type fakeSource struct {
	frame  *model.Frame
	remain int // <0 表示无限
	resets int
	closed bool
}

func (s *fakeSource) NextFrame() (*model.Frame, time.Duration, bool) {
	if s.remain == 0 {
		return nil, 0, false
	}
	if s.remain > 0 {
		s.remain--
	}
	return s.frame.Clone(), time.Second / 30, true
}

func (s *fakeSource) Reset() error {
	s.resets++
	return nil
}

func (s *fakeSource) SourceName() string { return "fake" }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeEffect struct {
	id    string
	err   error
	panic bool
	fill  uint8
	calls int
}

func (e *fakeEffect) ID() string { return e.id }
func (e *fakeEffect) Initialize(map[string]interface{}) error { return nil }
func (e *fakeEffect) UpdateParameter(string, interface{}) bool { return false }
func (e *fakeEffect) CurrentParameters() map[string]interface{} { return nil }
func (e *fakeEffect) Process(f *model.Frame, _ *EffectContext) (*model.Frame, error) {
	e.calls++
	if e.panic {
		panic("boom")
	}
	if e.err != nil {
		return nil, e.err
	}
	out := f.Clone()
	out.Fill(e.fill, e.fill, e.fill)
	return out, nil
}

var testCanvas = model.Canvas{Width: 4, Height: 2}

func infinite(r, g, b uint8) *fakeSource {
	return &fakeSource{frame: solidFrame(4, 2, r, g, b), remain: -1}
}

func TestCompositeNormalOverlayReplacesBase(t *testing.T) {
	stack := NewLayerStack()
	stack.Add(infinite(10, 20, 30), LayerSettings{Enabled: true, BlendMode: BlendMultiply, Opacity: 0.1})
	overlay := model.NewFrame(4, 2)
	for i := range overlay.Pix {
		overlay.Pix[i] = uint8(255 - i)
	}
	stack.Add(&fakeSource{frame: overlay, remain: -1}, LayerSettings{Enabled: true, BlendMode: BlendNormal, Opacity: 1})

	res := New(testCanvas).Composite(&EffectContext{}, stack.Snapshot())
	for i := range overlay.Pix {
		if res.Frame.Pix[i] != overlay.Pix[i] {
			t.Fatalf("byte %d = %d, want %d", i, res.Frame.Pix[i], overlay.Pix[i])
		}
	}
}

func TestCompositeBaseIgnoresBlendSettings(t *testing.T) {
	stack := NewLayerStack()
	stack.Add(infinite(100, 100, 100), LayerSettings{Enabled: true, BlendMode: BlendSubtract, Opacity: 0.2})

	res := New(testCanvas).Composite(&EffectContext{}, stack.Snapshot())
	if r, _, _ := res.Frame.At(0, 0); r != 100 {
		t.Errorf("base pixel = %d, want 100", r)
	}
}

func TestCompositeDisabledBaseIsBlack(t *testing.T) {
	stack := NewLayerStack()
	stack.Add(infinite(100, 100, 100), LayerSettings{Enabled: false, Opacity: 1})
	stack.Add(infinite(50, 50, 50), LayerSettings{Enabled: true, BlendMode: BlendAdd, Opacity: 1})

	res := New(testCanvas).Composite(&EffectContext{}, stack.Snapshot())
	if r, _, _ := res.Frame.At(3, 1); r != 50 {
		t.Errorf("pixel = %d, want 50 (black base + add)", r)
	}
	if res.BaseExhausted {
		t.Error("disabled base must not report exhaustion")
	}
}

func TestCompositeReportsBaseExhaustion(t *testing.T) {
	stack := NewLayerStack()
	src := &fakeSource{frame: solidFrame(4, 2, 9, 9, 9), remain: 1}
	stack.Add(src, LayerSettings{Enabled: true, Opacity: 1})
	c := New(testCanvas)

	if res := c.Composite(&EffectContext{}, stack.Snapshot()); res.BaseExhausted {
		t.Fatal("first frame should be available")
	}
	res := c.Composite(&EffectContext{}, stack.Snapshot())
	if !res.BaseExhausted {
		t.Fatal("expected exhaustion on second pull")
	}
	if r, _, _ := res.Frame.At(0, 0); r != 0 {
		t.Errorf("exhausted base should composite black, got %d", r)
	}

	if err := stack.Base().ResetSource(); err != nil {
		t.Fatal(err)
	}
	if src.resets != 1 || stack.Base().Exhausted() {
		t.Error("reset should clear exhaustion")
	}
}

func TestCompositeHeldFreezesBase(t *testing.T) {
	stack := NewLayerStack()
	src := &fakeSource{frame: solidFrame(4, 2, 9, 9, 9), remain: 2}
	stack.Add(src, LayerSettings{Enabled: true, Opacity: 1})
	overlay := &fakeSource{frame: solidFrame(4, 2, 1, 1, 1), remain: -1}
	stack.Add(overlay, LayerSettings{Enabled: true, BlendMode: BlendAdd, Opacity: 1})
	c := New(testCanvas)

	c.Composite(&EffectContext{}, stack.Snapshot())
	for i := 0; i < 3; i++ {
		res := c.CompositeHeld(&EffectContext{}, stack.Snapshot())
		if r, _, _ := res.Frame.At(0, 0); r != 10 || res.BaseExhausted {
			t.Fatalf("held frame %d: pixel=%d exhausted=%v", i, r, res.BaseExhausted)
		}
	}
	if src.remain != 1 {
		t.Fatalf("held base must not pull, remain = %d", src.remain)
	}

	// 耗尽后定格仍输出最后一帧
	c.Composite(&EffectContext{}, stack.Snapshot())
	if res := c.Composite(&EffectContext{}, stack.Snapshot()); !res.BaseExhausted {
		t.Fatal("expected exhaustion")
	}
	if r, _, _ := c.CompositeHeld(&EffectContext{}, stack.Snapshot()).Frame.At(0, 0); r != 10 {
		t.Errorf("held after exhaustion = %d, want last frame", r)
	}

	// 重置后第一次定格重新取帧
	src.remain = 5
	if err := stack.Base().ResetSource(); err != nil {
		t.Fatal(err)
	}
	c.CompositeHeld(&EffectContext{}, stack.Snapshot())
	c.CompositeHeld(&EffectContext{}, stack.Snapshot())
	if src.remain != 4 {
		t.Errorf("reset base should pull exactly once, remain = %d", src.remain)
	}
}

func TestCompositeSkipsFailingEffects(t *testing.T) {
	failing := &fakeEffect{id: "fail", err: errors.New("bad")}
	panicking := &fakeEffect{id: "panic", panic: true}
	good := &fakeEffect{id: "good", fill: 77}

	stack := NewLayerStack()
	stack.Add(infinite(1, 2, 3), LayerSettings{Enabled: true, Opacity: 1}, failing, panicking, good)

	res := New(testCanvas).Composite(&EffectContext{}, stack.Snapshot())
	if r, _, _ := res.Frame.At(0, 0); r != 77 {
		t.Errorf("pixel = %d, want 77 from the surviving effect", r)
	}
	if failing.calls != 1 || panicking.calls != 1 || good.calls != 1 {
		t.Errorf("each effect should run once: %d %d %d", failing.calls, panicking.calls, good.calls)
	}
}

func TestCompositeReturnsFreshFrames(t *testing.T) {
	stack := NewLayerStack()
	stack.Add(infinite(5, 5, 5), LayerSettings{Enabled: true, Opacity: 1})
	c := New(testCanvas)

	a := c.Composite(&EffectContext{}, stack.Snapshot()).Frame
	b := c.Composite(&EffectContext{}, stack.Snapshot()).Frame
	if a == b || &a.Pix[0] == &b.Pix[0] {
		t.Fatal("composite must allocate a new frame each call")
	}
}

func TestLayerStackOperations(t *testing.T) {
	stack := NewLayerStack()
	first := infinite(1, 1, 1)
	a := stack.Add(first, LayerSettings{Enabled: true, Opacity: 1})
	b := stack.Add(infinite(2, 2, 2), LayerSettings{Enabled: true, Opacity: 1})
	c := stack.Add(infinite(3, 3, 3), LayerSettings{Enabled: true, Opacity: 1})

	if err := stack.Reorder(c, 0); err != nil {
		t.Fatal(err)
	}
	ids := func() []uint32 {
		var out []uint32
		for _, l := range stack.Snapshot() {
			out = append(out, l.ID())
		}
		return out
	}
	if got := ids(); got[0] != c || got[1] != a || got[2] != b {
		t.Fatalf("order after reorder = %v", got)
	}

	if err := stack.Reorder(c, 99); err != nil {
		t.Fatal(err)
	}
	if got := ids(); got[2] != c {
		t.Fatalf("reorder past end should clamp, got %v", got)
	}

	if err := stack.Set(b, LayerSettings{BlendMode: BlendScreen, Opacity: 3, Enabled: false}); err != nil {
		t.Fatal(err)
	}
	layer, _ := stack.Get(b)
	if s := layer.Settings(); s.Opacity != 1 || s.Enabled || s.BlendMode != BlendScreen {
		t.Errorf("settings = %+v", s)
	}

	if err := stack.Remove(a); err != nil {
		t.Fatal(err)
	}
	if !first.closed {
		t.Error("removed layer source should be closed")
	}
	if stack.Len() != 2 {
		t.Errorf("len = %d, want 2", stack.Len())
	}
}

func TestLayerStackMissingLayer(t *testing.T) {
	stack := NewLayerStack()
	if err := stack.Remove(42); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("Remove: %v", err)
	}
	if err := stack.Reorder(42, 0); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("Reorder: %v", err)
	}
	if err := stack.Set(42, LayerSettings{}); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("Set: %v", err)
	}
	if err := stack.SetEffects(42); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("SetEffects: %v", err)
	}
	if stack.Base() != nil {
		t.Error("empty stack has no base")
	}
}

func TestParamSet(t *testing.T) {
	p := NewParamSet(Param{"level", 1.0}, Param{"on", true}, Param{"name", "x"})

	if !p.Set("level", 2) || p.Float("level") != 2 {
		t.Errorf("level = %v", p.Float("level"))
	}
	if !p.Set("on", "false") || p.Bool("on") {
		t.Error("bool conversion from string failed")
	}
	if p.Set("name", 3) {
		t.Error("string param must reject numbers")
	}
	if p.Set("missing", 1) {
		t.Error("unknown param must be rejected")
	}
	if err := p.Apply(map[string]interface{}{"nope": 1}); err == nil {
		t.Error("Apply should fail on unknown param")
	}
	ordered := p.Ordered()
	if len(ordered) != 3 || ordered[0].Name != "level" || ordered[2].Name != "name" {
		t.Errorf("ordered = %+v", ordered)
	}
}

type seekFake struct {
	fakeSource
	count, pos int
}

func (s *seekFake) FrameCount() int { return s.count }
func (s *seekFake) Seek(frame int) error {
	if frame < 0 || frame >= s.count {
		return errors.New("out of range")
	}
	s.pos = frame
	return nil
}

func TestSeekSourceUsesCurrentSource(t *testing.T) {
	stack := NewLayerStack()
	first := &seekFake{fakeSource: fakeSource{frame: solidFrame(4, 2, 1, 1, 1), remain: -1}, count: 5}
	id := stack.Add(first, LayerSettings{Enabled: true, Opacity: 1})
	layer := stack.Base()

	if ok, err := layer.SeekSource(3); !ok || err != nil || first.pos != 3 {
		t.Fatalf("seek = %v %v, pos %d", ok, err, first.pos)
	}
	if ok, err := layer.SeekSource(9); !ok || err == nil {
		t.Errorf("out of range seek = %v %v", ok, err)
	}

	// 替换后的定位只落在新源上
	second := &seekFake{fakeSource: fakeSource{frame: solidFrame(4, 2, 2, 2, 2), remain: -1}, count: 5}
	layer.ReplaceSource(second, uuid.NullUUID{})
	if !first.closed {
		t.Error("replaced source should be closed")
	}
	layer.SeekSource(2)
	if first.pos != 3 || second.pos != 2 {
		t.Errorf("positions = %d / %d", first.pos, second.pos)
	}

	layer.ReplaceSource(infinite(3, 3, 3), uuid.NullUUID{})
	if ok, _ := layer.SeekSource(1); ok {
		t.Error("unseekable source reported as seekable")
	}

	// 移除后旧快照里的图层不再访问源
	if err := stack.Remove(id); err != nil {
		t.Fatal(err)
	}
	if ok, _ := layer.SeekSource(1); ok || layer.Source() != nil {
		t.Error("removed layer still holds its source")
	}
}
