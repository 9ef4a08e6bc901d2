package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/core/transport"
	"Pixmux/model"

	"github.com/google/uuid"
)

const (
	testFPS = 10
	frameDT = 100 * time.Millisecond // 每次 Step 正好推进 1 帧
)

var testCanvas = model.Canvas{Width: 4, Height: 2}

// seekSource 帧内容等于当前帧号，便于断言
type seekSource struct {
	name  string
	count int
	next  int
}

func (s *seekSource) NextFrame() (*model.Frame, time.Duration, bool) {
	if s.next >= s.count {
		return nil, 0, false
	}
	f := model.NewFrameFor(testCanvas)
	f.Fill(uint8(s.next), 0, 0)
	s.next++
	return f, frameDT, true
}
func (s *seekSource) Reset() error { s.next = 0; return nil }
func (s *seekSource) SourceName() string { return s.name }
func (s *seekSource) FrameCount() int { return s.count }
func (s *seekSource) Seek(frame int) error {
	if frame < 0 || frame >= s.count {
		return errors.New("out of range")
	}
	s.next = frame
	return nil
}

// finiteSource 不可定位，取完即耗尽
type finiteSource struct {
	remain, total int
}

func (s *finiteSource) NextFrame() (*model.Frame, time.Duration, bool) {
	if s.remain == 0 {
		return nil, 0, false
	}
	s.remain--
	return model.NewFrameFor(testCanvas), frameDT, true
}
func (s *finiteSource) Reset() error { s.remain = s.total; return nil }
func (s *finiteSource) SourceName() string { return "finite" }

// liveSource 不可定位、无限，帧内容等于已取帧数
type liveSource struct {
	mu   sync.Mutex
	next int
}

func (s *liveSource) NextFrame() (*model.Frame, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := model.NewFrameFor(testCanvas)
	f.Fill(uint8(s.next), 0, 0)
	s.next++
	return f, frameDT, true
}
func (s *liveSource) Reset() error {
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
	return nil
}
func (s *liveSource) SourceName() string { return "live" }
func (s *liveSource) pulled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

type solidSource struct{ v uint8 }

func (s *solidSource) NextFrame() (*model.Frame, time.Duration, bool) {
	f := model.NewFrameFor(testCanvas)
	f.Fill(s.v, s.v, s.v)
	return f, frameDT, true
}
func (s *solidSource) Reset() error { return nil }
func (s *solidSource) SourceName() string { return "solid" }

type fakeLoader struct {
	mu      sync.Mutex
	sources map[string]func() compositor.FrameSource
	shapes  map[string]model.ClipShape
	loads   []string
}

func (l *fakeLoader) Load(_ context.Context, clip *model.Clip, _ model.Canvas) (compositor.FrameSource, model.ClipShape, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, clip.Name)
	factory, ok := l.sources[clip.Name]
	if !ok {
		return nil, model.ClipShape{}, errors.New("clip file not found")
	}
	shape, ok := l.shapes[clip.Name]
	if !ok {
		shape = model.DefaultShape()
	}
	return factory(), shape, nil
}

func (l *fakeLoader) Fallback(model.Canvas, model.ClipShape) compositor.FrameSource {
	return &solidSource{v: 200}
}

func (l *fakeLoader) loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}

func seekableClips(names ...string) (*fakeLoader, []*model.Clip) {
	loader := &fakeLoader{sources: map[string]func() compositor.FrameSource{}}
	var clips []*model.Clip
	for _, name := range names {
		name := name
		loader.sources[name] = func() compositor.FrameSource { return &seekSource{name: name, count: 5} }
		clips = append(clips, &model.Clip{ID: uuid.New(), Name: name})
	}
	return loader, clips
}

func newTestEngine(t *testing.T, cfg Config, loader ClipLoader, clips []*model.Clip) *Engine {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	cfg.Canvas = testCanvas
	cfg.FPS = testFPS
	e, err := New(cfg, loader)
	if err != nil {
		t.Fatal(err)
	}
	e.SetPlaylist(clips)
	e.ApplyRoleDefaults()
	return e
}

func stepN(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.Step(frameDT)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Canvas: testCanvas}, &fakeLoader{}); err == nil {
		t.Error("missing name should fail")
	}
	if _, err := New(Config{Name: "x"}, &fakeLoader{}); err == nil {
		t.Error("invalid canvas should fail")
	}
	if _, err := New(Config{Name: "x", Canvas: testCanvas}, nil); err == nil {
		t.Error("missing loader should fail")
	}
}

func TestMasterPlayOnceAdvancesAndWraps(t *testing.T) {
	loader, clips := seekableClips("A", "B", "C")
	e := newTestEngine(t, Config{Role: transport.RoleMaster, Autoplay: true}, loader, clips)
	if e.Transport().Mode() != transport.ModePlayOnce {
		t.Fatalf("master mode = %v", e.Transport().Mode())
	}

	var mu sync.Mutex
	var indices []int
	e.OnIndexChange(func(_ string, index int) {
		mu.Lock()
		indices = append(indices, index)
		mu.Unlock()
	})

	e.Play(context.Background())
	// 5 帧的片段：位置 1,2,3,4，到达 4 时结束
	stepN(e, 4)
	if idx, _ := e.PlaylistIndex(); idx != 1 {
		t.Fatalf("index after first clip = %d, want 1", idx)
	}
	stepN(e, 8)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Fatalf("playlist should wrap to 0, got %d", idx)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2, 0}
	if len(indices) != len(want) {
		t.Fatalf("indices = %v, want %v", indices, want)
	}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", indices, want)
		}
	}
}

func TestSeekableSourceFollowsTransport(t *testing.T) {
	loader, clips := seekableClips("A")
	e := newTestEngine(t, Config{}, loader, clips)
	e.Play(context.Background())

	for want := 1; want <= 4; want++ {
		f := e.Step(frameDT)
		if r, _, _ := f.At(0, 0); int(r) != want {
			t.Fatalf("frame %d shows source frame %d", want, r)
		}
	}
	// Repeat 模式绕回起点
	if r, _, _ := e.Step(frameDT).At(0, 0); r != 0 {
		t.Errorf("after wrap frame = %d, want 0", r)
	}

	if err := e.SetTransportParam(transport.ParamReverse, true); err != nil {
		t.Fatal(err)
	}
	if r, _, _ := e.Step(frameDT).At(0, 0); r != 4 {
		t.Errorf("reverse from 0 should wrap to 4, got %d", r)
	}
}

func TestAutoplayDisabledHolds(t *testing.T) {
	loader, clips := seekableClips("A", "B")
	e := newTestEngine(t, Config{Role: transport.RoleMaster, Autoplay: false}, loader, clips)
	_ = e.SetTransportParam(transport.ParamPlaybackMode, "play_once")
	e.Play(context.Background())

	stepN(e, 20)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Errorf("index = %d, want hold on 0", idx)
	}
	if e.Transport().Position() != 4 {
		t.Errorf("position = %v, want held at trim out", e.Transport().Position())
	}
	if e.Stats().ClipsFinished != 1 {
		t.Errorf("clips finished = %d", e.Stats().ClipsFinished)
	}

	if got := e.Next(context.Background()); got != 1 {
		t.Errorf("Next = %d", got)
	}
	if got := e.Next(context.Background()); got != 1 {
		t.Errorf("Next without autoplay should hold on last clip, got %d", got)
	}
	if got := e.Previous(context.Background()); got != 0 {
		t.Errorf("Previous = %d", got)
	}
}

func TestLoopCountAdvancesPlaylist(t *testing.T) {
	loader, clips := seekableClips("A", "B")
	e := newTestEngine(t, Config{Autoplay: true, Preferences: transport.Preferences{Speed: 1, LoopCount: 2}}, loader, clips)
	e.Play(context.Background())

	// 5 帧一圈，第 2 次绕回发生在第 10 步
	stepN(e, 9)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Fatalf("advanced too early: %d", idx)
	}
	e.Step(frameDT)
	if idx, _ := e.PlaylistIndex(); idx != 1 {
		t.Fatalf("index = %d, want 1 after 2 loops", idx)
	}
}

func TestInfiniteLoopNeverAdvances(t *testing.T) {
	loader, clips := seekableClips("A", "B")
	e := newTestEngine(t, Config{Autoplay: true}, loader, clips)
	e.Play(context.Background())

	stepN(e, 50)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Errorf("loop_count 0 must keep looping, index = %d", idx)
	}
	if got := e.Stats().LoopsCompleted; got != 10 {
		t.Errorf("loops = %d, want 10", got)
	}
}

func TestSlaveNeverSelfAdvances(t *testing.T) {
	loader, clips := seekableClips("A", "B")
	e := newTestEngine(t, Config{Role: transport.RoleSlave, Autoplay: true}, loader, clips)
	_ = e.SetTransportParam(transport.ParamPlaybackMode, "play_once")
	e.Play(context.Background())

	stepN(e, 30)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Errorf("slave advanced to %d", idx)
	}
}

func TestSourceExhaustionActsAsClipFinished(t *testing.T) {
	loader := &fakeLoader{sources: map[string]func() compositor.FrameSource{
		"gen": func() compositor.FrameSource { return &finiteSource{remain: 3, total: 3} },
		"B":   func() compositor.FrameSource { return &solidSource{v: 1} },
	}}
	clips := []*model.Clip{{Name: "gen"}, {Name: "B"}}
	e := newTestEngine(t, Config{Role: transport.RoleMaster, Autoplay: true}, loader, clips)
	e.Play(context.Background())

	stepN(e, 3)
	if idx, _ := e.PlaylistIndex(); idx != 0 {
		t.Fatalf("index = %d before exhaustion", idx)
	}
	e.Step(frameDT)
	if idx, _ := e.PlaylistIndex(); idx != 1 {
		t.Fatalf("exhausted source should advance, index = %d", idx)
	}
}

func TestStoppedEngineHoldsLiveSource(t *testing.T) {
	live := &liveSource{}
	loader := &fakeLoader{sources: map[string]func() compositor.FrameSource{
		"live": func() compositor.FrameSource { return live },
	}}
	e := newTestEngine(t, Config{}, loader, []*model.Clip{{Name: "live"}})
	e.Play(context.Background())

	for want := 0; want < 3; want++ {
		if r, _, _ := e.Step(frameDT).At(0, 0); int(r) != want {
			t.Fatalf("playing frame = %d, want %d", r, want)
		}
	}

	e.StopPlayback()
	var stopped []uint8
	for i := 0; i < 3; i++ {
		r, _, _ := e.Step(frameDT).At(0, 0)
		stopped = append(stopped, r)
	}
	for _, r := range stopped {
		if r != 0 {
			t.Fatalf("stopped frames = %v, want still frame at clip start", stopped)
		}
	}
	if got := live.pulled(); got != 1 {
		t.Errorf("source pulled %d times after stop, want 1", got)
	}

	e.Play(context.Background())
	e.Step(frameDT)
	e.Pause()
	held := live.pulled()
	stepN(e, 3)
	if got := live.pulled(); got != held {
		t.Errorf("paused engine pulled the source: %d -> %d", held, got)
	}
	e.Resume()
	e.Step(frameDT)
	if got := live.pulled(); got != held+1 {
		t.Errorf("resumed engine should pull again: %d -> %d", held, got)
	}
}

func TestMissingClipFallsBackToDefaults(t *testing.T) {
	loader := &fakeLoader{
		sources: map[string]func() compositor.FrameSource{},
	}
	clips := []*model.Clip{{Name: "missing", Path: "/nope.mp4"}}
	e := newTestEngine(t, Config{}, loader, clips)
	e.Play(context.Background())

	f := e.Step(frameDT)
	if f == nil {
		t.Fatal("engine must keep producing frames")
	}
	if r, _, _ := f.At(0, 0); r != 200 {
		t.Errorf("fallback source not used, pixel = %d", r)
	}
	snap := e.Snapshot()
	if snap.Shape != model.DefaultShape() {
		t.Errorf("shape = %+v, want defaults", snap.Shape)
	}
	if snap.Shape.Size != 100 || snap.Shape.PositionX != 0 || snap.Shape.PositionY != 0 ||
		snap.Shape.Rotation != 0 || snap.Shape.Scale != 1 {
		t.Errorf("unexpected default shape %+v", snap.Shape)
	}
	if snap.Stats.ClipLoadFailures != 1 {
		t.Errorf("load failures = %d", snap.Stats.ClipLoadFailures)
	}
}

func TestLoadClipByIndexClampsAndStops(t *testing.T) {
	loader, clips := seekableClips("A", "B")
	e := newTestEngine(t, Config{}, loader, clips)
	e.Play(context.Background())

	if got := e.LoadClipByIndex(context.Background(), 7); got != 1 {
		t.Errorf("clamped index = %d, want 1", got)
	}
	if e.Transport().State() != transport.StateStopped {
		t.Errorf("state = %v, want stopped", e.Transport().State())
	}

	e.SetPlaylist(nil)
	if got := e.LoadClipByIndex(context.Background(), 0); got != -1 {
		t.Errorf("empty playlist = %d, want -1", got)
	}
}

type captureSink struct {
	count atomic.Int64
	last  atomic.Pointer[model.Frame]
}

func (s *captureSink) Publish(_ string, f *model.Frame) {
	s.count.Add(1)
	s.last.Store(f)
}

func TestSinksRecorderAndFreshFrames(t *testing.T) {
	loader, clips := seekableClips("A")
	e := newTestEngine(t, Config{RecorderSize: 3}, loader, clips)
	sink := &captureSink{}
	e.AddSink(sink)
	e.Play(context.Background())

	first := e.Step(frameDT)
	stepN(e, 4)

	if sink.count.Load() != 5 {
		t.Errorf("sink got %d frames", sink.count.Load())
	}
	if sink.last.Load() != e.LastFrame() {
		t.Error("sink and last frame disagree")
	}
	if first == e.LastFrame() {
		t.Error("engine must allocate a fresh frame per tick")
	}
	if r, _, _ := first.At(0, 0); r != 1 {
		t.Errorf("published frame was mutated, pixel = %d", r)
	}
	frames := e.Recorder().Frames()
	if len(frames) != 3 || frames[0].Index != 3 || frames[2].Index != 5 {
		t.Errorf("recorder holds %d frames, first index %d", len(frames), frames[0].Index)
	}
}

type doubleEffect struct{}

func (doubleEffect) ID() string { return "double" }
func (doubleEffect) Initialize(map[string]interface{}) error { return nil }
func (doubleEffect) UpdateParameter(string, interface{}) bool { return false }
func (doubleEffect) CurrentParameters() map[string]interface{} { return nil }
func (doubleEffect) Process(f *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	out := f.Clone()
	for i := range out.Pix {
		out.Pix[i] *= 2
	}
	return out, nil
}

func TestLayersAndGlobalEffects(t *testing.T) {
	loader, clips := seekableClips("A")
	e := newTestEngine(t, Config{}, loader, clips)
	e.Play(context.Background())

	id := e.AddLayer(&solidSource{v: 10}, compositor.LayerSettings{BlendMode: compositor.BlendAdd, Opacity: 1, Enabled: true})
	e.SetGlobalEffects(doubleEffect{})

	f := e.Step(frameDT)
	// 底层红通道为帧号 1，叠加 10 后乘 2
	if r, g, _ := f.At(0, 0); r != 22 || g != 20 {
		t.Errorf("pixel = (%d,%d), want (22,20)", r, g)
	}

	if err := e.SetLayer(id, compositor.LayerSettings{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if err := e.ReorderLayer(id, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveLayer(id); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveLayer(id); !errors.Is(err, compositor.ErrLayerNotFound) {
		t.Errorf("second remove: %v", err)
	}
}

func TestRunLoopPauseResumeStop(t *testing.T) {
	loader, clips := seekableClips("A")
	e, err := New(Config{Name: "live", Canvas: testCanvas, FPS: 200}, loader)
	if err != nil {
		t.Fatal(err)
	}
	e.SetPlaylist(clips)
	e.Play(context.Background())

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start: %v", err)
	}

	waitFor(t, func() bool { return e.Stats().Frames > 3 })

	e.Pause()
	time.Sleep(30 * time.Millisecond)
	paused := e.Stats().Frames
	time.Sleep(50 * time.Millisecond)
	if got := e.Stats().Frames; got != paused {
		t.Errorf("frames advanced while paused: %d -> %d", paused, got)
	}

	e.Resume()
	waitFor(t, func() bool { return e.Stats().Frames > paused+3 })

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.Running() {
		t.Error("engine still running")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("stop is idempotent: %v", err)
	}
}

func TestStopWhilePaused(t *testing.T) {
	loader, clips := seekableClips("A")
	e, _ := New(Config{Name: "p", Canvas: testCanvas, FPS: 100}, loader)
	e.SetPlaylist(clips)
	e.Play(context.Background())
	_ = e.Start(context.Background())
	e.Pause()

	done := make(chan error, 1)
	go func() { done <- e.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop blocked on paused engine")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPlaylistStepAndClamp(t *testing.T) {
	p := NewPlaylist([]*model.Clip{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	if got := p.Step(1, true); got != 1 {
		t.Errorf("step = %d", got)
	}
	p.SetCurrent(2)
	if got := p.Step(1, true); got != 0 {
		t.Errorf("wrap = %d", got)
	}
	if got := p.Step(1, false); got != 2 {
		t.Errorf("hold = %d", got)
	}
	p.SetCurrent(0)
	if got := p.Step(-1, true); got != 2 {
		t.Errorf("wrap backwards = %d", got)
	}
	if idx, clamped := p.Clamp(5); idx != 2 || !clamped {
		t.Errorf("clamp = %d %v", idx, clamped)
	}
	if idx, _ := NewPlaylist(nil).Clamp(0); idx != -1 {
		t.Errorf("empty clamp = %d", idx)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("snapshot = %v", got)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Error("reset should empty the buffer")
	}
}

func TestRegistry(t *testing.T) {
	loader, _ := seekableClips()
	reg := NewRegistry()
	for _, name := range []string{"b", "a"} {
		e, _ := New(Config{Name: name, Canvas: testCanvas}, loader)
		reg.Register(e)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "a" {
		t.Errorf("names = %v", names)
	}
	if _, ok := reg.Get("a"); !ok {
		t.Error("a not found")
	}
	reg.Unregister("a")
	if _, ok := reg.Get("a"); ok {
		t.Error("a still registered")
	}
}
