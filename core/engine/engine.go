package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/core/transport"
	"Pixmux/logger"
	"Pixmux/model"
)

const (
	defaultFPS         = 30
	defaultStopTimeout = 2 * time.Second
)

var (
	// ErrAlreadyRunning 重复启动
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrStopTimeout 播放协程未在超时内退出
	ErrStopTimeout = errors.New("engine stop timed out")
)

// FrameSink 合成帧的下游（Art-Net 输出、预览等），Publish 必须立即返回
type FrameSink interface {
	Publish(engine string, frame *model.Frame)
}

// ClipLoader 把片段解析为帧源
type ClipLoader interface {
	Load(ctx context.Context, clip *model.Clip, canvas model.Canvas) (compositor.FrameSource, model.ClipShape, error)
	// Fallback 加载失败时使用的兜底源
	Fallback(canvas model.Canvas, shape model.ClipShape) compositor.FrameSource
}

// IndexListener 播放列表下标变化回调，在锁外调用
type IndexListener func(engine string, index int)

// Config 引擎配置
type Config struct {
	Name                string
	Canvas              model.Canvas
	FPS                 int
	Role                transport.Role
	Autoplay            bool
	Preferences         transport.Preferences
	PreservePreferences bool
	// RecorderSize 大于 0 时启用录制缓冲
	RecorderSize int
	StopTimeout  time.Duration
}

// Engine 一个逻辑输出的播放引擎：图层栈 + 传输状态机 + 定时生产循环
type Engine struct {
	cfg        Config
	period     time.Duration
	loader     ClipLoader
	compositor *compositor.Compositor
	layers     *compositor.LayerStack
	transport  *transport.Transport
	recorder   *Recorder

	// mu 保护播放列表下标与片段相关的多字段切换
	mu            sync.Mutex
	playlist      *Playlist
	shape         model.ClipShape
	globalEffects []compositor.EffectStage
	sinks         []FrameSink
	listeners     []IndexListener
	role          transport.Role
	autoplay      bool

	// resumeAfterClamp 因下标越界被停下前正在播放，回到范围内时恢复
	resumeAfterClamp bool

	// loadMu 串行化片段加载
	loadMu sync.Mutex

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool
	stopping  bool

	lifeMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// baseDone 本片段的源耗尽已经处理过
	baseDone   atomic.Bool
	lastFrame  atomic.Pointer[model.Frame]
	frameIndex atomic.Uint64
	started    time.Time
	stats      Stats
}

// New 创建引擎
func New(cfg Config, loader ClipLoader) (*Engine, error) {
	if cfg.Name == "" {
		return nil, errors.New("engine name is required")
	}
	if !cfg.Canvas.Valid() {
		return nil, fmt.Errorf("engine %s: invalid canvas %dx%d", cfg.Name, cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if loader == nil {
		return nil, fmt.Errorf("engine %s: clip loader is required", cfg.Name)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = defaultFPS
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	tr := transport.New(cfg.Preferences)
	tr.SetPreservePreferences(cfg.PreservePreferences)

	e := &Engine{
		cfg:        cfg,
		period:     time.Second / time.Duration(cfg.FPS),
		loader:     loader,
		compositor: compositor.New(cfg.Canvas),
		layers:     compositor.NewLayerStack(),
		transport:  tr,
		playlist:   NewPlaylist(nil),
		shape:      model.DefaultShape(),
		role:       cfg.Role,
		autoplay:   cfg.Autoplay,
		started:    time.Now(),
	}
	e.pauseCond = sync.NewCond(&e.pauseMu)
	if cfg.RecorderSize > 0 {
		e.recorder = NewRecorder(cfg.RecorderSize)
	}
	return e, nil
}

// Name 引擎名
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Canvas 画布尺寸
func (e *Engine) Canvas() model.Canvas {
	return e.cfg.Canvas
}

// FPS 帧率
func (e *Engine) FPS() int {
	return e.cfg.FPS
}

// Transport 传输状态机
func (e *Engine) Transport() *transport.Transport {
	return e.transport
}

// Layers 图层栈
func (e *Engine) Layers() *compositor.LayerStack {
	return e.layers
}

// Recorder 录制缓冲，未启用时为 nil
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// LastFrame 最近一次合成的帧，只读共享
func (e *Engine) LastFrame() *model.Frame {
	return e.lastFrame.Load()
}

// Stats 计数器快照
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// AddSink 添加帧下游
func (e *Engine) AddSink(sink FrameSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// SetGlobalEffects 替换合成后的全局效果链
func (e *Engine) SetGlobalEffects(effects ...compositor.EffectStage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalEffects = effects
}

// OnIndexChange 注册播放列表下标变化回调
func (e *Engine) OnIndexChange(fn IndexListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// ========== 生命周期 ==========

// Start 启动生产循环
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	e.pauseMu.Lock()
	e.stopping = false
	e.pauseMu.Unlock()

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true

	go e.run(ctx, e.stopCh, e.doneCh)

	logger.Info("播放引擎已启动",
		logger.Engine(e.cfg.Name),
		logger.Int("fps", e.cfg.FPS),
		logger.String("role", e.role.String()))
	return nil
}

// Stop 协作式停止，最多等待 StopTimeout
func (e *Engine) Stop() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	e.pauseMu.Lock()
	e.stopping = true
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
	close(e.stopCh)

	select {
	case <-e.doneCh:
		logger.Info("播放引擎已停止", logger.Engine(e.cfg.Name))
		return nil
	case <-time.After(e.cfg.StopTimeout):
		logger.Error("播放引擎停止超时", logger.Engine(e.cfg.Name), logger.Duration("timeout", e.cfg.StopTimeout))
		return ErrStopTimeout
	}
}

// Close 停止引擎并释放所有图层源
func (e *Engine) Close() error {
	err := e.Stop()
	e.layers.Close()
	return err
}

// Running 是否在运行
func (e *Engine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		waited, ok := e.waitWhilePaused()
		if !ok {
			return
		}
		if waited {
			// 暂停期间的时间不计入 dt
			last = time.Now()
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			e.tick(dt)
		}
	}
}

// waitWhilePaused 暂停时阻塞在条件变量上，返回是否等待过以及是否应继续运行
func (e *Engine) waitWhilePaused() (waited bool, ok bool) {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	for e.paused && !e.stopping {
		waited = true
		e.pauseCond.Wait()
	}
	return waited, !e.stopping
}

// Step 手动推进一帧，返回合成结果
// 引擎未启动时可用它驱动，测试和离线渲染都走这里
func (e *Engine) Step(dt time.Duration) *model.Frame {
	return e.tick(dt)
}

func (e *Engine) tick(dt time.Duration) *model.Frame {
	start := time.Now()

	wrapsBefore := e.transport.Wraps()
	signal := e.transport.Advance(dt.Seconds() * float64(e.cfg.FPS))
	position := e.transport.Position()

	e.mu.Lock()
	shape := e.shape
	globals := e.globalEffects
	sinks := e.sinks
	e.mu.Unlock()

	// 定位在图层锁内进行，并发的片段切换不会让旧源被定位
	seekable := false
	if base := e.layers.Base(); base != nil {
		ok, err := base.SeekSource(int(math.Floor(position)))
		seekable = ok
		if err != nil {
			e.stats.seekFailures.Add(1)
			logger.Warn("帧源定位失败", logger.Engine(e.cfg.Name), logger.Float64("position", position), logger.ErrorField(err))
		}
	}
	if !seekable && e.transport.Wraps() != wrapsBefore {
		// 不可定位的源随传输绕回重新开始
		e.resetBase()
	}

	index := e.frameIndex.Add(1)
	ctx := &compositor.EffectContext{
		Engine:     e.cfg.Name,
		Canvas:     e.cfg.Canvas,
		Time:       time.Since(e.started).Seconds(),
		FrameIndex: index,
		Position:   position,
		Shape:      shape,
		Budget:     e.period,
	}

	// 不可定位的底层只在传输推进时取帧，停止、暂停或结束后定格在上一帧
	var result compositor.Result
	if !seekable && !e.transport.Moving() {
		result = e.compositor.CompositeHeld(ctx, e.layers.Snapshot())
	} else {
		result = e.compositor.Composite(ctx, e.layers.Snapshot())
	}
	frame := compositor.ApplyEffects(result.Frame, globals, ctx)

	e.lastFrame.Store(frame)
	for _, sink := range sinks {
		sink.Publish(e.cfg.Name, frame)
	}
	if e.recorder != nil {
		e.recorder.Record(index, position, frame)
	}

	if signal == transport.SignalNone && result.BaseExhausted &&
		e.transport.State() == transport.StatePlaying && e.baseDone.CompareAndSwap(false, true) {
		signal = transport.SignalClipFinished
	}
	e.handleSignal(signal)

	elapsed := time.Since(start)
	e.stats.frames.Add(1)
	e.stats.lastTickNanos.Store(int64(elapsed))
	if elapsed > e.period {
		e.stats.overruns.Add(1)
	}
	return frame
}

// handleSignal 按自动播放和循环设置决定推进、重播或停留
func (e *Engine) handleSignal(signal transport.Signal) {
	switch signal {
	case transport.SignalLoopCompleted:
		e.stats.loopsCompleted.Add(1)
		if e.transport.Preferences().LoopCount == 0 {
			return
		}
		if e.selfAdvancing() {
			e.advance(1)
		}

	case transport.SignalClipFinished:
		e.stats.clipsFinished.Add(1)
		if e.selfAdvancing() {
			e.advance(1)
			return
		}
		if e.transport.Mode() == transport.ModeRepeat {
			e.transport.Restart()
			e.resetBase()
		}
	}
}

// selfAdvancing 从机不自行推进，等待主机同步
func (e *Engine) selfAdvancing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role != transport.RoleSlave && e.autoplay && e.playlist.Len() > 1
}

// advance 自动推进播放列表（取模回绕）
func (e *Engine) advance(delta int) {
	e.mu.Lock()
	next := e.playlist.Step(delta, true)
	e.mu.Unlock()
	if next < 0 {
		return
	}
	e.loadIndex(context.Background(), next)
}

func (e *Engine) resetBase() {
	e.baseDone.Store(false)
	base := e.layers.Base()
	if base == nil {
		return
	}
	if err := base.ResetSource(); err != nil {
		logger.Warn("帧源重置失败", logger.Engine(e.cfg.Name), logger.ErrorField(err))
	}
}
