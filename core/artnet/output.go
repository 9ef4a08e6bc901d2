package artnet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"Pixmux/core/pixelmap"
	"Pixmux/logger"
	"Pixmux/model"
)

// OutputStats 输出统计
type OutputStats struct {
	Engine       string        `json:"engine"`
	Received     uint64        `json:"received"`
	MailboxDrops uint64        `json:"mailboxDrops"`
	NoMap        uint64        `json:"noMap"`
	Universes    int           `json:"universes"`
	Transmit     TransmitStats `json:"transmit"`
}

// Output 引擎的 Art-Net 下游
// Publish 只把帧放进单槽信箱后立即返回，映射和发送在独立协程中完成，
// 发送慢时新帧覆盖未取走的旧帧并计数
type Output struct {
	engine string
	mapper *pixelmap.Mapper
	maps   *pixelmap.Store
	tx     *Transmitter

	layoutMu sync.RWMutex
	layout   model.OutputLayout

	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *model.Frame

	received  atomic.Uint64
	drops     atomic.Uint64
	noMap     atomic.Uint64
	universes atomic.Int64

	startedMu sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewOutput 创建输出，layout 必须有效
func NewOutput(engine string, layout model.OutputLayout, maps *pixelmap.Store, tx *Transmitter) (*Output, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("输出布局无效: %w", err)
	}
	o := &Output{
		engine: engine,
		mapper: pixelmap.NewMapper(),
		maps:   maps,
		tx:     tx,
		layout: layout,
	}
	o.inboxCond = sync.NewCond(&o.inboxMu)
	// 映射替换后整帧重发
	maps.OnChange(func(*model.PixelMap) { tx.Encoder().Invalidate() })
	return o, nil
}

// Publish 实现 engine.FrameSink
func (o *Output) Publish(engine string, frame *model.Frame) {
	if engine != o.engine {
		return
	}
	o.received.Add(1)

	o.inboxMu.Lock()
	if o.inboxFrame != nil {
		o.drops.Add(1)
	}
	o.inboxFrame = frame
	o.inboxCond.Signal()
	o.inboxMu.Unlock()
}

// Start 启动发送协程
func (o *Output) Start(ctx context.Context) error {
	o.startedMu.Lock()
	defer o.startedMu.Unlock()
	if o.started {
		return fmt.Errorf("output %s already started", o.engine)
	}

	ctx, o.cancel = context.WithCancel(ctx)
	o.started = true

	// ctx 被外部取消时唤醒等待中的发送协程
	context.AfterFunc(ctx, o.wake)

	o.wg.Add(1)
	go o.sendLoop(ctx)

	logger.Info("Art-Net 输出已启动", logger.Engine(o.engine))
	return nil
}

// Stop 停止发送协程，可重复调用
func (o *Output) Stop() error {
	o.startedMu.Lock()
	if !o.started {
		o.startedMu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.startedMu.Unlock()

	cancel()
	o.wake()

	o.wg.Wait()
	logger.Info("Art-Net 输出已停止", logger.Engine(o.engine))
	return nil
}

func (o *Output) wake() {
	o.inboxMu.Lock()
	o.inboxCond.Broadcast()
	o.inboxMu.Unlock()
}

func (o *Output) sendLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		o.inboxMu.Lock()
		for o.inboxFrame == nil && ctx.Err() == nil {
			o.inboxCond.Wait()
		}
		if ctx.Err() != nil {
			o.inboxMu.Unlock()
			return
		}
		frame := o.inboxFrame
		o.inboxFrame = nil
		o.inboxMu.Unlock()

		o.SendFrame(frame)
	}
}

// SendFrame 同步映射并发送一帧（发送协程和离线工具共用）
func (o *Output) SendFrame(frame *model.Frame) {
	pm := o.maps.Current()
	if pm == nil {
		o.noMap.Add(1)
		return
	}
	layout := o.Layout()
	universes := o.mapper.Extract(frame, pm, layout)
	o.universes.Store(int64(len(universes)))
	o.tx.Transmit(universes)
}

// Layout 当前布局
func (o *Output) Layout() model.OutputLayout {
	o.layoutMu.RLock()
	defer o.layoutMu.RUnlock()
	return o.layout
}

// Reconfigure 替换输出布局；无效时返回错误并保留原布局，成功后下一帧整帧重发
func (o *Output) Reconfigure(layout model.OutputLayout) error {
	if err := layout.Validate(); err != nil {
		logger.Warn("输出布局无效，保留原配置", logger.Engine(o.engine), logger.ErrorField(err))
		return fmt.Errorf("输出布局无效: %w", err)
	}
	o.layoutMu.Lock()
	o.layout = layout
	o.layoutMu.Unlock()
	o.tx.Encoder().Invalidate()
	return nil
}

// Stats 统计快照
func (o *Output) Stats() OutputStats {
	return OutputStats{
		Engine:       o.engine,
		Received:     o.received.Load(),
		MailboxDrops: o.drops.Load(),
		NoMap:        o.noMap.Load(),
		Universes:    int(o.universes.Load()),
		Transmit:     o.tx.Stats(),
	}
}

// Engine 绑定的引擎名
func (o *Output) Engine() string {
	return o.engine
}
