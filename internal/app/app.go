package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"Pixmux/config"
	"Pixmux/core/artnet"
	"Pixmux/core/compositor"
	"Pixmux/core/coordinator"
	"Pixmux/core/engine"
	"Pixmux/core/pixelmap"
	"Pixmux/core/plugin"
	"Pixmux/core/transport"
	"Pixmux/logger"
	"Pixmux/model"
	"Pixmux/repository"
)

// ErrNoPixelMap 有引擎需要 Art-Net 输出但没有像素映射
var ErrNoPixelMap = errors.New("pixel map required for art-net output")

// Options 组装演出所需的依赖，可选项为 nil 时跳过
type Options struct {
	Config *config.Config
	Show   *config.Show
	// PixelMap 预先加载的映射（如从 MinIO 拉取），为 nil 时读取 PixelMapPath
	PixelMap *model.PixelMap
	Features plugin.FeatureProvider
	// Library 片段库，用来补全演出文件里没有 source 的片段
	Library repository.ClipRepository
	// Conn 为 nil 时打开 UDP 套接字
	Conn   artnet.PacketConn
	Target net.Addr
}

// App 一场演出的运行时：引擎、输出、主从同步和像素映射热加载
type App struct {
	cfg  *config.Config
	show *config.Show

	plugins  *plugin.Registry
	loader   *plugin.ClipLoader
	registry *engine.Registry
	engines  []*engine.Engine
	outputs  []*artnet.Output
	maps     *pixelmap.Store
	watcher  *pixelmap.Watcher
	coord    *coordinator.Coordinator

	conn    artnet.PacketConn
	ownConn bool
	cancel  context.CancelFunc
}

// Build 按演出文件创建全部引擎并接好输出和主从关系，不启动任何协程
func Build(ctx context.Context, opts Options) (*App, error) {
	cfg, show := opts.Config, opts.Show
	if cfg == nil || show == nil {
		return nil, errors.New("config and show are required")
	}

	if opts.Library != nil {
		if err := ResolveClips(ctx, show, opts.Library); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:      cfg,
		show:     show,
		plugins:  plugin.Builtin(opts.Features),
		registry: engine.NewRegistry(),
		conn:     opts.Conn,
	}
	a.loader = plugin.NewClipLoader(a.plugins, cfg.MediaDir)

	fps := show.FPS
	if fps <= 0 {
		fps = cfg.EngineFPS
	}

	for _, spec := range show.Engines {
		e, err := a.buildEngine(ctx, spec, fps)
		if err != nil {
			a.closeEngines()
			return nil, err
		}
		a.engines = append(a.engines, e)
		a.registry.Register(e)
	}

	if err := a.buildOutputs(opts); err != nil {
		a.Close()
		return nil, err
	}

	a.coord = coordinator.New(ctx, a.registry, cfg.SlavePreservePrefs)
	for master, slaves := range slavesByMaster(show) {
		if err := a.coord.Attach(master, slaves...); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func slavesByMaster(show *config.Show) map[string][]string {
	out := make(map[string][]string)
	for _, spec := range show.Engines {
		if spec.Master != "" {
			out[spec.Master] = append(out[spec.Master], spec.Name)
		}
	}
	// 没有从机的主机也要登记，角色默认值才会生效
	for _, spec := range show.Engines {
		if role, _ := transport.ParseRole(spec.Role); role == transport.RoleMaster {
			if _, ok := out[spec.Name]; !ok {
				out[spec.Name] = nil
			}
		}
	}
	return out
}

func (a *App) buildEngine(ctx context.Context, spec config.EngineSpec, fps int) (*engine.Engine, error) {
	role := transport.RoleStandalone
	if spec.Role != "" {
		r, err := transport.ParseRole(spec.Role)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", spec.Name, err)
		}
		role = r
	}

	e, err := engine.New(engine.Config{
		Name:                spec.Name,
		Canvas:              a.show.Canvas,
		FPS:                 fps,
		Role:                role,
		Autoplay:            spec.Autoplay,
		Preferences:         spec.Prefs(),
		PreservePreferences: a.cfg.SlavePreservePrefs,
		RecorderSize:        a.cfg.RecorderSize,
	}, a.loader)
	if err != nil {
		return nil, err
	}

	e.SetPlaylist(a.show.Playlist(spec))
	e.ApplyRoleDefaults()
	// 底层片段必须先占住第 0 层，叠加图层随后加入
	if _, n := e.PlaylistIndex(); n > 0 {
		e.LoadClipByIndex(ctx, 0)
	}
	if spec.PlaybackMode != "" {
		if err := e.SetTransportParam("playback_mode", spec.PlaybackMode); err != nil {
			return nil, err
		}
	}

	for i, ls := range spec.Layers {
		settings, err := ls.Settings()
		if err != nil {
			return nil, fmt.Errorf("engine %s layer %d: %w", spec.Name, i, err)
		}
		effects, err := a.buildEffects(ls.Effects)
		if err != nil {
			return nil, fmt.Errorf("engine %s layer %d: %w", spec.Name, i, err)
		}
		e.AddLayer(a.layerSource(ctx, spec.Name, ls.Clip), settings, effects...)
	}

	globals, err := a.buildEffects(spec.Effects)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", spec.Name, err)
	}
	e.SetGlobalEffects(globals...)
	return e, nil
}

// layerSource 叠加图层的源，加载失败时用兜底源而不是中止演出
func (a *App) layerSource(ctx context.Context, engineName, clipName string) compositor.FrameSource {
	clip := a.show.Clip(clipName)
	shape := model.DefaultShape()
	if clip != nil {
		src, s, err := a.loader.Load(ctx, clip, a.show.Canvas)
		if err == nil {
			return src
		}
		shape = s
		logger.Warn("图层片段加载失败，使用兜底源",
			logger.Engine(engineName), logger.String("clip", clipName), logger.ErrorField(err))
	}
	return a.loader.Fallback(a.show.Canvas, shape)
}

func (a *App) buildEffects(specs []config.EffectSpec) ([]compositor.EffectStage, error) {
	effects := make([]compositor.EffectStage, 0, len(specs))
	for _, s := range specs {
		fx, err := a.plugins.NewEffect(s.Type, s.Params)
		if err != nil {
			return nil, err
		}
		effects = append(effects, fx)
	}
	return effects, nil
}

func (a *App) buildOutputs(opts Options) error {
	var specs []config.EngineSpec
	for _, spec := range a.show.Engines {
		if spec.Output {
			specs = append(specs, spec)
		}
	}

	pm := opts.PixelMap
	if pm == nil && a.cfg.PixelMapPath != "" {
		loaded, err := pixelmap.Load(a.cfg.PixelMapPath)
		if err != nil {
			return err
		}
		pm = loaded
	}
	a.maps = pixelmap.NewStore(pm)
	if len(specs) == 0 {
		return nil
	}
	if pm == nil {
		return ErrNoPixelMap
	}

	layout, err := a.cfg.OutputLayout()
	if err != nil {
		return err
	}

	target := opts.Target
	if target == nil {
		addr, err := artnet.ResolveTarget(a.cfg.ArtNetTarget)
		if err != nil {
			return err
		}
		target = addr
	}
	if a.conn == nil {
		conn, err := artnet.Dial()
		if err != nil {
			return err
		}
		a.conn = conn
		a.ownConn = true
	}

	for _, spec := range specs {
		e, _ := a.registry.Get(spec.Name)
		tx := artnet.NewTransmitter(a.conn, target, artnet.NewDeltaEncoder(a.cfg.DeltaConfig()), a.cfg.ArtSync)
		out, err := artnet.NewOutput(spec.Name, layout, a.maps, tx)
		if err != nil {
			return err
		}
		e.AddSink(out)
		a.outputs = append(a.outputs, out)
	}

	spans := pixelmap.Plan(pm, layout)
	logger.Info("Art-Net 输出已配置",
		logger.String("target", target.String()),
		logger.Int("outputs", len(a.outputs)),
		logger.Int("points", pm.PointCount()),
		logger.Int("universes", len(spans)))
	return nil
}

// ResolveClips 用片段库补全演出文件中只写了名字的片段
func ResolveClips(ctx context.Context, show *config.Show, library repository.ClipRepository) error {
	var names []string
	for _, c := range show.Clips {
		if c.Source == "" {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	found, err := library.GetByNames(ctx, names)
	if err != nil {
		return fmt.Errorf("查询片段库失败: %w", err)
	}
	byName := make(map[string]*model.Clip, len(found))
	for _, c := range found {
		byName[c.Name] = c
	}

	for _, c := range show.Clips {
		if c.Source != "" {
			continue
		}
		lib, ok := byName[c.Name]
		if !ok {
			// 留空交给加载器报错，播放时走兜底源
			logger.Warn("片段库中没有该片段", logger.String("clip", c.Name))
			continue
		}
		c.Source = lib.Source
		c.Path = lib.Path
		c.Params = lib.Params
		c.DurationFrames = lib.DurationFrames
		c.Shape = lib.Shape
	}
	return nil
}

// ========== 生命周期 ==========

// Start 启动输出、引擎和映射监听，然后开始播放
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.cfg.PixelMapWatch && a.cfg.PixelMapPath != "" {
		w, err := pixelmap.NewWatcher(a.cfg.PixelMapPath, a.maps, 0)
		if err != nil {
			return err
		}
		a.watcher = w
		go w.Run(ctx)
	}

	for _, o := range a.outputs {
		if err := o.Start(ctx); err != nil {
			return err
		}
	}
	for _, e := range a.engines {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	// 主机先播放，从机随后由同步协调器带到主机的下标
	for _, e := range a.engines {
		if e.Role() != transport.RoleSlave {
			e.Play(ctx)
		}
	}
	for _, e := range a.engines {
		if e.Role() == transport.RoleSlave {
			e.Play(ctx)
		}
	}
	return nil
}

// Close 停止全部引擎与输出并释放资源，可重复调用
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	errs = append(errs, a.closeEngines())
	for _, o := range a.outputs {
		errs = append(errs, o.Stop())
	}
	if a.ownConn && a.conn != nil {
		errs = append(errs, a.conn.Close())
		a.conn = nil
	}
	return errors.Join(errs...)
}

func (a *App) closeEngines() error {
	var errs []error
	for _, e := range a.engines {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

// Registry 引擎表
func (a *App) Registry() *engine.Registry { return a.registry }

// Engines 按演出文件顺序的引擎
func (a *App) Engines() []*engine.Engine { return a.engines }

// Outputs Art-Net 输出
func (a *App) Outputs() []*artnet.Output { return a.outputs }

// Coordinator 主从同步
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// PixelMaps 当前像素映射
func (a *App) PixelMaps() *pixelmap.Store { return a.maps }
