package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Pixmux/cache"
	"Pixmux/config"
	"Pixmux/db"
	"Pixmux/internal/app"
	"Pixmux/logger"
	"Pixmux/model"
	"Pixmux/repository"
	"Pixmux/server"
	"Pixmux/storage"

	"github.com/spf13/cobra"
)

var (
	playShowPath    string
	playUseLibrary  bool
	playRemoteMap   string
	playUploadOnEnd bool
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "运行演出",
	Long: `按演出文件创建引擎并开始输出。
可选：从 MySQL 片段库补全片段、从 MinIO 拉取像素映射、向 Redis 上报状态、
开启只读监控服务，退出时把录制缓冲上传到 MinIO。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("配置无效: %v", err)
		}
		logger.InitLogger(cfg.LoggerConfig())
		defer logger.Sync()

		if playShowPath == "" {
			playShowPath = cfg.ShowPath
		}
		show, err := config.LoadShow(playShowPath)
		if err != nil {
			logger.Fatal("加载演出文件失败", logger.String("path", playShowPath), logger.ErrorField(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := app.Options{Config: cfg, Show: show}

		if playUseLibrary {
			if err := db.ConnectGormDB(cfg); err != nil {
				logger.Fatal("连接片段库失败", logger.ErrorField(err))
			}
			defer db.CloseGormDB()
			if err := db.AutoMigrateModels(&model.Clip{}); err != nil {
				logger.Fatal("片段库迁移失败", logger.ErrorField(err))
			}
			opts.Library = repository.NewGormClipRepository(db.GormDB)
		}

		var store *storage.MinioStore
		if playRemoteMap != "" || playUploadOnEnd {
			store, err = storage.NewMinioStore(ctx, cfg)
			if err != nil {
				logger.Fatal("连接 MinIO 失败", logger.ErrorField(err))
			}
		}
		if playRemoteMap != "" {
			pm, err := store.GetPixelMap(ctx, playRemoteMap)
			if err != nil {
				logger.Fatal("拉取像素映射失败", logger.String("name", playRemoteMap), logger.ErrorField(err))
			}
			opts.PixelMap = pm
		}

		a, err := app.Build(ctx, opts)
		if err != nil {
			logger.Fatal("创建演出失败", logger.ErrorField(err))
		}
		if err := a.Start(ctx); err != nil {
			a.Close()
			logger.Fatal("启动演出失败", logger.ErrorField(err))
		}
		logger.Info("演出开始", logger.String("show", playShowPath), logger.Any("engines", a.Registry().Names()))

		if cfg.StateReportInterval > 0 {
			if err := cache.ConnectRedis(cfg); err != nil {
				logger.Warn("Redis 不可用，跳过状态上报", logger.ErrorField(err))
			} else {
				defer cache.CloseRedis()
				reporter := cache.NewStateReporter(cache.NewEngineCache(0), a.Registry(), a.Outputs(),
					time.Duration(cfg.StateReportInterval)*time.Second)
				go reporter.Run(ctx)
			}
		}

		if cfg.HTTPAddr != "" {
			srv := server.New(cfg.HTTPAddr, a.Registry(), a.Outputs(), a.Coordinator())
			go func() {
				if err := srv.Start(ctx); err != nil {
					logger.Error("监控服务异常退出", logger.ErrorField(err))
				}
			}()
		}

		<-ctx.Done()
		logger.Info("收到退出信号，正在停止演出")

		if err := a.Close(); err != nil {
			logger.Warn("停止演出时出错", logger.ErrorField(err))
		}
		if playUploadOnEnd {
			uploadRecordings(store, a)
		}
	},
}

// uploadRecordings 退出时上传各引擎的录制缓冲，ctx 已取消所以单独限时
func uploadRecordings(store *storage.MinioStore, a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, e := range a.Engines() {
		rec := e.Recorder()
		if rec == nil || rec.Len() == 0 {
			continue
		}
		if _, err := store.UploadRecording(ctx, e.Name(), rec.Frames()); err != nil {
			logger.Warn("上传录制失败", logger.Engine(e.Name()), logger.ErrorField(err))
		}
	}
}

func init() {
	playCmd.Flags().StringVarP(&playShowPath, "show", "s", "", "演出文件路径（默认 SHOW_PATH）")
	playCmd.Flags().BoolVar(&playUseLibrary, "library", false, "从 MySQL 片段库补全没有 source 的片段")
	playCmd.Flags().StringVar(&playRemoteMap, "remote-map", "", "从 MinIO 拉取指定名称的像素映射")
	playCmd.Flags().BoolVar(&playUploadOnEnd, "upload-recordings", false, "退出时把录制缓冲上传到 MinIO")
	rootCmd.AddCommand(playCmd)
}
