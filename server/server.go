package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"Pixmux/core/artnet"
	"Pixmux/core/coordinator"
	"Pixmux/core/engine"
	"Pixmux/logger"

	"github.com/gorilla/mux"
)

// Server 只读监控服务：引擎快照、输出统计、同步状态和预览流
// 不提供任何控制接口
type Server struct {
	registry    *engine.Registry
	outputs     []*artnet.Output
	coordinator *coordinator.Coordinator
	httpServer  *http.Server
}

// New 创建监控服务，coordinator 可以为 nil
func New(addr string, registry *engine.Registry, outputs []*artnet.Output, coord *coordinator.Coordinator) *Server {
	s := &Server{
		registry:    registry,
		outputs:     outputs,
		coordinator: coord,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router 构建路由
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/engines", s.listEngines).Methods(http.MethodGet)
	router.HandleFunc("/api/engines/{name}", s.getEngine).Methods(http.MethodGet)
	router.HandleFunc("/api/output/stats", s.outputStats).Methods(http.MethodGet)
	router.HandleFunc("/api/coordinator", s.coordinatorStatus).Methods(http.MethodGet)
	router.HandleFunc("/ws/preview/{name}", s.previewHandler).Methods(http.MethodGet)

	return router
}

// Start 监听直到 ctx 取消，然后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("监控服务启动", logger.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("监控服务关闭失败", logger.ErrorField(err))
		return err
	}
	logger.Info("监控服务已关闭")
	return <-errCh
}

// ========== 处理函数 ==========

func (s *Server) listEngines(w http.ResponseWriter, r *http.Request) {
	engines := s.registry.All()
	snapshots := make([]engine.Snapshot, 0, len(engines))
	for _, e := range engines {
		snapshots = append(snapshots, e.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) getEngine(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (s *Server) outputStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]artnet.OutputStats, 0, len(s.outputs))
	for _, o := range s.outputs {
		stats = append(stats, o.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) coordinatorStatus(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeJSON(w, http.StatusOK, coordinator.Status{Masters: map[string][]string{}})
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("响应编码失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
