package server

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"time"

	"Pixmux/logger"
	"Pixmux/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	defaultPreviewFPS = 15
	maxPreviewFPS     = 60
	previewWriteWait  = time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EncodePreview 预览帧格式：宽、高各 2 字节大端，随后是 RGB 像素
func EncodePreview(frame *model.Frame) []byte {
	buf := make([]byte, 4+len(frame.Pix))
	binary.BigEndian.PutUint16(buf[0:2], uint16(frame.Width))
	binary.BigEndian.PutUint16(buf[2:4], uint16(frame.Height))
	copy(buf[4:], frame.Pix)
	return buf
}

// previewHandler 按固定频率推送引擎最近一帧，帧未变化时不重复发送
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found: "+name)
		return
	}

	fps := defaultPreviewFPS
	if v := r.URL.Query().Get("fps"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			fps = min(n, maxPreviewFPS)
		}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// 客户端只读，读循环仅用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug("预览连接建立", logger.Engine(name), logger.Int("fps", fps))

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var last *model.Frame
	for {
		select {
		case <-closed:
			logger.Debug("预览连接关闭", logger.Engine(name))
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := e.LastFrame()
			if frame == nil || frame == last {
				continue
			}
			last = frame
			_ = conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, EncodePreview(frame)); err != nil {
				logger.Debug("预览发送失败", logger.Engine(name), logger.ErrorField(err))
				return
			}
		}
	}
}
