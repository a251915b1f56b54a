package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"camsync/internal/metrics"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 同一LAN内の操作端末から使う
	},
}

// streamMJPEG はMJPEGストリームを配信する
func (h *Handler) streamMJPEG(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	frameChan, unsubscribe := h.deps.Preview.Subscribe()
	defer unsubscribe()
	defer metrics.PreviewClientConnected()()

	// クライアント切断とシャットダウンを検知する
	clientGone := c.Request.Context().Done()

	// 最初のフレームを待たずにヘッダーを送る
	c.Status(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-clientGone:
			return

		case frame, ok := <-frameChan:
			if !ok {
				// プレビューが停止した
				return
			}

			if _, err := writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}

// GetPreviewWebSocket はWebSocketでフレームをバイナリメッセージとして配信する
// 送信レートはpreview.max_fpsで制限する。
func (h *Handler) GetPreviewWebSocket(c *gin.Context) {
	if !h.previewActive(c) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Debug().Err(err).Msg("WebSocketのアップグレードに失敗")
		return
	}
	defer func() { _ = conn.Close() }()

	frameChan, unsubscribe := h.deps.Preview.Subscribe()
	defer unsubscribe()
	defer metrics.PreviewClientConnected()()

	// クライアントからのメッセージは読み捨て、切断だけを検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fps := h.config.Preview.MaxFPS
	limit := rate.Inf
	if fps > 0 {
		limit = rate.Limit(fps)
	}
	limiter := rate.NewLimiter(limit, 1)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return

		case <-closed:
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}

		case frame, ok := <-frameChan:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview stopped"), time.Now().Add(wsWriteWait))
				return
			}
			if !limiter.Allow() {
				continue // 上限を超えたフレームは間引く
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}
