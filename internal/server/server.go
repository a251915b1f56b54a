package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"camsync/internal/camera"
	"camsync/internal/config"
	"camsync/internal/metrics"
	"camsync/internal/recording"
	"camsync/internal/remote"
	"camsync/internal/transfer"
)

// Recorder は録画制御
type Recorder interface {
	StartRecording(ctx context.Context, id recording.Identity) (string, error)
	StopRecording(ctx context.Context) (transfer.Job, error)
	Identity() recording.Identity
	SetIdentity(id recording.Identity) error
	State() recording.State
}

// Queue は転送キューのうちAPIから使う操作
type Queue interface {
	Len() int
	Capacity() int
	Snapshot() []transfer.Job
	RemoveAt(position int) (transfer.Job, error)
}

// WorkerStatus は転送ワーカーの状態参照
type WorkerStatus interface {
	Snapshot() transfer.WorkerSnapshot
}

// DeviceControl は録画デバイスへの指示
type DeviceControl interface {
	Prepare(ctx context.Context) error
	AdjustSensor(ctx context.Context, reg remote.SensorRegister) error
	StartPreview(ctx context.Context) (string, error)
}

// Preview はライブプレビューの受信・配信
type Preview interface {
	Start(ctx context.Context) error
	GetStatus() camera.Status
	Stats() camera.Stats
	LatestFrame() ([]byte, bool)
	Subscribe() (<-chan []byte, func())
}

// Recordings は転送済み録画の参照
type Recordings interface {
	List(filter remote.RecordingFilter) ([]remote.Recording, error)
	Path(name string) (string, error)
}

// Deps はサーバーが使うコンポーネント
type Deps struct {
	Recorder   Recorder
	Queue      Queue
	Worker     WorkerStatus
	Device     DeviceControl
	Preview    Preview
	Recordings Recordings
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	logger     zerolog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config:  cfg,
		engine:  engine,
		handler: NewHandler(cfg, deps, logger),
		logger:  logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()

	// ストリーミング中のリクエストをシャットダウン時に終わらせる
	baseCtx, cancelBase := context.WithCancel(context.Background())
	s.httpServer.BaseContext = func(net.Listener) context.Context { return baseCtx }
	s.httpServer.RegisterOnShutdown(cancelBase)

	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.HealthCheck)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/status", h.GetStatus)

	api.POST("/recording/start", h.StartRecording)
	api.POST("/recording/stop", h.StopRecording)
	api.PUT("/recording/identity", h.SetIdentity)

	api.GET("/queue", h.GetQueue)
	api.DELETE("/queue/:position", h.DeleteQueueJob)

	api.GET("/recordings", h.ListRecordings)
	api.GET("/recordings/:name", h.GetRecording)

	api.POST("/device/prepare", h.PrepareDevice)
	api.POST("/device/adjust", h.AdjustSensor)

	api.POST("/preview/start", h.StartPreview)
	api.GET("/preview/snapshot", h.GetPreviewSnapshot)
	api.GET("/preview/stream", h.GetPreviewStream)
	api.GET("/preview/ws", h.GetPreviewWebSocket)
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動し、ctxがキャンセルされるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーでサーバーを動かす
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをログとメトリクスに記録するミドルウェア
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		done := metrics.HTTPRequestStarted()
		defer done()

		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(c.Request.Method, route, status, elapsed)

		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", elapsed).
			Msg("HTTPリクエスト")
	}
}
