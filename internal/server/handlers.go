package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"camsync/internal/camera"
	"camsync/internal/config"
	"camsync/internal/log"
	"camsync/internal/recording"
	"camsync/internal/remote"
	"camsync/internal/transfer"
)

// Handler はAPIエンドポイントの実装
type Handler struct {
	config *config.Config
	deps   Deps
	logger zerolog.Logger
}

// NewHandler は新しいHandlerを作成する
func NewHandler(cfg *config.Config, deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QueueInfo は転送キューの概要
type QueueInfo struct {
	Length    int  `json:"length"`
	Capacity  int  `json:"capacity"`
	Threshold int  `json:"threshold"`
	Saturated bool `json:"saturated"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string                  `json:"status"`
	Server    ServerInfo              `json:"server"`
	Recording recording.State         `json:"recording"`
	Busy      bool                    `json:"busy"` // 録画を開始できない状態
	Queue     QueueInfo               `json:"queue"`
	Transfer  transfer.WorkerSnapshot `json:"transfer"`
	Preview   camera.Stats            `json:"preview"`
	Timestamp time.Time               `json:"timestamp"`
}

// StartRecordingRequest は録画開始のリクエスト
// 省略したIDは現在のIDを使う
type StartRecordingRequest struct {
	UserID      *int `json:"user_id"`
	AccessoryID *int `json:"accessory_id"`
	ActionID    *int `json:"action_id"`
}

// StartRecordingResponse は録画開始のレスポンス
type StartRecordingResponse struct {
	File     string             `json:"file"`
	Identity recording.Identity `json:"identity"`
}

// StopRecordingResponse は録画停止のレスポンス
type StopRecordingResponse struct {
	Job  transfer.Job       `json:"job"`
	Next recording.Identity `json:"next"`
}

// StopRecordingConflict は停止後のジョブをキューに追加できなかったときのレスポンス
type StopRecordingConflict struct {
	ErrorResponse
	Job transfer.Job `json:"job"`
}

// QueueEntry はキュー内のジョブと位置
type QueueEntry struct {
	Position int `json:"position"`
	transfer.Job
}

// QueueResponse はキュー一覧のレスポンス
type QueueResponse struct {
	Jobs     []QueueEntry `json:"jobs"`
	Length   int          `json:"length"`
	Capacity int          `json:"capacity"`
}

// RecordingsQuery は録画一覧の絞り込み条件
type RecordingsQuery struct {
	UserID      int `form:"user_id" binding:"min=0"`
	AccessoryID int `form:"accessory_id" binding:"min=0"`
	ActionID    int `form:"action_id" binding:"min=0"`
}

// RecordingsResponse は録画一覧のレスポンス
type RecordingsResponse struct {
	Recordings []remote.Recording `json:"recordings"`
	Count      int                `json:"count"`
}

// PreviewResponse はプレビュー開始のレスポンス
type PreviewResponse struct {
	Node   string        `json:"node"`
	Status camera.Status `json:"status"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	state := h.deps.Recorder.State()
	n := h.deps.Queue.Len()
	threshold := h.config.Transfer.SaturationThreshold

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Recording: state,
		Busy:      state.Active || n > threshold,
		Queue: QueueInfo{
			Length:    n,
			Capacity:  h.deps.Queue.Capacity(),
			Threshold: threshold,
			Saturated: n > threshold,
		},
		Transfer:  h.deps.Worker.Snapshot(),
		Preview:   h.deps.Preview.Stats(),
		Timestamp: time.Now(),
	})
}

// StartRecording は録画開始エンドポイントの実装
func (h *Handler) StartRecording(c *gin.Context) {
	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	id := h.deps.Recorder.Identity()
	if req.UserID != nil {
		id.UserID = *req.UserID
	}
	if req.AccessoryID != nil {
		id.AccessoryID = *req.AccessoryID
	}
	if req.ActionID != nil {
		id.ActionID = *req.ActionID
	}

	name, err := h.deps.Recorder.StartRecording(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartRecordingResponse{File: name, Identity: id})
}

// StopRecording は録画停止エンドポイントの実装
func (h *Handler) StopRecording(c *gin.Context) {
	job, err := h.deps.Recorder.StopRecording(c.Request.Context())
	if err != nil {
		if job.Name != "" {
			// 録画は停止したがキューに入らなかった
			c.JSON(http.StatusConflict, StopRecordingConflict{
				ErrorResponse: ErrorResponse{
					Error:     "busy",
					Message:   err.Error(),
					Timestamp: time.Now(),
				},
				Job: job,
			})
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, StopRecordingResponse{
		Job:  job,
		Next: h.deps.Recorder.Identity(),
	})
}

// SetIdentity は次の録画に使うIDを変更する
// 録画中は変更できない
func (h *Handler) SetIdentity(c *gin.Context) {
	var id recording.Identity
	if err := c.ShouldBindJSON(&id); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if err := h.deps.Recorder.SetIdentity(id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

// GetQueue は転送キュー一覧エンドポイントの実装
func (h *Handler) GetQueue(c *gin.Context) {
	jobs := h.deps.Queue.Snapshot()
	entries := make([]QueueEntry, 0, len(jobs))
	for i, job := range jobs {
		entries = append(entries, QueueEntry{Position: i + 1, Job: job})
	}

	c.JSON(http.StatusOK, QueueResponse{
		Jobs:     entries,
		Length:   len(entries),
		Capacity: h.deps.Queue.Capacity(),
	})
}

// DeleteQueueJob は指定位置のジョブを転送キューから取り除く
// リモートのファイルは削除しない
func (h *Handler) DeleteQueueJob(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_position", err)
		return
	}

	job, err := h.deps.Queue.RemoveAt(position)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.logger.Warn().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldFile, job.Name).
		Int(log.FieldPosition, position).
		Msg("運用者がジョブを取り除きました")

	c.JSON(http.StatusOK, QueueEntry{Position: position, Job: job})
}

// ListRecordings は転送済み録画の一覧を返す
func (h *Handler) ListRecordings(c *gin.Context) {
	var q RecordingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	recordings, err := h.deps.Recordings.List(remote.RecordingFilter{
		UserID:      q.UserID,
		AccessoryID: q.AccessoryID,
		ActionID:    q.ActionID,
	})
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "storage_error", err)
		return
	}

	c.JSON(http.StatusOK, RecordingsResponse{Recordings: recordings, Count: len(recordings)})
}

// GetRecording は録画ファイルを返す（再生用）
func (h *Handler) GetRecording(c *gin.Context) {
	name := c.Param("name")
	p, err := h.deps.Recordings.Path(name)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.FileAttachment(p, name)
}

// PrepareDevice は録画プログラムの準備エンドポイントの実装
func (h *Handler) PrepareDevice(c *gin.Context) {
	if err := h.deps.Device.Prepare(c.Request.Context()); err != nil {
		h.respondError(c, http.StatusBadGateway, "device_error", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "prepared"})
}

// AdjustSensor はセンサー調整エンドポイントの実装
// 省略した値は設定ファイルの値を使う
func (h *Handler) AdjustSensor(c *gin.Context) {
	reg := remote.SensorRegister{
		Address: h.config.Sensor.Register,
		Value:   h.config.Sensor.Value,
	}
	if err := c.ShouldBindJSON(&reg); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if err := h.deps.Device.AdjustSensor(c.Request.Context(), reg); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// StartPreview はデバイス側の配信を起動し、受信を開始する
func (h *Handler) StartPreview(c *gin.Context) {
	node, err := h.deps.Device.StartPreview(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	if err := h.deps.Preview.Start(c.Request.Context()); err != nil && !errors.Is(err, camera.ErrAlreadyStarted) {
		h.respondError(c, http.StatusInternalServerError, "preview_error", err)
		return
	}

	c.JSON(http.StatusOK, PreviewResponse{Node: node, Status: h.deps.Preview.GetStatus()})
}

// GetPreviewSnapshot は最新のフレームをJPEGで返す
func (h *Handler) GetPreviewSnapshot(c *gin.Context) {
	frame, ok := h.deps.Preview.LatestFrame()
	if !ok {
		h.respondError(c, http.StatusServiceUnavailable, "preview_not_active", errors.New("プレビューのフレームがありません"))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// GetPreviewStream はMJPEGストリーミングエンドポイントの実装
func (h *Handler) GetPreviewStream(c *gin.Context) {
	if !h.previewActive(c) {
		return
	}
	h.streamMJPEG(c)
}

// previewActive はプレビューが開始されているか確認し、未開始なら503を返す
func (h *Handler) previewActive(c *gin.Context) bool {
	if h.deps.Preview.GetStatus() == camera.StatusInactive {
		h.respondError(c, http.StatusServiceUnavailable, "preview_not_active", errors.New("プレビューが開始されていません"))
		return false
	}
	return true
}

// handleError はドメインのエラーをHTTPステータスに対応付ける
func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, recording.ErrOutOfRange):
		h.respondError(c, http.StatusBadRequest, "out_of_range", err)
	case errors.Is(err, remote.ErrInvalidRegister):
		h.respondError(c, http.StatusBadRequest, "invalid_register", err)
	case errors.Is(err, recording.ErrBusy), errors.Is(err, transfer.ErrQueueFull):
		h.respondError(c, http.StatusConflict, "busy", err)
	case errors.Is(err, recording.ErrNotRecording):
		h.respondError(c, http.StatusConflict, "not_recording", err)
	case errors.Is(err, remote.ErrInvalidRecordingName):
		h.respondError(c, http.StatusBadRequest, "invalid_name", err)
	case errors.Is(err, transfer.ErrIndexOutOfRange):
		h.respondError(c, http.StatusNotFound, "index_out_of_range", err)
	case errors.Is(err, remote.ErrRecordingNotFound):
		h.respondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, camera.ErrNoVideoNode):
		h.respondError(c, http.StatusBadGateway, "no_video_node", err)
	default:
		h.respondError(c, http.StatusBadGateway, "device_error", err)
	}
}

func (h *Handler) respondError(c *gin.Context, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(code)
	}
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
