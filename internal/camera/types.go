package camera

import (
	"context"
	"time"
)

// Status はプレビューの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // プレビューは停止中
	StatusActive   Status = "active"   // フレームを受信中
	StatusError    Status = "error"    // 接続できず再接続を待っている
)

// Source はJPEGフレームの供給元
type Source interface {
	// Stream はフレームをframeChanに送り続け、切断またはキャンセルで戻る
	Stream(ctx context.Context, frameChan chan<- []byte) error
}

// Stats はプレビューの統計情報を表す
type Stats struct {
	Status      Status    `json:"status"`
	Frames      uint64    `json:"frames"`       // 受信したフレーム数
	Subscribers int       `json:"subscribers"`  // 配信中のクライアント数
	LastFrameAt time.Time `json:"last_frame_at"` // 最後にフレームを受信した時刻
	LastError   string    `json:"last_error,omitempty"`
}
