package transfer

import (
	"time"

	"github.com/google/uuid"
)

// Job は転送待ちの録画ファイル1件
type Job struct {
	ID        string    `json:"id"`         // ログ・API用の識別子
	Name      string    `json:"name"`       // デバイス上のファイル名（キュー内で一意）
	CreatedAt time.Time `json:"created_at"` // キューに入った時刻
}

// NewJob は新しいジョブを作成する
func NewJob(name string) Job {
	return Job{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// State はジョブの処理状態を表す
type State string

const (
	StateQueued    State = "queued"    // 待機中
	StateSizing    State = "sizing"    // リモートのサイズを取得中
	StateCopying   State = "copying"   // 転送を開始中
	StateVerifying State = "verifying" // ローカルのサイズを確認中
	StateRemoving  State = "removing"  // リモートのファイルを削除中
	StateDone      State = "done"      // 完了
	StateFailed    State = "failed"    // 失敗（終端）
)

// Progress は処理中ジョブの状態
type Progress struct {
	Job        Job       `json:"job"`
	State      State     `json:"state"`
	RemoteSize int64     `json:"remote_size"`
	LocalSize  int64     `json:"local_size"`
	Polls      int       `json:"polls"`
	StartedAt  time.Time `json:"started_at"`
}

// FailedJob は failed になったジョブの記録
type FailedJob struct {
	Job      Job       `json:"job"`
	State    State     `json:"state"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
