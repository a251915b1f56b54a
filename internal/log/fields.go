package log

// 構造化ログで使うフィールド名
const (
	FieldService   = "service"
	FieldComponent = "component"

	// ジョブ関連
	FieldJobID    = "job_id"
	FieldFile     = "file"
	FieldPosition = "position"
	FieldState    = "state"
	FieldAttempt  = "attempt"
	FieldQueueLen = "queue_len"

	// サイズ比較
	FieldRemoteSize = "remote_size"
	FieldLocalSize  = "local_size"

	// 録画ID
	FieldUserID      = "user_id"
	FieldAccessoryID = "accessory_id"
	FieldActionID    = "action_id"

	// デバイス・コマンド
	FieldHost    = "host"
	FieldCommand = "command"
	FieldPID     = "pid"
)
