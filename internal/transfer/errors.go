package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange は範囲外の位置を指定した削除
	ErrIndexOutOfRange = errors.New("キューの位置が範囲外です")
	// ErrQueueFull はキューが容量に達している
	ErrQueueFull = errors.New("転送キューが満杯です")

	// ErrNotFound はエンドポイント上にファイルが存在しない
	ErrNotFound = errors.New("ファイルが見つかりません")
	// ErrUnparsableSize はサイズの読み取り結果が数値として解釈できない
	ErrUnparsableSize = errors.New("ファイルサイズを解釈できません")

	ErrTransferStartFailed = errors.New("転送の開始に失敗しました")
	ErrRemoteDeleteFailed  = errors.New("リモートファイルの削除に失敗しました")
	ErrTransferTimeout     = errors.New("転送の完了を確認できませんでした")
)

// JobError はジョブが終端の failed 状態に至った理由を表す
type JobError struct {
	Job   Job
	State State // 失敗したときの状態
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("ジョブ %s (%s) が %s で失敗: %v", e.Job.ID, e.Job.Name, e.State, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
