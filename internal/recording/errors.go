package recording

import "errors"

var (
	// ErrOutOfRange はIDが範囲外
	ErrOutOfRange = errors.New("IDが範囲外です")
	// ErrBusy は録画中、または転送キューが飽和している
	ErrBusy = errors.New("現在は録画を開始できません")
	// ErrNotRecording は録画していないのに停止が要求された
	ErrNotRecording = errors.New("録画していません")
	// ErrDevice はデバイスへの指示に失敗した
	ErrDevice = errors.New("デバイスへの指示に失敗しました")
)
