package recording

import (
	"fmt"
	"time"
)

// 録画IDの範囲
const (
	MaxUserID      = 2500
	MaxAccessoryID = 5
	MaxActionID    = 20
)

// Identity は録画ファイルを識別するIDの組（被験者・装着品・動作）
type Identity struct {
	UserID      int `json:"user_id"`
	AccessoryID int `json:"accessory_id"`
	ActionID    int `json:"action_id"`
}

// Validate は各IDが範囲内かを検証する
func (id Identity) Validate() error {
	if id.UserID < 1 || id.UserID > MaxUserID {
		return fmt.Errorf("%w: user_id=%d (1-%d)", ErrOutOfRange, id.UserID, MaxUserID)
	}
	if id.AccessoryID < 1 || id.AccessoryID > MaxAccessoryID {
		return fmt.Errorf("%w: accessory_id=%d (1-%d)", ErrOutOfRange, id.AccessoryID, MaxAccessoryID)
	}
	if id.ActionID < 1 || id.ActionID > MaxActionID {
		return fmt.Errorf("%w: action_id=%d (1-%d)", ErrOutOfRange, id.ActionID, MaxActionID)
	}
	return nil
}

// Next は録画停止後に使う次のIDを返す
// 動作IDを進め、上限で装着品IDを、両方上限なら被験者IDを進める（被験者IDは上限で1に戻る）
func (id Identity) Next() Identity {
	if id.ActionID < MaxActionID {
		id.ActionID++
		return id
	}
	id.ActionID = 1
	if id.AccessoryID < MaxAccessoryID {
		id.AccessoryID++
		return id
	}
	id.AccessoryID = 1
	id.UserID = id.UserID%MaxUserID + 1
	return id
}

// FileName はIDと時刻から録画ファイル名を作る
func (id Identity) FileName(t time.Time) string {
	return fmt.Sprintf("%d_%d_%d_%s.data", id.UserID, id.AccessoryID, id.ActionID, t.Format("200601021504"))
}

func (id Identity) String() string {
	return fmt.Sprintf("%d:%d:%d", id.UserID, id.AccessoryID, id.ActionID)
}
