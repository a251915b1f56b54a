package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"camsync/internal/transfer"
)

// recordingExt は録画ファイルの拡張子
const recordingExt = ".data"

var (
	// ErrInvalidRecordingName は保存先の外を指す、または録画ファイルでない名前
	ErrInvalidRecordingName = errors.New("不正な録画ファイル名です")
	// ErrRecordingNotFound は保存先に録画ファイルがない
	ErrRecordingNotFound = errors.New("録画ファイルが見つかりません")
)

// Recording は保存先にある録画ファイル
type Recording struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// RecordingFilter は録画IDによる絞り込み
// 0の項目は条件にしない。
type RecordingFilter struct {
	UserID      int
	AccessoryID int
	ActionID    int
}

// Match はファイル名 <user>_<accessory>_<action>_<時刻>.data が条件に合うか判定する
func (f RecordingFilter) Match(name string) bool {
	if !strings.HasSuffix(name, recordingExt) {
		return false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, recordingExt), "_", 4)
	if len(parts) != 4 {
		return false
	}
	for i, want := range []int{f.UserID, f.AccessoryID, f.ActionID} {
		got, err := strconv.Atoi(parts[i])
		if err != nil {
			return false
		}
		if want != 0 && got != want {
			return false
		}
	}
	return true
}

// LocalStore はコピー先ディレクトリのtransfer.LocalEndpoint
type LocalStore struct {
	dir string
}

// NewLocalStore は新しいLocalStoreを作成する
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Dir は保存先ディレクトリを返す
func (s *LocalStore) Dir() string {
	return s.dir
}

// EnsureDir は保存先ディレクトリを作成する
func (s *LocalStore) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}
	return nil
}

// SizeOf はコピー済み（コピー中）ファイルの現在のサイズを返す
func (s *LocalStore) SizeOf(_ context.Context, name string) (int64, error) {
	p := filepath.Join(s.dir, filepath.Base(name))

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", transfer.ErrNotFound, p)
		}
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s は通常ファイルではありません", transfer.ErrUnparsableSize, p)
	}
	return info.Size(), nil
}

// List は保存先の録画ファイルを名前順で返す
// コピー中のファイルも含まれる。
func (s *LocalStore) List(filter RecordingFilter) ([]Recording, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("保存先ディレクトリの読み込みに失敗: %w", err)
	}

	recordings := make([]Recording, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !filter.Match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 読み込み中に削除された
			continue
		}
		recordings = append(recordings, Recording{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	slices.SortFunc(recordings, func(a, b Recording) int {
		return strings.Compare(a.Name, b.Name)
	})
	return recordings, nil
}

// Path は録画ファイルのローカルパスを返す
// 保存先の直下にある通常ファイルだけを対象にする。
func (s *LocalStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		name == "." || name == ".." || !strings.HasSuffix(name, recordingExt) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordingName, name)
	}

	p := filepath.Join(s.dir, name)
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s は通常ファイルではありません", ErrInvalidRecordingName, name)
	}
	return p, nil
}
