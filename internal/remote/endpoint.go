package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"camsync/internal/log"
	"camsync/internal/transfer"
)

// Target はssh/scpの接続先
type Target struct {
	Host    string
	User    string
	Dir     string // デバイス上の録画ディレクトリ
	SSHPath string
	SCPPath string
}

// Address はuser@host形式の接続先を返す
func (t Target) Address() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// RemotePath はデバイス上のファイルパスを返す
func (t Target) RemotePath(name string) string {
	return path.Join(t.Dir, name)
}

// sshArgs はデバイス上でcommandを実行するsshの引数を組み立てる
func (t Target) sshArgs(command string) []string {
	return []string{"-o", "BatchMode=yes", t.Address(), command}
}

// RetryPolicy は一時的なssh失敗の再試行方針
type RetryPolicy struct {
	Retries  uint          // 初回を除く再試行回数
	Interval time.Duration // 再試行の間隔
}

// Endpoint はデバイス上の録画ファイルを扱うtransfer.RemoteEndpoint
type Endpoint struct {
	runner      Runner
	target      Target
	downloadDir string
	retry       RetryPolicy
	logger      zerolog.Logger
}

// NewEndpoint は新しいEndpointを作成する
func NewEndpoint(runner Runner, target Target, downloadDir string, retry RetryPolicy, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		runner:      runner,
		target:      target,
		downloadDir: downloadDir,
		retry:       retry,
		logger:      logger,
	}
}

// SizeOf はデバイス上のファイルサイズ（バイト）を返す
// ファイルがなければtransfer.ErrNotFound、ls出力を解釈できなければtransfer.ErrUnparsableSize。
func (e *Endpoint) SizeOf(ctx context.Context, name string) (int64, error) {
	remotePath := e.target.RemotePath(name)

	return backoff.Retry(ctx, func() (int64, error) {
		out, err := e.runner.Run(ctx, e.target.SSHPath, e.target.sshArgs("ls -l "+remotePath)...)
		if err != nil {
			if isNoSuchFile(err) {
				return 0, backoff.Permanent(fmt.Errorf("%w: %s", transfer.ErrNotFound, remotePath))
			}
			return 0, err
		}

		size, err := ParseListingSize(out)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("%s: %w", remotePath, err))
		}
		return size, nil
	}, e.retryOptions("size")...)
}

// Fetch はデバイスから保存先へのコピーを非同期に開始する
// 起動に失敗した場合のみエラーを返す。完了はローカルのサイズで確認し、
// 返したプロセスは異常終了の検知に使う。
func (e *Endpoint) Fetch(_ context.Context, name string) (transfer.Copy, error) {
	src := e.target.Address() + ":" + e.target.RemotePath(name)
	dst := filepath.Clean(e.downloadDir) + string(filepath.Separator)

	p, err := e.runner.Start(e.target.SCPPath, "-r", "-C", "-o", "BatchMode=yes", src, dst)
	if err != nil {
		return nil, fmt.Errorf("%s のコピーを開始できません: %w", name, err)
	}

	e.logger.Info().Str(log.FieldFile, name).Int(log.FieldPID, p.PID).Msg("コピーを開始しました")
	return p, nil
}

// Delete はデバイス上のファイルを削除する
func (e *Endpoint) Delete(ctx context.Context, name string) error {
	remotePath := e.target.RemotePath(name)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := e.runner.Run(ctx, e.target.SSHPath, e.target.sshArgs("rm -f "+remotePath)...)
		return struct{}{}, err
	}, e.retryOptions("delete")...)
	return err
}

func (e *Endpoint) retryOptions(op string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(e.retry.Interval)),
		backoff.WithMaxTries(e.retry.Retries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("sshに失敗したため再試行します")
		}),
	}
}

// ParseListingSize は `ls -l` の出力からファイルサイズ（5列目）を取り出す
func ParseListingSize(out []byte) (int64, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		// ディレクトリを指定した場合の "total N" 行
		if fields[0] == "total" && len(fields) == 2 {
			continue
		}
		if len(fields) < 5 {
			return 0, fmt.Errorf("%w: %q", transfer.ErrUnparsableSize, sc.Text())
		}
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil || size < 0 {
			return 0, fmt.Errorf("%w: %q", transfer.ErrUnparsableSize, fields[4])
		}
		return size, nil
	}
	return 0, transfer.ErrNotFound
}

// isNoSuchFile はlsの失敗がファイル不在によるものかを判定する
func isNoSuchFile(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	// sshの接続失敗は255
	if cmdErr.ExitCode == 255 {
		return false
	}
	return strings.Contains(cmdErr.Stderr, "No such file")
}
