// Package remote は録画デバイスへのコマンド実行（ssh/scp/sender）を担う
//
// # 責務
// - ローカルコマンドの実行と、非同期に起動したプロセスの管理
// - 録画デバイス上のファイルのサイズ取得・コピー・削除
// - 録画の開始・停止、レコーダーの準備、プレビューの起動
//
// # 前提要件
//   - ssh/scp: デバイス（既定 root@192.168.1.2）へ鍵認証で接続できること
//   - sender: 録画開始・停止を指示するローカルのバイナリ
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"camsync/internal/log"
)

// ErrRunnerClosed はClose後に起動しようとした
var ErrRunnerClosed = errors.New("ランナーは停止済みです")

// CommandError はコマンドの異常終了
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s の実行に失敗: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s の実行に失敗: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner はコマンドを実行する
type Runner interface {
	// Run はコマンドを完了まで実行し、標準出力を返す
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start はコマンドを非同期に起動する（Closeで終了させられる）
	Start(name string, args ...string) (*Process, error)
}

// Process は非同期に起動したプロセス
type Process struct {
	Command string
	PID     int

	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stderr bytes.Buffer
}

// Done はプロセス終了時に閉じられる
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err は終了後のエラーを返す（終了前はnil）
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// ExecRunner はos/execでコマンドを実行するRunner
type ExecRunner struct {
	timeout time.Duration // Runの1コマンドあたりの上限
	grace   time.Duration // SIGTERMからSIGKILLまでの猶予
	logger  zerolog.Logger

	mu     sync.Mutex
	procs  map[int]*Process
	closed bool
	wg     sync.WaitGroup
}

// NewExecRunner は新しいExecRunnerを作成する
func NewExecRunner(timeout, grace time.Duration, logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		timeout: timeout,
		grace:   grace,
		logger:  logger,
		procs:   make(map[int]*Process),
	}
}

// Run はコマンドを完了まで実行する
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd, killSignal)
	}
	cmd.WaitDelay = r.grace

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	command := commandLine(name, args)
	r.logger.Debug().Str(log.FieldCommand, command).Msg("コマンドを実行します")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return stdout.Bytes(), &CommandError{
			Command:  command,
			ExitCode: cmd.ProcessState.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}

// Start はコマンドを自身のプロセスグループで起動し、終了まで追跡する
func (r *ExecRunner) Start(name string, args ...string) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRunnerClosed
	}

	cmd := exec.Command(name, args...)
	setProcessGroup(cmd)

	p := &Process{
		Command: commandLine(name, args),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Command: p.Command, ExitCode: -1, Err: err}
	}
	p.PID = cmd.Process.Pid
	r.procs[p.PID] = p

	r.logger.Debug().Str(log.FieldCommand, p.Command).Int(log.FieldPID, p.PID).Msg("プロセスを起動しました")

	r.wg.Add(1)
	go r.wait(p)

	return p, nil
}

func (r *ExecRunner) wait(p *Process) {
	defer r.wg.Done()

	err := p.cmd.Wait()
	if err != nil {
		err = &CommandError{
			Command:  p.Command,
			ExitCode: p.cmd.ProcessState.ExitCode(),
			Stderr:   strings.TrimSpace(p.stderr.String()),
			Err:      err,
		}
	}
	p.err = err
	close(p.done)

	r.mu.Lock()
	delete(r.procs, p.PID)
	r.mu.Unlock()

	ev := r.logger.Debug()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Str(log.FieldCommand, p.Command).Int(log.FieldPID, p.PID).Msg("プロセスが終了しました")
}

// Running は追跡中のプロセス数を返す
func (r *ExecRunner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Close は追跡中のプロセスをすべて終了させる
// SIGTERMを送り、猶予内に終了しなければSIGKILLを送る。
func (r *ExecRunner) Close() error {
	r.mu.Lock()
	r.closed = true
	procs := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, p := range procs {
		g.Go(func() error {
			return r.terminate(p)
		})
	}
	err := g.Wait()

	r.wg.Wait()
	return err
}

func (r *ExecRunner) terminate(p *Process) error {
	if err := signalGroup(p.cmd, termSignal); err != nil {
		r.logger.Warn().Err(err).Int(log.FieldPID, p.PID).Msg("SIGTERMの送信に失敗しました")
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(r.grace):
	}

	r.logger.Warn().Int(log.FieldPID, p.PID).Str(log.FieldCommand, p.Command).Msg("猶予内に終了しないためSIGKILLを送ります")
	if err := signalGroup(p.cmd, killSignal); err != nil {
		return fmt.Errorf("プロセス %d の強制終了に失敗: %w", p.PID, err)
	}
	<-p.done
	return nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
