package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"camsync/internal/camera"
	"camsync/internal/log"
)

// ErrInvalidRegister はレジスタのアドレスまたは値が16進数ではない
var ErrInvalidRegister = errors.New("レジスタ指定が無効です")

var hexPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{1,8}$`)

const (
	previewProcess = "gst-launch-1.0"
	staleVideoName = "video.data"
)

// DeviceConfig は録画デバイスの制御設定
type DeviceConfig struct {
	SenderPath   string // ローカルのsenderバイナリ
	RecorderPath string // アップロードする録画プログラム
	RecorderPort int
	Width        int
	Height       int
	PreviewPort  int
	CSIPattern   string
	SensorDir    string // register_addr と sensor_register_ov10635 があるsysfsディレクトリ
}

// SensorRegister はセンサーレジスタへの書き込み
type SensorRegister struct {
	Address string `json:"register"`
	Value   string `json:"value"`
}

// Validate はアドレスと値が16進数表記かを検証する
func (r SensorRegister) Validate() error {
	if !hexPattern.MatchString(r.Address) {
		return fmt.Errorf("%w: register=%q", ErrInvalidRegister, r.Address)
	}
	if !hexPattern.MatchString(r.Value) {
		return fmt.Errorf("%w: value=%q", ErrInvalidRegister, r.Value)
	}
	return nil
}

// Device は録画デバイスへの指示を担う
type Device struct {
	runner Runner
	target Target
	cfg    DeviceConfig
	logger zerolog.Logger
}

// NewDevice は新しいDeviceを作成する
func NewDevice(runner Runner, target Target, cfg DeviceConfig, logger zerolog.Logger) *Device {
	return &Device{
		runner: runner,
		target: target,
		cfg:    cfg,
		logger: logger,
	}
}

// StartWriting はデバイスに録画ファイルの書き込み開始を指示する
func (d *Device) StartWriting(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, d.cfg.SenderPath, "-a", "1", "-f", d.target.RemotePath(name))
	if err != nil {
		return fmt.Errorf("録画開始の指示に失敗: %w", err)
	}
	return nil
}

// StopWriting はデバイスに録画の停止を指示する
func (d *Device) StopWriting(ctx context.Context) error {
	_, err := d.runner.Run(ctx, d.cfg.SenderPath, "-a", "0")
	if err != nil {
		return fmt.Errorf("録画停止の指示に失敗: %w", err)
	}
	return nil
}

// ClearVideo はsenderの状態をクリアする（終了時に使う）
func (d *Device) ClearVideo(ctx context.Context) error {
	_, err := d.runner.Run(ctx, d.cfg.SenderPath, "-t", "1")
	if err != nil {
		return fmt.Errorf("録画状態のクリアに失敗: %w", err)
	}
	return nil
}

// Prepare は録画プログラムを入れ替えて起動し直す
// 古いプロセスと書きかけのvideo.dataを片付けてから、バイナリをアップロードして起動する。
func (d *Device) Prepare(ctx context.Context) error {
	recorder := path.Base(d.cfg.RecorderPath)

	if err := d.killRemote(ctx, recorder); err != nil {
		return fmt.Errorf("古い録画プログラムの停止に失敗: %w", err)
	}
	if err := d.removeStale(ctx); err != nil {
		return fmt.Errorf("古い録画ファイルの削除に失敗: %w", err)
	}

	dst := d.target.Address() + ":" + d.target.Dir
	if _, err := d.runner.Run(ctx, d.target.SCPPath, "-o", "BatchMode=yes", d.cfg.RecorderPath, dst); err != nil {
		return fmt.Errorf("録画プログラムのアップロードに失敗: %w", err)
	}

	command := fmt.Sprintf("%s -p %d -e %d -w %d -s 1",
		d.target.RemotePath(recorder), d.cfg.RecorderPort, d.cfg.Height, d.cfg.Width)
	p, err := d.runner.Start(d.target.SSHPath, append([]string{"-n"}, d.target.sshArgs(command)...)...)
	if err != nil {
		return fmt.Errorf("録画プログラムの起動に失敗: %w", err)
	}

	d.logger.Info().Str(log.FieldCommand, command).Int(log.FieldPID, p.PID).Msg("録画プログラムを起動しました")
	return nil
}

// AdjustSensor はセンサーのレジスタに値を書き込む
func (d *Device) AdjustSensor(ctx context.Context, reg SensorRegister) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	addrCmd := fmt.Sprintf("echo %s > %s", reg.Address, path.Join(d.cfg.SensorDir, "register_addr"))
	if _, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs(addrCmd)...); err != nil {
		return fmt.Errorf("レジスタアドレスの設定に失敗: %w", err)
	}

	// アドレス設定の反映待ち
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	valueCmd := fmt.Sprintf("echo %s > %s", reg.Value, path.Join(d.cfg.SensorDir, "sensor_register_ov10635"))
	if _, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs(valueCmd)...); err != nil {
		return fmt.Errorf("レジスタ値の書き込みに失敗: %w", err)
	}

	d.logger.Info().Str("register", reg.Address).Str("value", reg.Value).Msg("センサーを調整しました")
	return nil
}

// StartPreview はデバイス側でJPEGのTCP配信を起動し、使用したノードを返す
func (d *Device) StartPreview(ctx context.Context) (string, error) {
	listing, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs("ls -l "+camera.VideoClassDir)...)
	if err != nil {
		return "", fmt.Errorf("video4linuxノードの取得に失敗: %w", err)
	}
	node, err := camera.FindVideoNode(listing, d.cfg.CSIPattern)
	if err != nil {
		return "", err
	}

	if err := d.killRemote(ctx, previewProcess); err != nil {
		return "", fmt.Errorf("古いプレビューの停止に失敗: %w", err)
	}

	pipeline := fmt.Sprintf("%s v4l2src device=%s ! videoconvert ! jpegenc ! tcpserversink port=%d host=0.0.0.0",
		previewProcess, node, d.cfg.PreviewPort)
	p, err := d.runner.Start(d.target.SSHPath, append([]string{"-n"}, d.target.sshArgs(pipeline)...)...)
	if err != nil {
		return "", fmt.Errorf("プレビューの起動に失敗: %w", err)
	}

	d.logger.Info().Str("node", node).Int(log.FieldPID, p.PID).Msg("プレビューを起動しました")
	return node, nil
}

// killRemote はデバイス上のprocNameを含むプロセスを終了させる
func (d *Device) killRemote(ctx context.Context, procName string) error {
	out, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs("ps -A")...)
	if err != nil {
		return err
	}

	pids := ParsePIDs(out, procName)
	if len(pids) == 0 {
		return nil
	}

	args := make([]string, len(pids))
	for i, pid := range pids {
		args[i] = strconv.Itoa(pid)
	}
	if _, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs("kill "+strings.Join(args, " "))...); err != nil {
		return err
	}

	d.logger.Info().Str("process", procName).Ints("pids", pids).Msg("デバイス上のプロセスを停止しました")
	return nil
}

// removeStale はデバイス上の書きかけのvideo.dataを削除する
func (d *Device) removeStale(ctx context.Context) error {
	out, err := d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs("ls "+d.target.Dir)...)
	if err != nil {
		return err
	}

	var paths []string
	for _, name := range strings.Fields(string(out)) {
		if strings.Contains(name, staleVideoName) {
			paths = append(paths, d.target.RemotePath(name))
		}
	}
	if len(paths) == 0 {
		return nil
	}

	_, err = d.runner.Run(ctx, d.target.SSHPath, d.target.sshArgs("rm -f "+strings.Join(paths, " "))...)
	return err
}

// ParsePIDs は `ps -A` の出力からprocNameを含む行のPID（1列目）を取り出す
func ParsePIDs(out []byte, procName string) []int {
	var pids []int

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, procName) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}

	return pids
}
