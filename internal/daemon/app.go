// Package daemon は設定から各コンポーネントを組み立て、プロセスの寿命を管理する
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"camsync/internal/camera"
	"camsync/internal/config"
	"camsync/internal/log"
	"camsync/internal/recording"
	"camsync/internal/remote"
	"camsync/internal/server"
	"camsync/internal/transfer"
)

// CommandRunner はデバイスへのコマンド実行と、起動したプロセスの後始末
type CommandRunner interface {
	remote.Runner
	// Running は終了していない子プロセスの数
	Running() int
	Close() error
}

// App は録画制御・転送ワーカー・HTTPサーバーを束ねる
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	runner     CommandRunner
	device     *remote.Device
	queue      *transfer.Queue
	worker     *transfer.Worker
	controller *recording.Controller
	preview    *camera.PreviewService
	server     *server.Server
}

// New は実際のssh/scpを使うAppを作成する
func New(cfg *config.Config) (*App, error) {
	runner := remote.NewExecRunner(cfg.Remote.CommandTimeout, cfg.Remote.KillGrace, log.WithComponent("runner"))
	return NewWithRunner(cfg, runner)
}

// NewWithRunner は指定したCommandRunnerでAppを作成する
func NewWithRunner(cfg *config.Config, runner CommandRunner) (*App, error) {
	local := remote.NewLocalStore(cfg.Local.DownloadDir)
	if err := local.EnsureDir(); err != nil {
		return nil, err
	}

	target := TargetFromConfig(cfg)
	device := remote.NewDevice(runner, target, DeviceConfigFromConfig(cfg), log.WithComponent("device"))
	endpoint := remote.NewEndpoint(runner, target, local.Dir(), remote.RetryPolicy{
		Retries:  cfg.Remote.Retries,
		Interval: cfg.Remote.RetryInterval,
	}, log.WithComponent("endpoint"))

	queue := transfer.NewQueue(cfg.Transfer.Capacity)
	worker := transfer.NewWorker(queue, endpoint, local, WorkerConfigFromConfig(cfg), log.WithComponent("transfer"))

	initial := recording.Identity{
		UserID:      cfg.Recording.UserID,
		AccessoryID: cfg.Recording.AccessoryID,
		ActionID:    cfg.Recording.ActionID,
	}
	controller, err := recording.NewController(device, queue, initial, cfg.Transfer.SaturationThreshold, log.WithComponent("recording"))
	if err != nil {
		return nil, err
	}

	capturer := camera.NewTCPCapturer(cfg.PreviewAddress(), cfg.Preview.DialTimeout)
	preview := camera.NewPreviewService(capturer, cfg.Preview.RetryDelay, log.WithComponent("preview"))

	srv := server.New(cfg, server.Deps{
		Recorder:   controller,
		Queue:      queue,
		Worker:     worker,
		Device:     device,
		Preview:    preview,
		Recordings: local,
	}, log.WithComponent("server"))

	return &App{
		cfg:        cfg,
		logger:     log.WithComponent("daemon"),
		runner:     runner,
		device:     device,
		queue:      queue,
		worker:     worker,
		controller: controller,
		preview:    preview,
		server:     srv,
	}, nil
}

// Run はctxがキャンセルされるか、いずれかが異常終了するまでブロックする
// 終了時はプレビューを止め、デバイスの録画状態をクリアし、起動したプロセスを終了させる。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().
		Str(log.FieldHost, a.cfg.Remote.Host).
		Str("download_dir", a.cfg.Local.DownloadDir).
		Msg("camsyncを起動します")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.worker.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Start(gctx)
	})

	err := g.Wait()
	a.shutdown()
	if err != nil {
		return fmt.Errorf("camsyncが異常終了しました: %w", err)
	}
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := a.preview.Stop(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("プレビューの停止に失敗しました")
	}

	if state := a.controller.State(); state.Active {
		a.logger.Warn().Str(log.FieldFile, state.FileName).Msg("録画中に終了します。このファイルは転送されません")
	}
	if n := a.queue.Len(); n > 0 {
		a.logger.Warn().Int(log.FieldQueueLen, n).Msg("未転送のジョブを破棄して終了します")
	}

	// デバイス側の状態は次回起動時にも戻せるため失敗しても続ける
	if err := a.device.ClearVideo(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("デバイスの録画状態をクリアできませんでした")
	}

	if n := a.runner.Running(); n > 0 {
		a.logger.Warn().Int("processes", n).Msg("実行中の子プロセスを終了させます")
	}
	if err := a.runner.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("子プロセスの終了に失敗しました")
	}
	a.logger.Info().Msg("camsyncを終了しました")
}

func (a *App) shutdownTimeout() time.Duration {
	if t := a.cfg.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 5 * time.Second
}

// TargetFromConfig はssh/scpの接続先を設定から作る
func TargetFromConfig(cfg *config.Config) remote.Target {
	return remote.Target{
		Host:    cfg.Remote.Host,
		User:    cfg.Remote.User,
		Dir:     cfg.Remote.Dir,
		SSHPath: cfg.Remote.SSHPath,
		SCPPath: cfg.Remote.SCPPath,
	}
}

// DeviceConfigFromConfig はデバイス制御の設定を作る
func DeviceConfigFromConfig(cfg *config.Config) remote.DeviceConfig {
	return remote.DeviceConfig{
		SenderPath:   cfg.Local.SenderPath,
		RecorderPath: cfg.Recorder.BinaryPath,
		RecorderPort: cfg.Recorder.Port,
		Width:        cfg.Recorder.Width,
		Height:       cfg.Recorder.Height,
		PreviewPort:  cfg.Preview.Port,
		CSIPattern:   cfg.Preview.CSIPattern,
		SensorDir:    cfg.Sensor.SysfsDir,
	}
}

// WorkerConfigFromConfig は転送ワーカーの設定を作る
func WorkerConfigFromConfig(cfg *config.Config) transfer.WorkerConfig {
	t := cfg.Transfer
	return transfer.WorkerConfig{
		SaturationThreshold: t.SaturationThreshold,
		IdleInterval:        t.IdleInterval,
		SettleDelay:         t.SettleDelay,
		VerifyInterval:      t.VerifyInterval,
		MaxVerifyAttempts:   t.MaxVerifyAttempts,
		MaxStartAttempts:    t.MaxStartAttempts,
		FailedHistory:       t.FailedHistory,
	}
}
