package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camsync/internal/log"
	"camsync/internal/metrics"
)

// RemoteEndpoint はデバイス側のファイル操作
type RemoteEndpoint interface {
	// SizeOf はファイルのバイト数を返す。存在しなければ ErrNotFound
	SizeOf(ctx context.Context, name string) (int64, error)
	// Fetch はローカルへの転送を非同期に開始する
	Fetch(ctx context.Context, name string) (Copy, error)
	// Delete はファイルを削除する
	Delete(ctx context.Context, name string) error
}

// Copy は非同期に開始した転送
type Copy interface {
	// Done は転送の終了時に閉じられる
	Done() <-chan struct{}
	// Err は終了後のエラーを返す（終了前と正常終了はnil）
	Err() error
}

// LocalEndpoint はローカル側のファイル操作
type LocalEndpoint interface {
	SizeOf(ctx context.Context, name string) (int64, error)
}

// WorkerConfig はワーカーの動作設定
type WorkerConfig struct {
	SaturationThreshold int           // キュー長がこれを超えると処理しない
	IdleInterval        time.Duration // ループ間隔
	SettleDelay         time.Duration // 転送開始から最初の確認までの待ち時間
	VerifyInterval      time.Duration // サイズ確認の間隔
	MaxVerifyAttempts   int           // サイズ確認の最大回数
	MaxStartAttempts    int           // サイズ取得・転送開始の最大試行回数
	FailedHistory       int           // 保持する失敗ジョブ数
}

// DefaultWorkerConfig はデフォルトのワーカー設定を返す
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		SaturationThreshold: 3,
		IdleInterval:        300 * time.Millisecond,
		SettleDelay:         2 * time.Second,
		VerifyInterval:      3 * time.Second,
		MaxVerifyAttempts:   200,
		MaxStartAttempts:    5,
		FailedHistory:       20,
	}
}

// WorkerSnapshot はワーカーの状態（読み取り専用）
type WorkerSnapshot struct {
	Current   *Progress   `json:"current,omitempty"`
	Saturated bool        `json:"saturated"`
	Failed    []FailedJob `json:"failed"`
}

// Worker はキューの先頭から1件ずつ転送するバックグラウンドループ
type Worker struct {
	queue  *Queue
	remote RemoteEndpoint
	local  LocalEndpoint
	cfg    WorkerConfig
	logger zerolog.Logger

	mu        sync.RWMutex
	current   *Progress
	saturated bool
	failed    []FailedJob

	// ジョブIDごとの開始試行回数（ワーカーのゴルーチンからのみ参照）
	startAttempts map[string]int
}

// NewWorker は新しいWorkerを作成する
func NewWorker(queue *Queue, remote RemoteEndpoint, local LocalEndpoint, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.MaxVerifyAttempts < 1 {
		cfg.MaxVerifyAttempts = 1
	}
	if cfg.MaxStartAttempts < 1 {
		cfg.MaxStartAttempts = 1
	}
	return &Worker{
		queue:         queue,
		remote:        remote,
		local:         local,
		cfg:           cfg,
		logger:        logger,
		startAttempts: make(map[string]int),
	}
}

// Run はctxがキャンセルされるまでキューを処理し続ける
// 確認中のジョブはキャンセル時に放棄される。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("転送ワーカーを開始しました")
	defer w.logger.Info().Msg("転送ワーカーを停止しました")

	timer := time.NewTimer(w.cfg.IdleInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			w.step(ctx)
			timer.Reset(w.cfg.IdleInterval)
		}
	}
}

// Snapshot は現在の状態を返す
func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := WorkerSnapshot{
		Saturated: w.saturated,
		Failed:    append([]FailedJob(nil), w.failed...),
	}
	if w.current != nil {
		p := *w.current
		snap.Current = &p
	}
	return snap
}

// step はループ1回分の処理
func (w *Worker) step(ctx context.Context) {
	job, expected, cp, started := w.begin(ctx)
	if !started {
		return
	}

	jl := w.logger.With().Str(log.FieldJobID, job.ID).Str(log.FieldFile, job.Name).Logger()

	if !sleepCtx(ctx, w.cfg.SettleDelay) {
		w.abandon(jl)
		return
	}

	w.setState(StateVerifying)
	if err := w.verify(ctx, job, expected, cp); err != nil {
		if ctx.Err() != nil {
			w.abandon(jl)
			return
		}
		if errors.Is(err, ErrTransferStartFailed) {
			w.copyFailed(ctx, job, err)
			return
		}
		w.retire(job, &JobError{Job: job, State: StateVerifying, Err: err})
		return
	}

	// 削除の失敗は記録のみで、ジョブは完了扱いにする
	w.setState(StateRemoving)
	if err := w.remote.Delete(ctx, job.Name); err != nil {
		metrics.IncRemoteDeleteFailure()
		jl.Error().Err(fmt.Errorf("%w: %v", ErrRemoteDeleteFailed, err)).Msg("リモートファイルの削除に失敗しました")
	}

	w.retire(job, nil)
}

// begin はロックを保持したまま先頭ジョブのサイズ取得と転送開始を行う
func (w *Worker) begin(ctx context.Context) (job Job, expected int64, cp Copy, started bool) {
	w.queue.Locked(func(l *LockedQueue) {
		n := l.Len()
		metrics.SetQueueLength(n)

		if n == 0 {
			w.setSaturated(false, n)
			return
		}
		if n > w.cfg.SaturationThreshold {
			w.setSaturated(true, n)
			return
		}
		w.setSaturated(false, n)

		job, _ = l.Head()
		w.forgetOthers(job.ID)
		w.setProgress(&Progress{Job: job, State: StateSizing, StartedAt: time.Now()})

		size, err := w.remote.SizeOf(ctx, job.Name)
		if err != nil {
			w.startFailed(ctx, l, job, StateSizing, err)
			return
		}
		expected = size
		w.update(func(p *Progress) {
			p.State = StateCopying
			p.RemoteSize = size
		})

		c, err := w.remote.Fetch(ctx, job.Name)
		if err != nil {
			w.startFailed(ctx, l, job, StateCopying, fmt.Errorf("%w: %v", ErrTransferStartFailed, err))
			return
		}
		cp = c
		started = true

		w.logger.Info().
			Str(log.FieldJobID, job.ID).
			Str(log.FieldFile, job.Name).
			Int64(log.FieldRemoteSize, size).
			Int(log.FieldQueueLen, n).
			Msg("転送を開始しました")
	})
	return job, expected, cp, started
}

// forgetOthers は先頭以外のジョブの開始試行回数を捨てる
// 運用者が取り除いたジョブの記録が残らないようにする。
func (w *Worker) forgetOthers(headID string) {
	for id := range w.startAttempts {
		if id != headID {
			delete(w.startAttempts, id)
		}
	}
}

// copyFailed は確認中に転送プロセスが異常終了したジョブを開始失敗として扱う
func (w *Worker) copyFailed(ctx context.Context, job Job, err error) {
	w.queue.Locked(func(l *LockedQueue) {
		head, ok := l.Head()
		if !ok || head.ID != job.ID {
			delete(w.startAttempts, job.ID)
			metrics.IncTransfer("discarded")
			w.setProgress(nil)
			return
		}
		w.startFailed(ctx, l, job, StateCopying, err)
	})
}

// startFailed はサイズ取得・転送開始の失敗を処理する（ロック済み前提）
// 上限に達するまではジョブをキューに残し、次のループで再試行する。
func (w *Worker) startFailed(ctx context.Context, l *LockedQueue, job Job, state State, err error) {
	if ctx.Err() != nil {
		// 停止要求による失敗は試行回数に数えない
		w.setProgress(nil)
		return
	}
	w.startAttempts[job.ID]++
	attempt := w.startAttempts[job.ID]

	w.logger.Warn().
		Err(err).
		Str(log.FieldJobID, job.ID).
		Str(log.FieldFile, job.Name).
		Str(log.FieldState, string(state)).
		Int(log.FieldAttempt, attempt).
		Msg("転送を開始できませんでした")

	if attempt < w.cfg.MaxStartAttempts {
		w.setProgress(nil)
		return
	}

	if _, rmErr := l.RemoveAt(1); rmErr != nil {
		w.logger.Error().Err(rmErr).Str(log.FieldJobID, job.ID).Msg("失敗したジョブを取り除けませんでした")
	}
	w.recordFailure(&JobError{Job: job, State: state, Err: err})
}

// verify はローカルのサイズがリモートと一致するまでポーリングする
// 転送プロセスが異常終了した場合は待たずにErrTransferStartFailedを返す。
func (w *Worker) verify(ctx context.Context, job Job, expected int64, cp Copy) error {
	var copyDone <-chan struct{}
	if cp != nil {
		copyDone = cp.Done()
	}

	for attempt := 1; attempt <= w.cfg.MaxVerifyAttempts; attempt++ {
		t := time.NewTimer(w.cfg.VerifyInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-copyDone:
			t.Stop()
			if err := cp.Err(); err != nil {
				return fmt.Errorf("%w: 転送プロセスが異常終了しました: %w", ErrTransferStartFailed, err)
			}
			// 正常終了したので、以降はタイマーだけで確認する
			copyDone = nil
		case <-t.C:
		}

		size, err := w.local.SizeOf(ctx, job.Name)
		w.update(func(p *Progress) {
			p.Polls = attempt
			if err == nil {
				p.LocalSize = size
			}
		})

		switch {
		case errors.Is(err, ErrNotFound):
			metrics.IncVerifyPoll("missing")
			continue
		case err != nil:
			// 解釈できない値も一時的な失敗として扱う
			metrics.IncVerifyPoll("error")
			w.logger.Debug().Err(err).Str(log.FieldFile, job.Name).Int(log.FieldAttempt, attempt).Msg("ローカルサイズを取得できませんでした")
			continue
		case size != expected:
			metrics.IncVerifyPoll("mismatch")
			w.logger.Debug().
				Str(log.FieldFile, job.Name).
				Int64(log.FieldRemoteSize, expected).
				Int64(log.FieldLocalSize, size).
				Int(log.FieldAttempt, attempt).
				Msg("転送中です")
			continue
		}

		metrics.IncVerifyPoll("match")
		return nil
	}

	return fmt.Errorf("%w: %d回確認しました (期待サイズ %d)", ErrTransferTimeout, w.cfg.MaxVerifyAttempts, expected)
}

// retire はジョブをキューから外す
// jobErrがnilなら完了、そうでなければ failed として記録する。
func (w *Worker) retire(job Job, jobErr *JobError) {
	removed := false
	w.queue.Locked(func(l *LockedQueue) {
		head, ok := l.Head()
		if !ok || head.ID != job.ID {
			return
		}
		if _, err := l.RemoveAt(1); err != nil {
			w.logger.Error().Err(err).Str(log.FieldJobID, job.ID).Msg("ジョブを取り除けませんでした")
			return
		}
		removed = true
	})

	if !removed {
		// 処理中に運用者が取り除いた
		delete(w.startAttempts, job.ID)
		metrics.IncTransfer("discarded")
		w.setProgress(nil)
		w.logger.Warn().Str(log.FieldJobID, job.ID).Str(log.FieldFile, job.Name).Msg("ジョブは既にキューから取り除かれていました")
		return
	}

	if jobErr != nil {
		w.recordFailure(jobErr)
		return
	}

	delete(w.startAttempts, job.ID)
	metrics.IncTransfer("done")
	w.setProgress(nil)
	w.logger.Info().Str(log.FieldJobID, job.ID).Str(log.FieldFile, job.Name).Msg("転送が完了しました")
}

// recordFailure はジョブを failed として履歴に残す
func (w *Worker) recordFailure(jobErr *JobError) {
	delete(w.startAttempts, jobErr.Job.ID)
	metrics.IncTransfer("failed")

	w.logger.Error().
		Err(jobErr.Err).
		Str(log.FieldJobID, jobErr.Job.ID).
		Str(log.FieldFile, jobErr.Job.Name).
		Str(log.FieldState, string(jobErr.State)).
		Msg("転送に失敗しました。リモートのファイルは残しています")

	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = nil
	w.failed = append(w.failed, FailedJob{
		Job:      jobErr.Job,
		State:    jobErr.State,
		Reason:   jobErr.Err.Error(),
		FailedAt: time.Now(),
	})
	if limit := w.cfg.FailedHistory; limit > 0 && len(w.failed) > limit {
		w.failed = w.failed[len(w.failed)-limit:]
	}
}

// abandon はキャンセルにより確認中のジョブを放棄する
func (w *Worker) abandon(l zerolog.Logger) {
	l.Warn().Msg("停止要求により確認中のジョブを放棄しました")
	w.setProgress(nil)
}

func (w *Worker) setSaturated(saturated bool, n int) {
	w.mu.Lock()
	changed := w.saturated != saturated
	w.saturated = saturated
	w.mu.Unlock()

	if !changed {
		return
	}
	metrics.SetQueueSaturated(saturated)
	if saturated {
		w.logger.Warn().Int(log.FieldQueueLen, n).Msg("転送キューが飽和しています。件数が減るまで待機します")
	} else {
		w.logger.Info().Int(log.FieldQueueLen, n).Msg("転送キューの飽和が解消されました")
	}
}

func (w *Worker) setProgress(p *Progress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = p
}

func (w *Worker) setState(state State) {
	w.update(func(p *Progress) { p.State = state })
}

func (w *Worker) update(fn func(p *Progress)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		fn(w.current)
	}
}

// sleepCtx はdだけ待つ。ctxがキャンセルされたらfalseを返す
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
