// Package recording はデバイスの録画開始・停止と録画IDの管理を担う
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camsync/internal/log"
	"camsync/internal/metrics"
	"camsync/internal/transfer"
)

// Device は録画ファイルの書き込みを制御する
type Device interface {
	StartWriting(ctx context.Context, name string) error
	StopWriting(ctx context.Context) error
}

// JobQueue は録画制御から見た転送キュー（追加のみ）
type JobQueue interface {
	Len() int
	Append(job transfer.Job) error
}

// State は録画状態のスナップショット
type State struct {
	Active    bool      `json:"active"`
	Identity  Identity  `json:"identity"`
	FileName  string    `json:"file_name,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Controller は録画状態を保持し、停止ごとに転送ジョブを追加する
type Controller struct {
	device    Device
	queue     JobQueue
	threshold int // キュー長がこれを超えると開始を拒否する
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	identity  Identity
	active    bool
	fileName  string
	startedAt time.Time
}

// NewController は新しいControllerを作成する
func NewController(device Device, queue JobQueue, initial Identity, threshold int, logger zerolog.Logger) (*Controller, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("録画IDの初期値が無効: %w", err)
	}
	return &Controller{
		device:    device,
		queue:     queue,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		identity:  initial,
	}, nil
}

// StartRecording は指定IDで録画を開始し、書き込み先のファイル名を返す
func (c *Controller) StartRecording(ctx context.Context, id Identity) (string, error) {
	if err := id.Validate(); err != nil {
		metrics.IncRecording("start", "out_of_range")
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		metrics.IncRecording("start", "busy")
		return "", fmt.Errorf("%w: 録画中です (%s)", ErrBusy, c.fileName)
	}
	if n := c.queue.Len(); n > c.threshold {
		metrics.IncRecording("start", "busy")
		return "", fmt.Errorf("%w: %d件が転送待ちです", ErrBusy, n)
	}

	name := id.FileName(c.now())
	if err := c.device.StartWriting(ctx, name); err != nil {
		metrics.IncRecording("start", "device_error")
		return "", fmt.Errorf("%w: %v", ErrDevice, err)
	}

	c.active = true
	c.identity = id
	c.fileName = name
	c.startedAt = c.now()
	metrics.IncRecording("start", "ok")

	c.logger.Info().
		Int(log.FieldUserID, id.UserID).
		Int(log.FieldAccessoryID, id.AccessoryID).
		Int(log.FieldActionID, id.ActionID).
		Str(log.FieldFile, name).
		Msg("録画を開始しました")

	return name, nil
}

// StopRecording は録画を停止し、転送ジョブを追加する
// デバイスの停止に失敗した場合は録画中のままにする（停止を再試行できる）。
func (c *Controller) StopRecording(ctx context.Context) (transfer.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		metrics.IncRecording("stop", "not_recording")
		return transfer.Job{}, ErrNotRecording
	}

	if err := c.device.StopWriting(ctx); err != nil {
		metrics.IncRecording("stop", "device_error")
		return transfer.Job{}, fmt.Errorf("%w: %v", ErrDevice, err)
	}

	job := transfer.NewJob(c.fileName)
	appendErr := c.queue.Append(job)

	stopped := c.identity
	c.active = false
	c.fileName = ""
	c.startedAt = time.Time{}
	c.identity = stopped.Next()

	if appendErr != nil {
		// 録画自体は停止済み。ファイルはデバイスに残る
		metrics.IncRecording("stop", "busy")
		c.logger.Error().Err(appendErr).Str(log.FieldFile, job.Name).Msg("転送キューに追加できませんでした")
		if errors.Is(appendErr, transfer.ErrQueueFull) {
			return job, fmt.Errorf("%w: %w", ErrBusy, appendErr)
		}
		return job, appendErr
	}

	metrics.IncRecording("stop", "ok")
	c.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldFile, job.Name).
		Str("next", c.identity.String()).
		Msg("録画を停止しました")

	return job, nil
}

// Identity は次の録画に使うID（録画中はそのID）を返す
func (c *Controller) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetIdentity は次の録画に使うIDを変更する
func (c *Controller) SetIdentity(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return fmt.Errorf("%w: 録画中はIDを変更できません", ErrBusy)
	}
	c.identity = id
	return nil
}

// IsRecording は録画中かを返す
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State は録画状態を返す
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Active:    c.active,
		Identity:  c.identity,
		FileName:  c.fileName,
		StartedAt: c.startedAt,
	}
}
