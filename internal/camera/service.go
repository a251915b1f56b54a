package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyStarted はプレビューが既に開始されている
var ErrAlreadyStarted = errors.New("プレビューは既に開始されています")

// PreviewService はデバイスのプレビューを受信し、複数のクライアントへ配る
type PreviewService struct {
	source        Source
	retryInterval time.Duration
	logger        zerolog.Logger

	mu          sync.RWMutex
	status      Status
	latest      []byte
	frames      uint64
	lastFrameAt time.Time
	lastErr     error
	subscribers map[int]chan []byte
	nextID      int

	// 制御用チャンネル
	stopCh chan struct{}

	// 受信ゴルーチン用
	wg sync.WaitGroup
}

// NewPreviewService は新しいPreviewServiceを作成する
func NewPreviewService(source Source, retryInterval time.Duration, logger zerolog.Logger) *PreviewService {
	return &PreviewService{
		source:        source,
		retryInterval: retryInterval,
		logger:        logger,
		status:        StatusInactive,
		subscribers:   make(map[int]chan []byte),
		stopCh:        make(chan struct{}),
	}
}

// Start はプレビューの受信を開始する
// 受信はStopが呼ばれるまで続く（ctxのキャンセルでは止まらない）。
func (s *PreviewService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusInactive {
		return ErrAlreadyStarted
	}

	s.wg.Add(1)
	go s.receive(context.WithoutCancel(ctx), s.stopCh)

	s.status = StatusActive
	s.lastErr = nil
	return nil
}

// Stop はプレビューの受信を停止し、配信中のクライアントを切断する
func (s *PreviewService) Stop(_ context.Context) error {
	s.mu.Lock()
	if s.status == StatusInactive {
		s.mu.Unlock()
		return nil // 既に停止している
	}

	// 停止シグナルを送信
	close(s.stopCh)
	s.mu.Unlock()

	// ゴルーチンの終了を待機
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.status = StatusInactive
	s.latest = nil

	// 新しいチャンネルを作成（再開可能にするため）
	s.stopCh = make(chan struct{})

	return nil
}

// GetStatus は現在の状態を取得する
func (s *PreviewService) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats は統計情報を返す
func (s *PreviewService) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Status:      s.status,
		Frames:      s.frames,
		Subscribers: len(s.subscribers),
		LastFrameAt: s.lastFrameAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// LatestFrame は最後に受信したフレームを返す
func (s *PreviewService) LatestFrame() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

// Subscribe はフレームを受け取るチャンネルと解除関数を返す
// 受け取りが遅いクライアントにはフレームを間引いて送る。
// プレビューが停止するとチャンネルは閉じられる。
func (s *PreviewService) Subscribe() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan []byte, 2)
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[id]; ok {
				close(c)
				delete(s.subscribers, id)
			}
		})
	}
	return ch, cancel
}

// receive はデバイスに接続してフレームを受信する。切断時は再接続する
func (s *PreviewService) receive(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	frameChan := make(chan []byte, 4)
	var forward sync.WaitGroup
	forward.Add(1)
	go func() {
		defer forward.Done()
		for {
			select {
			case frame := <-frameChan:
				s.publish(frame)
			case <-ctx.Done():
				return
			}
		}
	}()
	defer forward.Wait()

	for {
		err := s.source.Stream(ctx, frameChan)
		if ctx.Err() != nil {
			return
		}

		s.setError(err)
		s.logger.Warn().Err(err).Dur("retry_in", s.retryInterval).Msg("プレビューが切断されました。再接続します")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryInterval):
		}
	}
}

// publish はフレームを保存し、各クライアントへ送る
func (s *PreviewService) publish(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = frame
	s.frames++
	s.lastFrameAt = time.Now()
	if s.status == StatusError {
		s.status = StatusActive
		s.lastErr = nil
		s.logger.Info().Msg("プレビューを受信しています")
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
			// 遅いクライアントには送らない
		}
	}
}

func (s *PreviewService) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.lastErr = err
}
