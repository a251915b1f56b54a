package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"camsync/internal/log"
)

// fakeSource はテスト用のSource
// 呼び出しごとにstreamsの次の要素を使い、尽きたらキャンセルまで待つ
type fakeSource struct {
	mu      sync.Mutex
	streams []fakeStream
	calls   int
}

type fakeStream struct {
	frames [][]byte
	err    error
}

func (f *fakeSource) Stream(ctx context.Context, frameChan chan<- []byte) error {
	f.mu.Lock()
	f.calls++
	var s *fakeStream
	if len(f.streams) > 0 {
		s = &f.streams[0]
		f.streams = f.streams[1:]
	}
	f.mu.Unlock()

	if s == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, frame := range s.frames {
		select {
		case frameChan <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPreviewService_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewPreviewService(&fakeSource{}, 10*time.Millisecond, log.Nop())
	assert.Equal(t, StatusInactive, s.GetStatus())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusActive, s.GetStatus())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StatusInactive, s.GetStatus())

	// 停止後に再開できる
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	// 二重停止はエラーにしない
	require.NoError(t, s.Stop(context.Background()))
}

func TestPreviewService_DistributesFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{streams: []fakeStream{{frames: [][]byte{fakeJPEG("a")}}}}
	s := NewPreviewService(src, 10*time.Millisecond, log.Nop())

	ch1, cancel1 := s.Subscribe()
	ch2, cancel2 := s.Subscribe()
	defer cancel2()

	require.NoError(t, s.Start(context.Background()))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case frame := <-ch:
			assert.Equal(t, fakeJPEG("a"), frame)
		case <-time.After(5 * time.Second):
			t.Fatal("フレームが届きません")
		}
	}

	latest, ok := s.LatestFrame()
	assert.True(t, ok)
	assert.Equal(t, fakeJPEG("a"), latest)
	assert.Equal(t, uint64(1), s.Stats().Frames)
	assert.Equal(t, 2, s.Stats().Subscribers)

	cancel1()
	cancel1() // 二重解除しても問題ない
	_, open := <-ch1
	assert.False(t, open, "解除したチャンネルは閉じられる")
	assert.Equal(t, 1, s.Stats().Subscribers)

	require.NoError(t, s.Stop(context.Background()))
	_, open = <-ch2
	assert.False(t, open, "停止するとチャンネルは閉じられる")
}

func TestPreviewService_ReconnectsAfterError(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{streams: []fakeStream{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{frames: [][]byte{fakeJPEG("b")}},
	}}
	s := NewPreviewService(src, time.Millisecond, log.Nop())

	ch, cancel := s.Subscribe()
	defer cancel()
	require.NoError(t, s.Start(context.Background()))

	select {
	case frame := <-ch:
		assert.Equal(t, fakeJPEG("b"), frame)
	case <-time.After(5 * time.Second):
		t.Fatal("再接続後のフレームが届きません")
	}

	assert.Equal(t, 3, src.callCount())
	assert.Equal(t, StatusActive, s.GetStatus())
	assert.Empty(t, s.Stats().LastError)

	require.NoError(t, s.Stop(context.Background()))
}

func TestPreviewService_ErrorStatus(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{streams: []fakeStream{{err: errors.New("connection refused")}}}
	s := NewPreviewService(src, time.Hour, log.Nop())

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return s.GetStatus() == StatusError
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "connection refused", s.Stats().LastError)

	require.NoError(t, s.Stop(context.Background()))
}

func TestPreviewService_SurvivesRequestContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewPreviewService(&fakeSource{}, time.Millisecond, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusActive, s.GetStatus())

	require.NoError(t, s.Stop(context.Background()))
}
