package camera

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeJPEG はSOI/EOIで囲まれたダミーのJPEGを作る
func fakeJPEG(body string) []byte {
	b := append([]byte{}, jpegSOI...)
	b = append(b, body...)
	return append(b, jpegEOI...)
}

func TestFrameSplitter(t *testing.T) {
	f1 := fakeJPEG("first")
	f2 := fakeJPEG("second")

	testCases := []struct {
		name     string
		chunks   [][]byte
		expected [][]byte
	}{
		{
			name:     "1チャンクに1フレーム",
			chunks:   [][]byte{f1},
			expected: [][]byte{f1},
		},
		{
			name:     "1チャンクに2フレーム",
			chunks:   [][]byte{append(append([]byte{}, f1...), f2...)},
			expected: [][]byte{f1, f2},
		},
		{
			name:     "フレームが分割されて届く",
			chunks:   [][]byte{f1[:3], f1[3:]},
			expected: [][]byte{f1},
		},
		{
			name:     "マーカーの途中で分割される",
			chunks:   [][]byte{{0x00, 0xFF}, append([]byte{0xD8}, f1[2:]...)},
			expected: [][]byte{f1},
		},
		{
			name:     "先頭のゴミを読み捨てる",
			chunks:   [][]byte{append([]byte("garbage"), f2...)},
			expected: [][]byte{f2},
		},
		{
			name:     "EOIがなければ出力しない",
			chunks:   [][]byte{f1[:len(f1)-2]},
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var s FrameSplitter
			var got [][]byte
			for _, chunk := range tc.chunks {
				got = append(got, s.Write(chunk)...)
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestFrameSplitter_DiscardsOversizedFrame(t *testing.T) {
	var s FrameSplitter

	s.Write(jpegSOI)
	s.Write(make([]byte, MaxFrameSize+1))
	assert.Equal(t, 0, s.Buffered(), "上限を超えたフレームは読み捨てる")

	// 次のフレームは正常に受信できる
	f := fakeJPEG("next")
	assert.Equal(t, [][]byte{f}, s.Write(f))
}

// serveFrames はframesを送って接続を閉じるTCPサーバーを起動する
func serveFrames(t *testing.T, frames ...[]byte) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, f := range frames {
			if _, err := conn.Write(f); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestTCPCapturer_Stream(t *testing.T) {
	defer goleak.VerifyNone(t)

	f1 := fakeJPEG("one")
	f2 := fakeJPEG("two")
	addr := serveFrames(t, bytes.Join([][]byte{f1, f2}, nil))

	c := NewTCPCapturer(addr, time.Second)
	frameChan := make(chan []byte, 4)

	err := c.Stream(context.Background(), frameChan)
	assert.ErrorIs(t, err, ErrStreamClosed)

	require.Len(t, frameChan, 2)
	assert.Equal(t, f1, <-frameChan)
	assert.Equal(t, f2, <-frameChan)
}

func TestTCPCapturer_StreamCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := NewTCPCapturer(ln.Addr().String(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.Stream(ctx, make(chan []byte))
	}()

	conn := <-accepted
	defer func() { _ = conn.Close() }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("キャンセル後もStreamが戻りません")
	}
}

func TestTCPCapturer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewTCPCapturer(addr, 500*time.Millisecond)
	err = c.Stream(context.Background(), make(chan []byte))
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
