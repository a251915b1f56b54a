package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize は1フレームとして受け付ける最大サイズ
// これを超えてもEOIが見つからない場合は破損とみなして読み捨てる
const MaxFrameSize = 8 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ErrStreamClosed はデバイス側が配信を終了した
var ErrStreamClosed = errors.New("プレビュー配信が終了しました")

// TCPCapturer はデバイスのtcpserversinkからJPEGフレームを受信する
type TCPCapturer struct {
	address     string
	dialTimeout time.Duration
}

// NewTCPCapturer は新しいTCPCapturerを作成する
func NewTCPCapturer(address string, dialTimeout time.Duration) *TCPCapturer {
	return &TCPCapturer{
		address:     address,
		dialTimeout: dialTimeout,
	}
}

// Stream はデバイスに接続し、受信したJPEGフレームをframeChanに送る
// ctxがキャンセルされるか接続が切れるまでブロックする。
func (c *TCPCapturer) Stream(ctx context.Context, frameChan chan<- []byte) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("プレビューへの接続に失敗 (%s): %w", c.address, err)
	}

	// キャンセル時に読み取りを中断させる
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	var splitter FrameSplitter
	buffer := make([]byte, 64*1024)

	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			for _, frame := range splitter.Write(buffer[:n]) {
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

func (c *TCPCapturer) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "tcp", c.address)
}

// FrameSplitter は連結されたJPEGのバイト列をSOI/EOIマーカーでフレームに分割する
type FrameSplitter struct {
	buf bytes.Buffer
}

// Write はデータを追加し、完成したフレームを返す
func (s *FrameSplitter) Write(p []byte) [][]byte {
	s.buf.Write(p)

	var frames [][]byte
	for {
		data := s.buf.Bytes()

		// JPEGの開始マーカー（FF D8）を探す
		startIdx := bytes.Index(data, jpegSOI)
		if startIdx == -1 {
			// 末尾のFFは次のSOIの前半かもしれない
			s.keepTail(data, 1)
			return frames
		}

		// JPEGの終了マーカー（FF D9）を探す
		endIdx := bytes.Index(data[startIdx+2:], jpegEOI)
		if endIdx == -1 {
			// 完全なフレームがまだない
			if len(data)-startIdx > MaxFrameSize {
				s.buf.Reset()
				return frames
			}
			if startIdx > 0 {
				s.keepTail(data, len(data)-startIdx)
			}
			return frames
		}

		// マーカーのサイズを含める
		endIdx += startIdx + 2 + 2
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		frames = append(frames, frame)

		s.buf.Next(endIdx)
	}
}

// Buffered は未処理のバイト数を返す
func (s *FrameSplitter) Buffered() int {
	return s.buf.Len()
}

// keepTail はdataの末尾nバイトだけを残す
func (s *FrameSplitter) keepTail(data []byte, n int) {
	if n > len(data) {
		n = len(data)
	}
	tail := make([]byte, n)
	copy(tail, data[len(data)-n:])
	s.buf.Reset()
	if n == 1 && tail[0] != 0xFF {
		return
	}
	s.buf.Write(tail)
}
