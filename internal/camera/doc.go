// Package camera は録画デバイスのライブプレビューを担う
//
// # 責務
// - video4linuxノードの検出（ls -l /sys/class/video4linux の解析）
// - デバイス側tcpserversinkからのJPEGストリーム受信
// - 連結されたJPEGのフレーム分割（SOI/EOIマーカー）
// - 受信したフレームの複数クライアントへの配信
//
// # 使い分け
// デバイス側の配信プロセス（gst-launch-1.0）の起動はremoteパッケージが行う。
// このパッケージは起動済みの配信に接続して受信するだけである。
//
// # 仕様
// - TCPCapturer: host:port に接続し、切断かキャンセルまでフレームを送る
// - FrameSplitter: 上限（MaxFrameSize）を超えたフレームは読み捨てる
// - PreviewService: 切断時は一定間隔で再接続し、遅いクライアントのフレームは間引く
package camera
