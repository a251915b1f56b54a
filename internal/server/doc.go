// Package server は操作端末向けのHTTP APIを提供します。
//
// 責務:
//   - 録画の開始・停止と録画IDの状態参照
//   - 転送キューの一覧と運用者によるジョブの取り除き
//   - デバイスの準備（録画プログラムの配置と起動）とセンサー調整
//   - ライブプレビューの配信（スナップショット、MJPEG、WebSocket）
//   - /metrics でのPrometheusメトリクスの公開
//
// 仕様:
//   - ルーティングはginを使用
//   - WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウン時はストリーミング中の接続も終了する
package server
