// Package transfer はデバイス上の録画ファイルをローカルへ取り込む転送キューを担う
//
// # 責務
// - 録画停止ごとに作られる転送ジョブのFIFO管理
// - バックグラウンドワーカーによる1件ずつの転送
// - ファイルサイズのポーリングによる到着確認
// - 確認後のリモートファイル削除
//
// # 仕様
//   - Queue: 単一のミューテックスで保護されたFIFO（容量付き）
//   - Worker: キュー長が飽和しきい値を超えている間は何もしない
//   - 先頭ジョブのサイズ取得と転送開始はロックを保持したまま行う
//   - 到着確認のポーリングはロックの外で行い、回数に上限を設ける
//   - 上限に達したジョブは failed としてキューから外す（リモートのファイルは残す）
//   - プロセス終了時に未転送のジョブは失われる
package transfer
