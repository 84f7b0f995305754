// Package server は、キャプチャデバイスの状態を公開するHTTPサーバーを管理します。
//
// このパッケージは、ステータスAPIの起動、ルーティング、
// デバイス単位の停止要求の受け付けを担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - ヘルスチェックとデバイス状態の配信
//   - デバイスの個別停止
//
// 仕様:
//   - ルーティングは gin を使用
//   - フレームの配信は行わない（状態の参照と停止のみ）
//   - アクセスログは zap に出力
package server
