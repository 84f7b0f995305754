// Package camera 複数のビデオキャプチャデバイスを並行して動かすキャプチャパイプラインを担う
//
// # 責務
// - デバイスごとのライフサイクル管理（Idle → Connected → Running → Stopping → Stopped）
// - ハードウェアからフレームを読み続けるプロデューサーループ
// - キューを介したプレビュー表示・呼び出し元へのフレーム受け渡し
// - フレームレートの計測と報告
// - 検出された全デバイスの一括起動と一括停止
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 複数のカメラを同時にプレビューしたい
// - プログラムからフレームを順番通りに取り出したい
// - デバイスごとのスループットを監視したい
//
// # 仕様
// - CaptureDevice: 1台のデバイスのハンドル・キュー・プロデューサーを所有する
// - FrameConsumer: キューからフレームを取り出して表示または返却し、FPSを数える
// - Orchestrator: 検出結果から CaptureDevice を生成し、まとめて起動・停止する
// - LinuxDiscovery: /dev/video* のうちキャプチャ可能なノードを番号順に返す
// - FFmpegHardware: ffmpeg 経由でMJPEGフレームを読み取る
// - 1台の障害は他のデバイスに波及しない
//
// # 前提要件
//   - ffmpeg: 既定のキャプチャバックエンドで使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils / udev: デバイス名の取得とキャプチャ能力の判定に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
