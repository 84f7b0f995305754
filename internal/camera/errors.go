package camera

import "errors"

var (
	// ErrDeviceUnavailable はデバイスを開けなかったことを表す（そのデバイスだけに留まる）
	ErrDeviceUnavailable = errors.New("デバイスが利用できません")
	// ErrNoDevicesFound はキャプチャ可能なデバイスが1台もないことを表す
	ErrNoDevicesFound = errors.New("キャプチャ可能なデバイスが見つかりません")
	// ErrIllegalOperation はキャプチャが無効なデバイスで GetFrame が呼ばれたことを表す
	ErrIllegalOperation = errors.New("不正な操作です")
	// ErrReadError はフレームの読み取り失敗またはデバイスの切断を表す
	ErrReadError = errors.New("フレームの読み取りに失敗")
	// ErrEndOfStream は停止済みのデバイスからフレームを取得しようとしたことを表す
	ErrEndOfStream = errors.New("ストリームは終了しています")
	// ErrInvalidState は現在の状態では実行できない操作を表す
	ErrInvalidState = errors.New("現在の状態では実行できません")
	// ErrConfigure は strict モードでのデバイス設定の失敗を表す
	ErrConfigure = errors.New("デバイスの設定に失敗")
	// ErrDeviceNotFound は指定されたIDのデバイスが管理対象にないことを表す
	ErrDeviceNotFound = errors.New("デバイスが見つかりません")
)
