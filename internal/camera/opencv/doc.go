// Package opencv は gocv (OpenCV) を使ったキャプチャバックエンドとプレビューウィンドウを提供する
//
// OpenCV とのリンクが必要なため、ビルドタグ opencv を指定した場合のみ有効になる。
// タグなしでビルドした場合は全ての関数が ErrUnavailable を返す。
//
//	go build -tags opencv ./...
package opencv

import (
	"errors"

	"go.uber.org/zap"

	"hyakume/internal/camera"
)

// BackendName はレジストリに登録するバックエンド名
const BackendName = "opencv"

// ErrUnavailable は opencv タグなしでビルドされたことを表す
var ErrUnavailable = errors.New("opencvバックエンドは -tags opencv でビルドした場合のみ利用できます")

// Register はレジストリに opencv バックエンドを登録する
func Register(registry *camera.HardwareRegistry) {
	registry.Register(BackendName, func(logger *zap.Logger) (camera.Hardware, error) {
		hw, err := NewHardware(logger)
		if err != nil {
			return nil, err
		}
		return hw, nil
	})
}
