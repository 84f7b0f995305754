// Package v4l2 は go4vl で V4L2 デバイスを直接扱うキャプチャバックエンドを提供する
//
// ioctl でデバイスのキャプチャ能力を問い合わせる CapabilityCheck も提供する。
// Linux 以外では全ての関数が ErrUnavailable を返す。
package v4l2

import (
	"errors"

	"go.uber.org/zap"

	"hyakume/internal/camera"
)

// BackendName はレジストリに登録するバックエンド名
const BackendName = "v4l2"

// ErrUnavailable は Linux 以外でビルドされたことを表す
var ErrUnavailable = errors.New("v4l2バックエンドはLinuxでのみ利用できます")

// Register はレジストリに v4l2 バックエンドを登録する
func Register(registry *camera.HardwareRegistry) {
	registry.Register(BackendName, func(logger *zap.Logger) (camera.Hardware, error) {
		hw, err := NewHardware(logger)
		if err != nil {
			return nil, err
		}
		return hw, nil
	})
}
