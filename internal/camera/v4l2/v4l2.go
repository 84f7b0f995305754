//go:build linux

package v4l2

import (
	"context"
	"fmt"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"hyakume/internal/camera"
)

// Available は v4l2 バックエンドが使えるかを返す
func Available() bool {
	return true
}

// Hardware は go4vl でデバイスを開く
type Hardware struct {
	logger *zap.Logger
}

// NewHardware は新しい Hardware を作成する
func NewHardware(logger *zap.Logger) (*Hardware, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hardware{logger: logger}, nil
}

// Open はデバイスを開く。ストリーミングは最初の Read で開始する
func (h *Hardware) Open(_ context.Context, address string) (camera.Handle, error) {
	dev, err := device.Open(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrDeviceUnavailable, err)
	}
	if !dev.Capability().IsVideoCaptureSupported() {
		_ = dev.Close()
		return nil, fmt.Errorf("%w: %s はビデオキャプチャに対応していません", camera.ErrDeviceUnavailable, address)
	}

	return &handle{
		dev:    dev,
		logger: h.logger.With(zap.String("device", address)),
	}, nil
}

// handle は開かれた go4vl デバイス
type handle struct {
	dev    *device.Device
	logger *zap.Logger

	width  int
	height int

	started bool
	cancel  context.CancelFunc
	output  <-chan []byte
}

// Configure はMJPEGと解像度を設定し、実際に反映されたかを確認する
func (c *handle) Configure(_ context.Context, format string, width, height int) error {
	if format != camera.FormatMJPG {
		return fmt.Errorf("サポートされていないフォーマット: %s", format)
	}

	err := c.dev.SetPixFormat(v4l2.PixFormat{
		PixelFormat: v4l2.PixelFmtMJPEG,
		Width:       uint32(width),
		Height:      uint32(height),
		Field:       v4l2.FieldNone,
	})
	if err != nil {
		return fmt.Errorf("ピクセルフォーマットの設定に失敗: %w", err)
	}

	actual, err := c.dev.GetPixFormat()
	if err != nil {
		return fmt.Errorf("ピクセルフォーマットの取得に失敗: %w", err)
	}
	if actual.PixelFormat != v4l2.PixelFmtMJPEG || int(actual.Width) != width || int(actual.Height) != height {
		return fmt.Errorf("要求したモード %s %dx%d が反映されませんでした (実際: %dx%d)",
			format, width, height, actual.Width, actual.Height)
	}

	c.width = width
	c.height = height
	c.logger.Debug("V4L2デバイスを設定しました", zap.Int("width", width), zap.Int("height", height))
	return nil
}

// start はストリーミングを開始する
func (c *handle) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.dev.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}
	c.started = true
	c.cancel = cancel
	c.output = c.dev.GetOutput()
	return nil
}

// Read は次のフレームを返す
func (c *handle) Read(ctx context.Context) (camera.Frame, error) {
	if !c.started {
		if err := c.start(); err != nil {
			return camera.Frame{}, fmt.Errorf("%w: %w", camera.ErrReadError, err)
		}
	}

	select {
	case data, ok := <-c.output:
		if !ok {
			return camera.Frame{}, fmt.Errorf("%w: ストリームが終了しました", camera.ErrReadError)
		}
		// ドライバーのバッファは再利用されるのでコピーする
		frame := make([]byte, len(data))
		copy(frame, data)
		return camera.Frame{
			Timestamp: time.Now(),
			Width:     c.width,
			Height:    c.height,
			Format:    camera.FormatMJPG,
			Data:      frame,
		}, nil
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	}
}

// Close はストリーミングを止めてデバイスを閉じる
func (c *handle) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.dev.Close()
}

// CheckCapture はデバイスがビデオキャプチャに対応しているかを ioctl で判定する
func CheckCapture(_ context.Context, address string) bool {
	dev, err := device.Open(address)
	if err != nil {
		return false
	}
	defer func() {
		_ = dev.Close()
	}()
	return dev.Capability().IsVideoCaptureSupported()
}
