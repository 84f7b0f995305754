// Package app は設定からキャプチャ一式を組み立てて実行する
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hyakume/internal/camera"
	"hyakume/internal/camera/opencv"
	"hyakume/internal/camera/v4l2"
	"hyakume/internal/config"
	"hyakume/internal/server"
)

// App は1回のキャプチャ実行に必要な部品をまとめる
type App struct {
	config    *config.Config
	logger    *zap.Logger
	discovery camera.Discovery
	hardware  camera.Hardware
	renderer  camera.Renderer
}

// New は設定に従って実際のデバイスを扱う App を作成する
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	registry := NewRegistry()
	hardware, err := registry.Create(cfg.Capture.Backend, logger.Named("hardware"))
	if err != nil {
		return nil, err
	}

	return &App{
		config:    cfg,
		logger:    logger,
		discovery: newDiscovery(cfg.Discovery),
		hardware:  hardware,
		renderer:  newRenderer(cfg, logger.Named("renderer")),
	}, nil
}

// NewRegistry は利用可能な全バックエンドを登録したレジストリを返す
func NewRegistry() *camera.HardwareRegistry {
	registry := camera.NewHardwareRegistry()
	opencv.Register(registry)
	v4l2.Register(registry)
	return registry
}

// newDiscovery は capability 設定に応じたデバイス検出を作成する
func newDiscovery(cfg config.DiscoveryConfig) *camera.LinuxDiscovery {
	check := camera.UdevadmCheck
	if cfg.Capability == "v4l2" {
		check = v4l2.CheckCapture
	}
	return camera.NewLinuxDiscovery(cfg.Pattern, check)
}

// newRenderer は表示設定に応じたレンダラーを作成する
//
// OpenCV が使えない場合はログ出力にフォールバックする。
func newRenderer(cfg *config.Config, logger *zap.Logger) camera.Renderer {
	if !cfg.Options.Render || cfg.Render.Backend != "opencv" {
		return camera.NewLogRenderer(logger)
	}
	renderer, err := opencv.NewRenderer(logger)
	if err != nil {
		logger.Warn("プレビューウィンドウを使えないためログに出力します", zap.Error(err))
		return camera.NewLogRenderer(logger)
	}
	return renderer
}

// Settings は設定ファイルの内容をデバイス設定に変換する
func Settings(cfg *config.Config) camera.Settings {
	return camera.Settings{
		Width:         cfg.Capture.Width,
		Height:        cfg.Capture.Height,
		Format:        cfg.Capture.Format,
		ConfigureMode: camera.ConfigureMode(cfg.Capture.ConfigureMode),
		Options: camera.Options{
			Render:          cfg.Options.Render,
			CaptureEnabled:  cfg.Options.Capture,
			ReportFrameRate: cfg.Options.ReportFrameRate,
		},
		PollInterval: cfg.Render.PollInterval,
		CancelKey:    cfg.Render.CancelKey,
		FPSWindow:    cfg.FPS.Window,
	}
}

// Run は全デバイスを起動し、ctx が終わるか全デバイスが停止するまで待つ
func (a *App) Run(ctx context.Context) error {
	orch := camera.NewOrchestrator(a.discovery, a.hardware, a.renderer, Settings(a.config), a.logger.Named("device"))

	var err error
	if devices := a.config.Capture.Devices; len(devices) > 0 {
		err = orch.StartAll(ctx, devices)
	} else {
		err = orch.Start(ctx)
	}
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	// ステータスAPI
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if a.config.Server.Enabled {
		srv := server.New(a.config, orch, a.logger.Named("server"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(serverCtx); err != nil {
				a.logger.Error("ステータスAPIが停止しました", zap.Error(err))
			}
		}()
	}

	// キャプチャモードでは各デバイスからフレームを取り出し続ける
	if a.config.Options.Capture {
		for _, device := range orch.Devices() {
			wg.Add(1)
			go func(device *camera.CaptureDevice) {
				defer wg.Done()
				a.sink(ctx, device)
			}(device)
		}
	}

	select {
	case <-ctx.Done():
		a.logger.Info("終了要求を受け取りました")
	case <-orch.Done():
		a.logger.Info("全デバイスが停止しました")
	}

	// 停止はハードウェアの解放完了まで待つ
	stopErr := orch.StopAll(context.WithoutCancel(ctx))
	<-orch.Done()
	stopServer()
	wg.Wait()

	return stopErr
}

// sink はデバイスが終了するまで GetFrame を呼び続ける
func (a *App) sink(ctx context.Context, device *camera.CaptureDevice) {
	logger := a.logger.With(zap.String("device", device.Address()))

	var frames uint64
	for {
		frame, err := device.GetFrame(ctx)
		if err != nil {
			if !errors.Is(err, camera.ErrEndOfStream) && !errors.Is(err, context.Canceled) {
				logger.Warn("フレームの取得に失敗しました", zap.Error(err))
			}
			logger.Info("フレームの取り出しを終了しました", zap.Uint64("frames", frames))
			return
		}
		frames++
		logger.Debug("フレームを取得しました",
			zap.Uint64("seq", frame.Seq),
			zap.Int("bytes", len(frame.Data)),
		)
	}
}

// ListDevices は検出したデバイスの情報を返す
func ListDevices(ctx context.Context, discovery camera.Discovery) ([]*camera.DeviceInfo, error) {
	addresses, err := discovery.ScanDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスの検出に失敗: %w", err)
	}
	if len(addresses) == 0 {
		return nil, camera.ErrNoDevicesFound
	}

	infos := make([]*camera.DeviceInfo, 0, len(addresses))
	for _, address := range addresses {
		info, err := discovery.GetDeviceInfo(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("デバイス %s の情報取得に失敗: %w", address, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
