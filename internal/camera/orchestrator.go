package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Orchestrator は検出された全デバイスを並行して起動・停止する
type Orchestrator struct {
	discovery Discovery
	hardware  Hardware
	renderer  Renderer
	settings  Settings
	logger    *zap.Logger

	mu      sync.RWMutex
	devices []*CaptureDevice
	byID    map[string]*CaptureDevice
	started bool

	// 制御用
	wg   sync.WaitGroup
	done chan struct{}
}

// NewOrchestrator は新しい Orchestrator を作成する
func NewOrchestrator(discovery Discovery, hardware Hardware, renderer Renderer, settings Settings, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		discovery: discovery,
		hardware:  hardware,
		renderer:  renderer,
		settings:  settings.withDefaults(),
		logger:    logger,
		byID:      make(map[string]*CaptureDevice),
		done:      make(chan struct{}),
	}
}

// Start はデバイスを検出して全て起動する
func (o *Orchestrator) Start(ctx context.Context) error {
	addresses, err := o.discovery.ScanDevices(ctx)
	if err != nil {
		return fmt.Errorf("デバイスの検出に失敗: %w", err)
	}
	return o.StartAll(ctx, addresses)
}

// StartAll はアドレスごとに CaptureDevice を生成し、それぞれ独立したゴルーチンで起動する
//
// 起動の完了は待たない。アドレスが空なら何も生成せずに ErrNoDevicesFound を返す。
// 個々のデバイスの失敗はログに記録され、他のデバイスには影響しない。
func (o *Orchestrator) StartAll(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return ErrNoDevicesFound
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("%w: 既に起動済みです", ErrInvalidState)
	}
	o.started = true

	seen := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		if seen[address] {
			continue
		}
		seen[address] = true

		// 同じ機種のカメラが並ぶと名前では区別できないのでアドレスをラベルにする
		device := NewCaptureDevice(address, "", o.settings, o.hardware, o.renderer, o.logger)
		o.devices = append(o.devices, device)
		o.byID[device.ID()] = device

		o.wg.Add(1)
		go o.supervise(ctx, device)
	}

	go func() {
		o.wg.Wait()
		close(o.done)
	}()

	o.logger.Info("デバイスを起動しました", zap.Int("devices", len(o.devices)))
	return nil
}

// supervise は1台のデバイスを接続から停止まで面倒を見る
func (o *Orchestrator) supervise(ctx context.Context, device *CaptureDevice) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("デバイスの処理でpanicが発生しました",
				zap.String("device", device.Address()),
				zap.Any("panic", r),
			)
			_ = device.Stop()
		}
	}()

	logger := o.logger.With(zap.String("device", device.Address()))

	if err := device.Connect(ctx); err != nil {
		logger.Warn("デバイスに接続できません", zap.Error(err))
		_ = device.Stop()
		return
	}

	if err := device.Configure(ctx); err != nil {
		logger.Warn("デバイスを設定できません", zap.Error(err))
		_ = device.Stop()
		return
	}

	if err := device.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("キャプチャが異常終了しました", zap.Error(err))
	}

	// 停止されるまでここで待つ
	<-device.Done()
}

// StopAll は全デバイスを並行して停止し、全て Stopped になるまで待つ
func (o *Orchestrator) StopAll(ctx context.Context) error {
	devices := o.Devices()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, device := range devices {
		wg.Add(1)
		go func(device *CaptureDevice) {
			defer wg.Done()
			if err := device.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("デバイス %s の停止に失敗: %w", device.Address(), err))
				mu.Unlock()
			}
		}(device)
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		return fmt.Errorf("停止の待機を中断: %w", ctx.Err())
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	o.logger.Info("全デバイスを停止しました", zap.Int("devices", len(devices)))
	return nil
}

// Run はデバイスを起動し、ctx が終了するか全デバイスが停止するまで待ってから片付ける
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		o.logger.Info("終了要求を受け取りました")
	case <-o.done:
		o.logger.Info("全デバイスが停止しました")
	}

	// 停止はハードウェアの解放完了まで待つ
	err := o.StopAll(context.WithoutCancel(ctx))
	<-o.done
	return err
}

// Done は全デバイスの監視が終わると閉じられるチャンネルを返す
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Devices は管理中のデバイスを起動順に返す
func (o *Orchestrator) Devices() []*CaptureDevice {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*CaptureDevice(nil), o.devices...)
}

// Device は指定されたIDのデバイスを返す
func (o *Orchestrator) Device(id string) (*CaptureDevice, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	device, exists := o.byID[id]
	return device, exists
}

// StopDevice は指定されたIDのデバイスだけを停止する
func (o *Orchestrator) StopDevice(id string) error {
	device, exists := o.Device(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return device.Stop()
}

// Statuses は全デバイスの状態を起動順に返す
func (o *Orchestrator) Statuses() []DeviceStatus {
	devices := o.Devices()
	statuses := make([]DeviceStatus, 0, len(devices))
	for _, device := range devices {
		statuses = append(statuses, device.Status())
	}
	return statuses
}
