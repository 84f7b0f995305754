package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hyakume/internal/framequeue"
)

// CaptureDevice は1台のキャプチャデバイスを制御する
//
// ハンドル・フレームキュー・プロデューサーゴルーチンを所有し、
// Idle → Connected → Running → Stopping → Stopped の順に遷移する。
// Stopped からは戻れない。
type CaptureDevice struct {
	id        string
	address   string
	label     string
	settings  Settings
	hardware  Hardware
	logger    *zap.Logger
	createdAt time.Time

	queue    *framequeue.Queue[Frame]
	consumer *FrameConsumer

	mu         sync.Mutex
	state      State
	connecting bool
	handle     Handle
	lastErr    error

	// 制御用
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	produced atomic.Uint64
}

// NewCaptureDevice は新しい CaptureDevice を作成する。label が空の場合はアドレスを使う
func NewCaptureDevice(address, label string, settings Settings, hardware Hardware, renderer Renderer, logger *zap.Logger) *CaptureDevice {
	if label == "" {
		label = address
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	settings = settings.withDefaults()

	id := uuid.New().String()
	logger = logger.With(zap.String("device", address), zap.String("label", label))
	queue := framequeue.New[Frame]()

	return &CaptureDevice{
		id:        id,
		address:   address,
		label:     label,
		settings:  settings,
		hardware:  hardware,
		logger:    logger,
		createdAt: time.Now(),
		queue:     queue,
		consumer:  newFrameConsumer(label, queue, settings, renderer, logger),
		state:     StateIdle,
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Connect はデバイスを開き Connected に遷移する
func (d *CaptureDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle || d.connecting {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: %s は %s 状態のため接続できません", ErrInvalidState, d.label, state)
	}
	d.connecting = true
	d.mu.Unlock()

	// Open は時間がかかることがあるのでロックを外して呼ぶ
	handle, err := d.hardware.Open(ctx, d.address)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.connecting = false

	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		err = fmt.Errorf("デバイス %s を開けません: %w", d.address, err)
		d.lastErr = err
		return err
	}

	// 接続中に Stop された場合はハンドルを捨てる
	if d.state.terminal() {
		_ = handle.Close()
		return fmt.Errorf("%w: %s は接続中に停止されました", ErrInvalidState, d.label)
	}

	d.handle = handle
	d.state = StateConnected
	d.logger.Info("デバイスに接続しました")
	return nil
}

// Configure はピクセルフォーマットと解像度を設定する
//
// best-effort モードでは失敗しても警告に留め、ハードウェアの既定モードで続行する。
func (d *CaptureDevice) Configure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateConnected {
		return fmt.Errorf("%w: %s は %s 状態のため設定できません", ErrInvalidState, d.label, d.state)
	}

	s := d.settings
	err := d.handle.Configure(ctx, s.Format, s.Width, s.Height)
	if err == nil {
		d.logger.Debug("デバイスを設定しました",
			zap.String("format", s.Format),
			zap.Int("width", s.Width),
			zap.Int("height", s.Height),
		)
		return nil
	}

	if s.ConfigureMode == ConfigureStrict {
		err = fmt.Errorf("%w: %s: %w", ErrConfigure, d.label, err)
		d.lastErr = err
		return err
	}

	d.logger.Warn("デバイスの設定に失敗したため既定のモードで続行します", zap.Error(err))
	return nil
}

// Run はプロデューサーを起動し Running に遷移する
//
// 表示モードでは表示ループが終わるまでブロックし、それ以外ではすぐに戻る。
func (d *CaptureDevice) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateConnected {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: %s は %s 状態のため開始できません", ErrInvalidState, d.label, state)
	}

	produceCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.state = StateRunning
	handle := d.handle

	// 接続や設定にかかった時間はフレームレートに含めない
	d.consumer.begin()

	d.wg.Add(1)
	go d.produce(produceCtx, handle)
	d.mu.Unlock()

	d.logger.Info("キャプチャを開始しました",
		zap.Bool("render", d.settings.Options.Render),
		zap.Bool("capture", d.settings.Options.CaptureEnabled),
	)

	if !d.settings.Options.renderMode() {
		return nil
	}
	return d.consumer.RenderLoop(ctx, d.Stop)
}

// produce はデバイスからフレームを読み続けてキューに積む
func (d *CaptureDevice) produce(ctx context.Context, handle Handle) {
	failed := false
	defer func() {
		if r := recover(); r != nil {
			d.fail(fmt.Errorf("%w: プロデューサーでpanicが発生: %v", ErrReadError, r))
			failed = true
		}
		d.wg.Done()
		if failed {
			// Stop は wg.Wait するので別ゴルーチンで呼ぶ
			go func() { _ = d.Stop() }()
		}
	}()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		frame, err := handle.Read(ctx)
		if err != nil {
			if d.stopRequested() {
				return
			}
			if ctx.Err() != nil {
				d.logger.Info("コンテキストの終了によりキャプチャを終了します")
				failed = true
				return
			}
			if !errors.Is(err, ErrReadError) {
				err = fmt.Errorf("%w: %w", ErrReadError, err)
			}
			d.fail(err)
			failed = true
			return
		}

		frame.Seq = d.produced.Add(1)
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		if err := d.queue.Push(frame); err != nil {
			return
		}
	}
}

// fail はプロデューサーの異常終了を記録する
func (d *CaptureDevice) fail(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
	d.logger.Error("フレームの取得を終了します", zap.Error(err))
}

// stopRequested は Stop が呼ばれたかを返す
func (d *CaptureDevice) stopRequested() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Stop はデバイスを停止し、全リソースを解放する
//
// どの状態からでも呼べて、何度呼んでも安全。戻った時点でプロデューサーは終了し、
// キューは空になり、ハンドルは閉じられている。
func (d *CaptureDevice) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		err = d.shutdown()
	})
	<-d.stopped
	return err
}

// shutdown は停止処理の本体（一度だけ実行される）
func (d *CaptureDevice) shutdown() error {
	d.mu.Lock()
	if d.state == StateIdle {
		// まだ何も所有していないので直接 Stopped に遷移する
		d.state = StateStopped
		d.mu.Unlock()
		d.queue.Close()
		close(d.stopCh)
		d.logger.Debug("未接続のデバイスを停止しました")
		close(d.stopped)
		return nil
	}

	d.state = StateStopping
	cancel := d.cancel
	d.mu.Unlock()

	// (a) プロデューサーに停止を通知し、待機中のコンシューマーを起こす
	close(d.stopCh)
	if cancel != nil {
		cancel()
	}
	d.consumer.halt()
	d.queue.Close()

	// (b) プロデューサーの終了を待つ
	d.wg.Wait()

	// (c) 配送されずに残ったフレームを破棄する
	if n := d.queue.Drain(); n > 0 {
		d.logger.Debug("未配送のフレームを破棄しました", zap.Int("frames", n))
	}

	// (d) ハンドルを閉じる
	var closeErr error
	d.mu.Lock()
	handle := d.handle
	d.handle = nil
	d.mu.Unlock()
	if handle != nil {
		if err := handle.Close(); err != nil {
			closeErr = fmt.Errorf("デバイス %s のクローズに失敗: %w", d.address, err)
			d.logger.Warn("ハンドルのクローズに失敗", zap.Error(err))
		}
	}

	d.consumer.closeWindow()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()

	d.logger.Info("デバイスを停止しました",
		zap.Uint64("produced", d.produced.Load()),
		zap.Uint64("delivered", d.consumer.Delivered()),
	)
	close(d.stopped)
	return closeErr
}

// GetFrame はキューから次のフレームを取り出して返す
//
// キャプチャが無効なデバイスでは即座に ErrIllegalOperation を返す。
// 停止後は ErrEndOfStream を返す。表示が有効なら返す前にプレビューにも表示する。
func (d *CaptureDevice) GetFrame(ctx context.Context) (Frame, error) {
	if !d.settings.Options.CaptureEnabled {
		return Frame{}, fmt.Errorf("%w: %s はキャプチャが無効です", ErrIllegalOperation, d.label)
	}

	frame, err := d.consumer.Next(ctx)
	if err != nil {
		return Frame{}, err
	}

	if d.consumer.Deliver(frame) {
		d.logger.Info("キャンセルキーを受信しました")
		if err := d.Stop(); err != nil {
			d.logger.Warn("停止処理でエラーが発生", zap.Error(err))
		}
	}
	return frame, nil
}

// Wait はデバイスが Stopped になるまで待つ
func (d *CaptureDevice) Wait(ctx context.Context) error {
	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done はデバイスが Stopped になると閉じられるチャンネルを返す
func (d *CaptureDevice) Done() <-chan struct{} {
	return d.stopped
}

// State は現在の状態を返す
func (d *CaptureDevice) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ID はデバイスの識別子を返す
func (d *CaptureDevice) ID() string { return d.id }

// Address はデバイスのアドレスを返す
func (d *CaptureDevice) Address() string { return d.address }

// Label は表示用のラベルを返す
func (d *CaptureDevice) Label() string { return d.label }

// Options はデバイスの動作フラグを返す
func (d *CaptureDevice) Options() Options { return d.settings.Options }

// Status は現在の状態のスナップショットを返す
func (d *CaptureDevice) Status() DeviceStatus {
	d.mu.Lock()
	state := d.state
	lastErr := d.lastErr
	d.mu.Unlock()

	status := DeviceStatus{
		ID:              d.id,
		Address:         d.address,
		Label:           d.label,
		State:           state,
		Width:           d.settings.Width,
		Height:          d.settings.Height,
		FramesProduced:  d.produced.Load(),
		FramesDelivered: d.consumer.Delivered(),
		Queued:          d.queue.Len(),
		FPS:             d.consumer.FPS(),
		CreatedAt:       d.createdAt,
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	return status
}
