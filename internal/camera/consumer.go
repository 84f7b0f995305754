package camera

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"hyakume/internal/framequeue"
)

// FrameConsumer はデバイスのキューからフレームを取り出し、表示または返却する
//
// 表示モードでは RenderLoop がキューを読み続け、キャプチャモードでは
// 呼び出し元が Next と Deliver を介して1枚ずつ受け取る。どちらのモードでも
// 配送したフレームは FPS の計測対象になる。
type FrameConsumer struct {
	label    string
	queue    *framequeue.Queue[Frame]
	renderer Renderer // nil の場合は表示しない
	meter    *FPSMeter
	report   bool
	settings Settings
	logger   *zap.Logger

	halted    atomic.Bool
	delivered atomic.Uint64
}

// newFrameConsumer は FrameConsumer を作成する
func newFrameConsumer(label string, queue *framequeue.Queue[Frame], settings Settings, renderer Renderer, logger *zap.Logger) *FrameConsumer {
	if !settings.Options.Render {
		renderer = nil
	}
	return &FrameConsumer{
		label:    label,
		queue:    queue,
		renderer: renderer,
		meter:    NewFPSMeter(settings.FPSWindow, nil),
		report:   settings.Options.ReportFrameRate,
		settings: settings,
		logger:   logger,
	}
}

// Next はキューから次のフレームを取り出す
//
// 停止処理が始まった後は、キューに残っているフレームがあっても ErrEndOfStream を返す。
func (c *FrameConsumer) Next(ctx context.Context) (Frame, error) {
	if c.halted.Load() {
		return Frame{}, ErrEndOfStream
	}

	frame, err := c.queue.Pop(ctx)
	if errors.Is(err, framequeue.ErrClosed) {
		return Frame{}, ErrEndOfStream
	}
	if err != nil {
		return Frame{}, err
	}

	if c.halted.Load() {
		return Frame{}, ErrEndOfStream
	}
	return frame, nil
}

// Deliver は取り出したフレームを表示し、FPS を数える
//
// キャンセルキーが押された場合は true を返す。
func (c *FrameConsumer) Deliver(frame Frame) bool {
	cancelled := false
	if c.renderer != nil {
		if err := c.renderer.Show(c.label, frame); err != nil {
			c.logger.Warn("フレームの表示に失敗", zap.String("label", c.label), zap.Error(err))
		}
		if key, ok := c.renderer.PollKey(c.label, c.settings.PollInterval); ok && key == c.settings.CancelKey {
			cancelled = true
		}
	}

	c.delivered.Add(1)
	if rate, ok := c.meter.Tick(); ok && c.report {
		c.logger.Info("フレームレート",
			zap.String("label", c.label),
			zap.Float64("fps", rate),
		)
	}

	return cancelled
}

// RenderLoop はキューが閉じられるまでフレームを表示し続ける
//
// キャンセルキーを受け取ると stop を呼び出して終了する。
func (c *FrameConsumer) RenderLoop(ctx context.Context, stop func() error) error {
	for {
		frame, err := c.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}

		if c.Deliver(frame) {
			c.logger.Info("キャンセルキーを受信しました", zap.String("label", c.label))
			return stop()
		}
	}
}

// begin は配送の開始に合わせて FPS の集計区間を始める
func (c *FrameConsumer) begin() {
	c.meter.Reset()
}

// halt は以降のフレーム配送を止める
func (c *FrameConsumer) halt() {
	c.halted.Store(true)
}

// closeWindow はプレビューウィンドウを破棄する
func (c *FrameConsumer) closeWindow() {
	if c.renderer == nil {
		return
	}
	if err := c.renderer.Close(c.label); err != nil {
		c.logger.Debug("ウィンドウの破棄に失敗", zap.String("label", c.label), zap.Error(err))
	}
}

// Delivered は配送済みのフレーム数を返す
func (c *FrameConsumer) Delivered() uint64 {
	return c.delivered.Load()
}

// FPS は直近に計測したフレームレートを返す
func (c *FrameConsumer) FPS() float64 {
	return c.meter.Last()
}
