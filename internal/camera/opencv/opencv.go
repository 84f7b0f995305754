//go:build opencv

package opencv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"hyakume/internal/camera"
)

// Available は opencv バックエンドが使えるかを返す
func Available() bool {
	return true
}

// Hardware は gocv.VideoCapture でデバイスを開く
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

// Open はデバイスを開く
func (h *Hardware) Open(_ context.Context, address string) (camera.Handle, error) {
	vc, err := gocv.OpenVideoCapture(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrDeviceUnavailable, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: %s を開けません", camera.ErrDeviceUnavailable, address)
	}
	return &handle{
		vc:     vc,
		mat:    gocv.NewMat(),
		logger: h.logger.With(zap.String("device", address)),
	}, nil
}

// handle は開かれた VideoCapture
type handle struct {
	vc     *gocv.VideoCapture
	logger *zap.Logger
	mat    gocv.Mat
}

// Configure は FOURCC と解像度を設定し、実際に反映されたかを確認する
func (c *handle) Configure(_ context.Context, format string, width, height int) error {
	c.vc.Set(gocv.VideoCaptureFOURCC, c.vc.ToCodec(format))
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(height))

	gotWidth := int(c.vc.Get(gocv.VideoCaptureFrameWidth))
	gotHeight := int(c.vc.Get(gocv.VideoCaptureFrameHeight))
	if gotWidth != width || gotHeight != height {
		return fmt.Errorf("要求した解像度 %dx%d が反映されませんでした (実際: %dx%d)", width, height, gotWidth, gotHeight)
	}
	c.logger.Debug("VideoCaptureを設定しました", zap.String("format", format), zap.Int("width", width), zap.Int("height", height))
	return nil
}

// Read は1フレームを読み取り、デコード済みのBGRデータとして返す
func (c *handle) Read(_ context.Context) (camera.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return camera.Frame{}, fmt.Errorf("%w: VideoCaptureからの読み取りに失敗", camera.ErrReadError)
	}

	return camera.Frame{
		Timestamp: time.Now(),
		Width:     c.mat.Cols(),
		Height:    c.mat.Rows(),
		Format:    camera.FormatBGR24,
		Data:      c.mat.ToBytes(),
	}, nil
}

// Close はデバイスを解放する
func (c *handle) Close() error {
	_ = c.mat.Close()
	return c.vc.Close()
}

// Renderer は HighGUI のウィンドウにフレームを表示する
//
// HighGUI はスレッドセーフではないので全ての呼び出しを直列化する。
type Renderer struct {
	mu      sync.Mutex
	windows map[string]*gocv.Window
	logger  *zap.Logger
}

// NewRenderer は新しい Renderer を作成する
func NewRenderer(logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		windows: make(map[string]*gocv.Window),
		logger:  logger,
	}, nil
}

// window はラベルのウィンドウを返す。なければ作成する（ロック済み前提）
func (r *Renderer) window(label string) *gocv.Window {
	w, exists := r.windows[label]
	if !exists {
		w = gocv.NewWindow(label)
		r.windows[label] = w
	}
	return w
}

// Show はフレームをデコードして表示する
func (r *Renderer) Show(label string, frame camera.Frame) error {
	mat, err := decode(frame)
	if err != nil {
		return err
	}
	defer func() {
		_ = mat.Close()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.window(label).IMShow(mat)
	return nil
}

// PollKey は最大 timeout だけキー入力を待つ
func (r *Renderer) PollKey(label string, timeout time.Duration) (int, bool) {
	delay := int(timeout / time.Millisecond)
	if delay < 1 {
		delay = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.windows[label]
	if !exists {
		return 0, false
	}
	key := w.WaitKey(delay)
	if key < 0 {
		return 0, false
	}
	return key & 0xFF, true
}

// Close はラベルのウィンドウを破棄する
func (r *Renderer) Close(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.windows[label]
	if !exists {
		return nil
	}
	delete(r.windows, label)
	return w.Close()
}

// decode はフレームを表示用の Mat に変換する
func decode(frame camera.Frame) (gocv.Mat, error) {
	switch frame.Format {
	case camera.FormatMJPG:
		mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("JPEGのデコードに失敗: %w", err)
		}
		if mat.Empty() {
			_ = mat.Close()
			return gocv.Mat{}, fmt.Errorf("JPEGのデコード結果が空です")
		}
		return mat, nil
	case camera.FormatBGR24:
		mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("BGRフレームの変換に失敗: %w", err)
		}
		return mat, nil
	default:
		return gocv.Mat{}, fmt.Errorf("表示できないフォーマット: %s", frame.Format)
	}
}
