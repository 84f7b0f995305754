package camera

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogRenderer はウィンドウを持たない環境向けのレンダラー
//
// 表示の代わりにフレームの到着をデバッグログに出す。キー入力は発生しない。
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer は新しい LogRenderer を作成する
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRenderer{logger: logger}
}

// Show はフレームの情報をログに出す
func (r *LogRenderer) Show(label string, frame Frame) error {
	r.logger.Debug("フレーム",
		zap.String("label", label),
		zap.Uint64("seq", frame.Seq),
		zap.Int("bytes", len(frame.Data)),
	)
	return nil
}

// PollKey は常に入力なしを返す
func (r *LogRenderer) PollKey(string, time.Duration) (int, bool) {
	return 0, false
}

// Close は何もしない
func (r *LogRenderer) Close(string) error {
	return nil
}

// MockRenderer はテスト用のモックレンダラー
type MockRenderer struct {
	mu      sync.Mutex
	shown   map[string][]Frame
	keys    map[string]map[int]int // label -> 表示枚数 -> キー
	closed  map[string]int
	showErr error
}

// NewMockRenderer は新しい MockRenderer を作成する
func NewMockRenderer() *MockRenderer {
	return &MockRenderer{
		shown:  make(map[string][]Frame),
		keys:   make(map[string]map[int]int),
		closed: make(map[string]int),
	}
}

// PressKeyAfter は label のウィンドウに n 枚表示した直後のポーリングで key を返させる
func (r *MockRenderer) PressKeyAfter(label string, n int, key int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[label] == nil {
		r.keys[label] = make(map[int]int)
	}
	r.keys[label][n] = key
}

// SetShowError は Show を失敗させる
func (r *MockRenderer) SetShowError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.showErr = err
}

// Show はフレームを記録する
func (r *MockRenderer) Show(label string, frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown[label] = append(r.shown[label], frame)
	return r.showErr
}

// PollKey は PressKeyAfter で登録されたキーを返す
func (r *MockRenderer) PollKey(label string, _ time.Duration) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[label][len(r.shown[label])]
	return key, ok
}

// Close はウィンドウの破棄を記録する
func (r *MockRenderer) Close(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[label]++
	return nil
}

// Shown は label に表示されたフレームを返す
func (r *MockRenderer) Shown(label string) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.shown[label]...)
}

// ClosedCount は label のウィンドウが破棄された回数を返す
func (r *MockRenderer) ClosedCount(label string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[label]
}
