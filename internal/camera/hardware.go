package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HardwareCreator はキャプチャバックエンドを作成する関数の型
type HardwareCreator func(logger *zap.Logger) (Hardware, error)

// HardwareRegistry はバックエンド名から Hardware を作成するレジストリ
type HardwareRegistry struct {
	mu       sync.RWMutex
	creators map[string]HardwareCreator
}

// BackendFFmpeg は既定のキャプチャバックエンド名
const BackendFFmpeg = "ffmpeg"

// NewHardwareRegistry は ffmpeg バックエンドを登録済みのレジストリを作成する
func NewHardwareRegistry() *HardwareRegistry {
	r := &HardwareRegistry{
		creators: make(map[string]HardwareCreator),
	}

	r.Register(BackendFFmpeg, func(logger *zap.Logger) (Hardware, error) {
		return NewFFmpegHardware(logger), nil
	})

	return r
}

// Register はバックエンドを登録する。同名の登録は上書きする
func (r *HardwareRegistry) Register(name string, creator HardwareCreator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[name] = creator
}

// Create はバックエンドを作成する
func (r *HardwareRegistry) Create(name string, logger *zap.Logger) (Hardware, error) {
	r.mu.RLock()
	creator, exists := r.creators[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s (対応: %v)", name, r.Supported())
	}

	hw, err := creator(logger)
	if err != nil {
		return nil, fmt.Errorf("バックエンド %s の作成に失敗: %w", name, err)
	}
	return hw, nil
}

// Supported は登録済みのバックエンド名を返す
func (r *HardwareRegistry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MockHardware はテスト用のモックバックエンド
type MockHardware struct {
	mu           sync.Mutex
	unavailable  map[string]bool
	configureErr error
	frameDelay   time.Duration
	failAfter    map[string]int
	panicOnRead  map[string]bool
	openDelay    time.Duration
	handles      map[string][]*MockHandle
}

// NewMockHardware は新しい MockHardware を作成する
func NewMockHardware() *MockHardware {
	return &MockHardware{
		unavailable: make(map[string]bool),
		failAfter:   make(map[string]int),
		panicOnRead: make(map[string]bool),
		handles:     make(map[string][]*MockHandle),
		frameDelay:  time.Millisecond,
	}
}

// SetUnavailable は指定アドレスの Open を失敗させる
func (m *MockHardware) SetUnavailable(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[address] = true
}

// SetConfigureError は全ハンドルの Configure を失敗させる
func (m *MockHardware) SetConfigureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// SetFrameDelay はフレームの生成間隔を設定する
func (m *MockHardware) SetFrameDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameDelay = d
}

// SetOpenDelay は Open にかかる時間を設定する
func (m *MockHardware) SetOpenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDelay = d
}

// FailAfter は指定アドレスで n 枚読んだ後に読み取りエラーを返させる
func (m *MockHardware) FailAfter(address string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter[address] = n
}

// PanicOnRead は指定アドレスの Read で panic させる
func (m *MockHardware) PanicOnRead(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicOnRead[address] = true
}

// Handles は指定アドレスで開かれたハンドルを返す
func (m *MockHardware) Handles(address string) []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockHandle(nil), m.handles[address]...)
}

// Open はモックハンドルを返す
func (m *MockHardware) Open(ctx context.Context, address string) (Handle, error) {
	m.mu.Lock()
	openDelay := m.openDelay
	m.mu.Unlock()

	if openDelay > 0 {
		select {
		case <-time.After(openDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable[address] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, address)
	}

	failAfter, fails := m.failAfter[address]
	if !fails {
		failAfter = -1
	}

	h := &MockHandle{
		address:      address,
		configureErr: m.configureErr,
		frameDelay:   m.frameDelay,
		failAfter:    failAfter,
		panicOnRead:  m.panicOnRead[address],
	}
	m.handles[address] = append(m.handles[address], h)
	return h, nil
}

// MockHandle はテスト用のモックハンドル
type MockHandle struct {
	address      string
	configureErr error
	frameDelay   time.Duration
	failAfter    int
	panicOnRead  bool

	mu         sync.Mutex
	configured bool
	format     string
	width      int
	height     int
	reads      int
	closed     int
}

// Configure は要求されたモードを記録する
func (h *MockHandle) Configure(_ context.Context, format string, width, height int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.configureErr != nil {
		return h.configureErr
	}
	h.configured = true
	h.format = format
	h.width = width
	h.height = height
	return nil
}

// Read は frameDelay ごとに連番入りのフレームを返す
func (h *MockHandle) Read(ctx context.Context) (Frame, error) {
	if h.panicOnRead {
		panic("mock: read panic")
	}

	h.mu.Lock()
	if h.closed > 0 {
		h.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: ハンドルはクローズ済み", ErrReadError)
	}
	if h.failAfter >= 0 && h.reads >= h.failAfter {
		h.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: デバイスが切断されました", ErrReadError)
	}
	h.reads++
	n := h.reads
	delay := h.frameDelay
	width, height := h.width, h.height
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	return Frame{
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Format:    FormatMJPG,
		Data:      []byte(fmt.Sprintf("%s#%d", h.address, n)),
	}, nil
}

// Close はクローズ回数を記録する
func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

// Closed はクローズ回数を返す
func (h *MockHandle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Configured は設定されたモードを返す
func (h *MockHandle) Configured() (string, int, int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format, h.width, h.height, h.configured
}

// Reads は読み取り回数を返す
func (h *MockHandle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}
