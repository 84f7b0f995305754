package camera

import (
	"context"
	"time"
)

// State はキャプチャデバイスのライフサイクル状態を表す
type State string

const (
	StateIdle      State = "idle"      // 生成直後、ハンドルなし
	StateConnected State = "connected" // ハンドル取得済み
	StateRunning   State = "running"   // プロデューサー動作中
	StateStopping  State = "stopping"  // 停止処理中
	StateStopped   State = "stopped"   // 停止済み（再利用不可）
)

// terminal は停止処理に入っているかを返す
func (s State) terminal() bool {
	return s == StateStopping || s == StateStopped
}

// ConfigureMode はデバイス設定に失敗した場合の扱いを表す
type ConfigureMode string

const (
	// ConfigureBestEffort は設定の失敗を警告に留め、ハードウェアの既定モードで続行する
	ConfigureBestEffort ConfigureMode = "best-effort"
	// ConfigureStrict は設定の失敗をエラーとして返す
	ConfigureStrict ConfigureMode = "strict"
)

// フレームのピクセルフォーマット
const (
	FormatMJPG  = "MJPG"  // 圧縮済みJPEG（キャプチャ時に要求する唯一のフォーマット）
	FormatBGR24 = "BGR24" // デコード済みBGR（OpenCVバックエンド）
)

// KeyEscape はプレビューを閉じるキャンセルキー
const KeyEscape = 27

// Frame はデバイスから取得した1枚のフレーム
type Frame struct {
	Seq       uint64    // デバイス内の連番（1始まり）
	Timestamp time.Time // 取得時刻
	Width     int       // 幅（不明な場合は0）
	Height    int       // 高さ（不明な場合は0）
	Format    string    // FormatMJPG または FormatBGR24
	Data      []byte    // フレームデータ
}

// Options はデバイスごとの動作フラグ
type Options struct {
	Render          bool // プレビューウィンドウに表示する
	CaptureEnabled  bool // GetFrame で呼び出し元にフレームを渡す
	ReportFrameRate bool // フレームレートを定期的に報告する
}

// DefaultOptions はコマンドの既定値（FPS報告あり、キャプチャなし、表示あり）を返す
func DefaultOptions() Options {
	return Options{
		Render:          true,
		CaptureEnabled:  false,
		ReportFrameRate: true,
	}
}

// renderMode はデバイス自身が表示ループを回すモードかを返す
func (o Options) renderMode() bool {
	return o.Render && !o.CaptureEnabled
}

// Settings は全デバイスで共有するキャプチャ設定
type Settings struct {
	Width         int           // 要求する画像幅
	Height        int           // 要求する画像高さ
	Format        string        // 要求するピクセルフォーマット
	ConfigureMode ConfigureMode // 設定失敗時の扱い
	Options       Options       // 動作フラグ
	PollInterval  time.Duration // キー入力のポーリング間隔
	CancelKey     int           // プレビューを閉じるキー
	FPSWindow     time.Duration // フレームレートの集計間隔
}

// DefaultSettings はデフォルトのキャプチャ設定を返す
func DefaultSettings() Settings {
	return Settings{
		Width:         1920,
		Height:        1080,
		Format:        FormatMJPG,
		ConfigureMode: ConfigureBestEffort,
		Options:       DefaultOptions(),
		PollInterval:  20 * time.Millisecond,
		CancelKey:     KeyEscape,
		FPSWindow:     DefaultFPSWindow,
	}
}

// withDefaults はゼロ値の項目を既定値で埋める
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Width <= 0 {
		s.Width = d.Width
	}
	if s.Height <= 0 {
		s.Height = d.Height
	}
	if s.Format == "" {
		s.Format = d.Format
	}
	if s.ConfigureMode == "" {
		s.ConfigureMode = d.ConfigureMode
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.CancelKey == 0 {
		s.CancelKey = d.CancelKey
	}
	if s.FPSWindow <= 0 {
		s.FPSWindow = d.FPSWindow
	}
	return s
}

// DeviceStatus はデバイスの状態のスナップショット
type DeviceStatus struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	Label           string    `json:"label"`
	State           State     `json:"state"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	FramesProduced  uint64    `json:"frames_produced"`
	FramesDelivered uint64    `json:"frames_delivered"`
	Queued          int       `json:"queued"`
	FPS             float64   `json:"fps"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はキャプチャ可能なデバイスのアドレスを順序付きで返す
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device string // デバイスパス
	Name   string // デバイス名
	Driver string // ドライバー名
}

// Hardware はデバイスアドレスからハンドルを開く
type Hardware interface {
	// Open はデバイスを開く。開けない場合は ErrDeviceUnavailable を返す
	Open(ctx context.Context, address string) (Handle, error)
}

// Handle は開かれた1台のデバイス
//
// Configure と Read はプロデューサー側からのみ呼ばれ、Close は Read が
// 終了した後に一度だけ呼ばれる。
type Handle interface {
	// Configure はピクセルフォーマットと解像度を設定する
	Configure(ctx context.Context, format string, width, height int) error

	// Read は次のフレームを読み取る。失敗時は ErrReadError を返す
	Read(ctx context.Context) (Frame, error)

	// Close はハンドルを解放する
	Close() error
}

// Renderer はプレビューウィンドウへの表示を担う
type Renderer interface {
	// Show はラベルで識別されるウィンドウにフレームを表示する
	Show(label string, frame Frame) error

	// PollKey は最大 timeout だけキー入力を待つ。入力がなければ false を返す
	PollKey(label string, timeout time.Duration) (int, bool)

	// Close はラベルのウィンドウを破棄する
	Close(label string) error
}
