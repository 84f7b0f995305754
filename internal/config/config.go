package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Options   OptionsConfig   `yaml:"options"`
	Render    RenderConfig    `yaml:"render"`
	FPS       FPSConfig       `yaml:"fps"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// CaptureConfig はキャプチャデバイスの設定
type CaptureConfig struct {
	Width         int      `yaml:"width"`          // 要求する画像幅
	Height        int      `yaml:"height"`         // 要求する画像高さ
	Format        string   `yaml:"format"`         // ピクセルフォーマット（MJPGのみ）
	Backend       string   `yaml:"backend"`        // ffmpeg / opencv / v4l2
	ConfigureMode string   `yaml:"configure_mode"` // best-effort / strict
	Devices       []string `yaml:"devices"`        // 明示的なデバイス一覧（空なら自動検出）
}

// DiscoveryConfig はデバイス検出の設定
type DiscoveryConfig struct {
	Pattern    string `yaml:"pattern"`    // デバイスノードの検索パターン
	Capability string `yaml:"capability"` // キャプチャ能力の判定方法 (udevadm / v4l2)
}

// OptionsConfig はデバイスごとの動作フラグ
type OptionsConfig struct {
	ReportFrameRate bool `yaml:"report_frame_rate"` // フレームレートを報告する
	Capture         bool `yaml:"capture"`           // GetFrame でフレームを取り出す
	Render          bool `yaml:"render"`            // プレビューウィンドウに表示する
}

// RenderConfig はプレビュー表示の設定
type RenderConfig struct {
	Backend      string        `yaml:"backend"`       // opencv / log
	PollInterval time.Duration `yaml:"poll_interval"` // キー入力のポーリング間隔
	CancelKey    int           `yaml:"cancel_key"`    // ウィンドウを閉じるキー
}

// FPSConfig はフレームレート計測の設定
type FPSConfig struct {
	Window time.Duration `yaml:"window"` // 集計間隔
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"` // ステータスAPIを起動する
	Host    string `yaml:"host"`    // リッスンするホスト
	Port    int    `yaml:"port"`    // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level       string `yaml:"level"`       // debug / info / warn / error
	Development bool   `yaml:"development"` // 開発者向けの読みやすい出力
}

// 設定ファイルと環境変数の名前
const (
	EnvConfigPath = "HYAKUME_CONFIG"
	EnvLogLevel   = "HYAKUME_LOG_LEVEL"
	EnvBackend    = "HYAKUME_BACKEND"
	EnvServerHost = "SERVER_HOST"
	EnvServerPort = "PORT"
)

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Width:         1920,
			Height:        1080,
			Format:        "MJPG",
			Backend:       "ffmpeg",
			ConfigureMode: "best-effort",
		},
		Discovery: DiscoveryConfig{
			Pattern:    "/dev/video*",
			Capability: "udevadm",
		},
		Options: OptionsConfig{
			ReportFrameRate: true,
			Capture:         false,
			Render:          true,
		},
		Render: RenderConfig{
			Backend:      "opencv",
			PollInterval: 20 * time.Millisecond,
			CancelKey:    27,
		},
		FPS: FPSConfig{
			Window: 5 * time.Second,
		},
		Server: ServerConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値の上に設定ファイル（path が空なら HYAKUME_CONFIG、それも空なら読まない）を重ね、
// 最後に環境変数で上書きしてから検証する。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault(EnvServerHost, c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault(EnvServerPort, c.Server.Port)
	c.Log.Level = getEnvOrDefault(EnvLogLevel, c.Log.Level)
	c.Capture.Backend = getEnvOrDefault(EnvBackend, c.Capture.Backend)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// キャプチャ設定の検証
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("無効な解像度: %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.Format != "MJPG" {
		errs = append(errs, fmt.Errorf("サポートされていないフォーマット: %s", c.Capture.Format))
	}
	switch c.Capture.ConfigureMode {
	case "best-effort", "strict":
	default:
		errs = append(errs, fmt.Errorf("無効な configure_mode: %s", c.Capture.ConfigureMode))
	}
	if c.Capture.Backend == "" {
		errs = append(errs, errors.New("キャプチャバックエンドが指定されていません"))
	}

	// 検出設定の検証
	switch c.Discovery.Capability {
	case "udevadm", "v4l2":
	default:
		errs = append(errs, fmt.Errorf("無効な capability: %s", c.Discovery.Capability))
	}

	// 表示設定の検証
	switch c.Render.Backend {
	case "opencv", "log":
	default:
		errs = append(errs, fmt.Errorf("無効なレンダラー: %s", c.Render.Backend))
	}
	if c.Render.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("無効なポーリング間隔: %v", c.Render.PollInterval))
	}
	if c.FPS.Window <= 0 {
		errs = append(errs, fmt.Errorf("無効なFPS集計間隔: %v", c.FPS.Window))
	}

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
