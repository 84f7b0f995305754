package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"hyakume/internal/camera"
	"hyakume/internal/config"
	"hyakume/internal/logging"
)

// Main はサブコマンドを解釈して実行し、終了コードを返す
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "capture":
		err = runCapture(ctx, args[1:], stderr)
	case "devices":
		err = runDevices(ctx, args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "不明なコマンド: %s\n\n", args[0])
		usage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, camera.ErrNoDevicesFound):
		fmt.Fprintln(stderr, "キャプチャデバイスが見つかりません")
		return 1
	default:
		fmt.Fprintf(stderr, "エラー: %v\n", err)
		return 1
	}
}

// usage はヘルプを表示する
func usage(w io.Writer) {
	fmt.Fprintln(w, "hyakume")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "使用方法:")
	fmt.Fprintln(w, "  hyakume capture [オプション]   全デバイスからキャプチャする")
	fmt.Fprintln(w, "  hyakume devices [オプション]   検出したデバイスを表示する")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "各コマンドのオプションは -h で表示されます")
}

// captureFlags は capture コマンドのオプション
type captureFlags struct {
	configPath string
	fps        bool
	capture    bool
	render     bool
	backend    string
	devices    string
	serve      bool
}

// parseCaptureFlags はオプションを解釈する
func parseCaptureFlags(args []string, stderr io.Writer) (*captureFlags, map[string]bool, error) {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &captureFlags{}
	fs.StringVar(&f.configPath, "config", "", "設定ファイルのパス (デフォルト: $HYAKUME_CONFIG)")
	fs.BoolVar(&f.fps, "fps", true, "フレームレートを報告する")
	fs.BoolVar(&f.capture, "capture", false, "フレームを取り出す（プレビューは表示しない）")
	fs.BoolVar(&f.render, "render", true, "プレビューウィンドウに表示する")
	fs.StringVar(&f.backend, "backend", "", "キャプチャバックエンド (ffmpeg / opencv / v4l2)")
	fs.StringVar(&f.devices, "devices", "", "カンマ区切りのデバイス一覧 (デフォルト: 自動検出)")
	fs.BoolVar(&f.serve, "serve", false, "ステータスAPIを起動する")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("不明な引数: %s", strings.Join(fs.Args(), " "))
	}

	// 明示的に指定されたオプションだけ設定を上書きする
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	return f, set, nil
}

// apply はコマンドラインオプションで設定を上書きする
func (f *captureFlags) apply(cfg *config.Config, set map[string]bool) {
	if set["fps"] {
		cfg.Options.ReportFrameRate = f.fps
	}
	if set["capture"] {
		cfg.Options.Capture = f.capture
	}
	if set["render"] {
		cfg.Options.Render = f.render
	}
	if set["backend"] {
		cfg.Capture.Backend = f.backend
	}
	if set["devices"] {
		cfg.Capture.Devices = splitList(f.devices)
	}
	if set["serve"] {
		cfg.Server.Enabled = f.serve
	}
}

// runCapture は capture コマンドを実行する
func runCapture(ctx context.Context, args []string, stderr io.Writer) error {
	flags, set, err := parseCaptureFlags(args, stderr)
	if err != nil {
		return err
	}

	// 設定を読み込む
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(cfg, set)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := New(cfg, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// runDevices は devices コマンドを実行する
func runDevices(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "設定ファイルのパス (デフォルト: $HYAKUME_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	infos, err := ListDevices(ctx, newDiscovery(cfg.Discovery))
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", info.Device, info.Name, info.Driver)
	}
	return nil
}

// splitList はカンマ区切りの文字列を分割する
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
