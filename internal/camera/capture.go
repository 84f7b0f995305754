package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FFmpegHardware は ffmpeg を使ってV4L2デバイスからMJPEGフレームを取得する
type FFmpegHardware struct {
	ffmpeg  string
	v4l2ctl string
	logger  *zap.Logger
}

// NewFFmpegHardware は新しい FFmpegHardware を作成する
func NewFFmpegHardware(logger *zap.Logger) *FFmpegHardware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegHardware{
		ffmpeg:  "ffmpeg",
		v4l2ctl: "v4l2-ctl",
		logger:  logger,
	}
}

// Open はデバイスファイルと ffmpeg の存在を確認してハンドルを返す
//
// ffmpeg プロセスは最初の Read で起動する。
func (h *FFmpegHardware) Open(_ context.Context, address string) (Handle, error) {
	file, err := os.OpenFile(address, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	_ = file.Close()

	if _, err := exec.LookPath(h.ffmpeg); err != nil {
		return nil, fmt.Errorf("%w: ffmpegが見つかりません: %w", ErrDeviceUnavailable, err)
	}

	return &ffmpegHandle{
		hw:     h,
		device: address,
		logger: h.logger.With(zap.String("device", address)),
	}, nil
}

// ffmpegHandle は ffmpeg プロセス1つ分のストリーム
type ffmpegHandle struct {
	hw     *FFmpegHardware
	device string
	logger *zap.Logger

	// Configure が成功した場合のみ設定される
	width  int
	height int

	startOnce sync.Once
	startErr  error
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	frames    chan []byte
	done      chan struct{}
	logDone   chan struct{}
	streamErr error
}

// Configure は v4l2-ctl でMJPEGと解像度を設定する
func (c *ffmpegHandle) Configure(ctx context.Context, format string, width, height int) error {
	if format != FormatMJPG {
		return fmt.Errorf("サポートされていないフォーマット: %s", format)
	}

	cmd := exec.CommandContext(ctx, c.hw.v4l2ctl,
		"--device", c.device,
		"--set-fmt-video", fmt.Sprintf("width=%d,height=%d,pixelformat=MJPG", width, height),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("v4l2-ctlによる設定に失敗: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	c.width = width
	c.height = height
	return nil
}

// args は ffmpeg の引数を組み立てる
func (c *ffmpegHandle) args() []string {
	// 設定に失敗していても入力は常にMJPEGに固定する
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2", "-input_format", "mjpeg"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	// 再エンコードせずにJPEGをそのまま連結して出力する
	return append(args, "-i", c.device, "-c:v", "copy", "-f", "image2pipe", "-")
}

// start は ffmpeg を起動してフレーム読み取りゴルーチンを開始する
func (c *ffmpegHandle) start() error {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cmd := exec.CommandContext(ctx, c.hw.ffmpeg, c.args()...)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			c.startErr = fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			cancel()
			c.startErr = fmt.Errorf("stderrパイプの作成に失敗: %w", err)
			return
		}
		if err := cmd.Start(); err != nil {
			cancel()
			c.startErr = fmt.Errorf("ffmpegの起動に失敗: %w", err)
			return
		}

		c.cmd = cmd
		c.cancel = cancel
		c.frames = make(chan []byte)
		c.done = make(chan struct{})
		c.logDone = make(chan struct{})

		// stderrはデバッグログに流す
		go func() {
			defer close(c.logDone)
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				c.logger.Debug("ffmpeg", zap.String("stderr", scanner.Text()))
			}
		}()

		go c.readLoop(ctx, stdout)
	})
	return c.startErr
}

// readLoop は stdout からJPEGを切り出して frames に送る
func (c *ffmpegHandle) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(c.done)

	var splitter jpegSplitter
	buffer := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buffer)
		if n > 0 {
			splitter.Write(buffer[:n])
			for {
				frame, ok := splitter.Next()
				if !ok {
					break
				}
				select {
				case c.frames <- frame:
				case <-ctx.Done():
					c.streamErr = ctx.Err()
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.streamErr = fmt.Errorf("%w: ffmpegのストリームが終了しました", ErrReadError)
			} else {
				c.streamErr = fmt.Errorf("%w: %w", ErrReadError, err)
			}
			return
		}
	}
}

// Read は次のJPEGフレームを返す
func (c *ffmpegHandle) Read(ctx context.Context) (Frame, error) {
	if err := c.start(); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrReadError, err)
	}

	select {
	case data := <-c.frames:
		return Frame{
			Width:  c.width,
			Height: c.height,
			Format: FormatMJPG,
			Data:   data,
		}, nil
	case <-c.done:
		return Frame{}, c.streamErr
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close は ffmpeg プロセスを終了させる
func (c *ffmpegHandle) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	// パイプを読み終えてから Wait する
	<-c.logDone
	// キャンセルによる終了ステータスは無視する
	_ = c.cmd.Wait()
	return nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// jpegSplitter は連結されたJPEGのバイト列を1枚ずつに分割する
type jpegSplitter struct {
	buf bytes.Buffer
}

// Write はデータを追加する
func (s *jpegSplitter) Write(p []byte) {
	s.buf.Write(p)
}

// Next は完全なJPEGが揃っていれば1枚取り出す
func (s *jpegSplitter) Next() ([]byte, bool) {
	data := s.buf.Bytes()

	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// 開始マーカーの前半だけが末尾にある場合に備えて1バイト残す
		if len(data) > 0 && data[len(data)-1] == 0xFF {
			s.buf.Next(len(data) - 1)
		} else {
			s.buf.Reset()
		}
		return nil, false
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		// 開始マーカーより前のゴミを捨てる
		s.buf.Next(start)
		return nil, false
	}
	end += start + len(jpegSOI) + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	s.buf.Next(end)
	return frame, true
}
