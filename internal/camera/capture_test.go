package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func fakeJPEG(payload ...byte) []byte {
	data := []byte{0xFF, 0xD8}
	data = append(data, payload...)
	return append(data, 0xFF, 0xD9)
}

func TestJPEGSplitter_SplitsConcatenatedFrames(t *testing.T) {
	first := fakeJPEG(1, 2, 3)
	second := fakeJPEG(4, 5)

	var splitter jpegSplitter
	splitter.Write(append(append([]byte{}, first...), second...))

	for i, want := range [][]byte{first, second} {
		got, ok := splitter.Next()
		if !ok {
			t.Fatalf("Expected frame %d", i)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Frame %d: expected %x, got %x", i, want, got)
		}
	}

	if _, ok := splitter.Next(); ok {
		t.Error("Expected no more frames")
	}
}

func TestJPEGSplitter_PartialWrites(t *testing.T) {
	frame := fakeJPEG(9, 8, 7, 6)

	var splitter jpegSplitter
	// 1バイトずつ届いても最後に1枚だけ取り出せる
	for i, b := range frame {
		splitter.Write([]byte{b})
		got, ok := splitter.Next()
		if i < len(frame)-1 {
			if ok {
				t.Fatalf("Unexpected frame after %d bytes", i+1)
			}
			continue
		}
		if !ok || !bytes.Equal(got, frame) {
			t.Fatalf("Expected complete frame %x, got %x (ok=%v)", frame, got, ok)
		}
	}
}

func TestJPEGSplitter_SkipsLeadingGarbage(t *testing.T) {
	frame := fakeJPEG(0x42)

	var splitter jpegSplitter
	splitter.Write([]byte{0x00, 0x11, 0x22})
	if _, ok := splitter.Next(); ok {
		t.Fatal("Expected no frame from garbage")
	}

	splitter.Write([]byte{0x33})
	splitter.Write(frame)

	got, ok := splitter.Next()
	if !ok || !bytes.Equal(got, frame) {
		t.Errorf("Expected %x, got %x (ok=%v)", frame, got, ok)
	}
}

func TestJPEGSplitter_MarkerSplitAcrossWrites(t *testing.T) {
	frame := fakeJPEG(0x10, 0x20)

	var splitter jpegSplitter
	splitter.Write([]byte{0x00, 0xFF})
	if _, ok := splitter.Next(); ok {
		t.Fatal("Unexpected frame")
	}
	splitter.Write(frame[1:])

	got, ok := splitter.Next()
	if !ok || !bytes.Equal(got, frame) {
		t.Errorf("Expected %x, got %x (ok=%v)", frame, got, ok)
	}
}

func TestFFmpegHandle_Args(t *testing.T) {
	h := &ffmpegHandle{device: "/dev/video0"}

	// 未設定でも入力フォーマットはMJPEGに固定される
	expected := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2",
		"-input_format", "mjpeg",
		"-i", "/dev/video0", "-c:v", "copy", "-f", "image2pipe", "-"}
	if got := h.args(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}

	h.width, h.height = 1920, 1080
	expected = []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2",
		"-input_format", "mjpeg", "-video_size", "1920x1080",
		"-i", "/dev/video0", "-c:v", "copy", "-f", "image2pipe", "-"}
	if got := h.args(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestFFmpegHandle_ArgsAfterFailedConfigure(t *testing.T) {
	hw := NewFFmpegHardware(zaptest.NewLogger(t))
	hw.v4l2ctl = filepath.Join(t.TempDir(), "missing-v4l2-ctl")
	h := &ffmpegHandle{hw: hw, device: "/dev/video0"}

	if err := h.Configure(context.Background(), FormatMJPG, 1280, 720); err == nil {
		t.Fatal("Expected configure to fail without v4l2-ctl")
	}

	args := strings.Join(h.args(), " ")
	if !strings.Contains(args, "-input_format mjpeg") {
		t.Errorf("Expected mjpeg input format after failed configure, got %s", args)
	}
	if strings.Contains(args, "-video_size") {
		t.Errorf("Expected no video size after failed configure, got %s", args)
	}
}

// writeFakeFFmpeg は引数を記録し、JPEGを1枚出力して待ち続けるスクリプトを作る
func writeFakeFFmpeg(t *testing.T, dir string) (string, string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh is not available")
	}

	argsFile := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "ffmpeg")
	content := "#!/bin/sh\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"echo 'ffmpeg warning' >&2\n" +
		"printf '\\377\\330\\001\\002\\377\\331'\n" +
		"exec sleep 30\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return script, argsFile
}

func TestFFmpegHandle_ReadAndClose(t *testing.T) {
	dir := t.TempDir()
	script, argsFile := writeFakeFFmpeg(t, dir)

	device := filepath.Join(dir, "video0")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("Failed to create device file: %v", err)
	}

	hw := NewFFmpegHardware(zaptest.NewLogger(t))
	hw.ffmpeg = script

	handle, err := hw.Open(context.Background(), device)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := handle.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := fakeJPEG(1, 2); !bytes.Equal(frame.Data, want) {
		t.Errorf("Expected %x, got %x", want, frame.Data)
	}
	if frame.Format != FormatMJPG {
		t.Errorf("Expected MJPG frame, got %s", frame.Format)
	}

	closed := make(chan error, 1)
	go func() {
		closed <- handle.Close()
	}()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	// Close が戻った時点で stderr の読み取りは終わっている
	h := handle.(*ffmpegHandle)
	select {
	case <-h.logDone:
	default:
		t.Error("Expected stderr reader to finish before Close returns")
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("Failed to read recorded args: %v", err)
	}
	if !strings.Contains(string(recorded), "-input_format mjpeg") {
		t.Errorf("Expected mjpeg input format, got %s", recorded)
	}
}

func TestFFmpegHardware_OpenMissingDevice(t *testing.T) {
	hw := NewFFmpegHardware(zaptest.NewLogger(t))

	_, err := hw.Open(context.Background(), "/dev/video999")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFFmpegHandle_ConfigureRejectsFormat(t *testing.T) {
	h := &ffmpegHandle{hw: NewFFmpegHardware(nil), device: "/dev/video0"}

	if err := h.Configure(context.Background(), "YUYV", 640, 480); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if h.width != 0 || h.height != 0 {
		t.Error("Expected size to stay unset after failed configure")
	}
}

func TestHardwareRegistry(t *testing.T) {
	registry := NewHardwareRegistry()
	logger := zaptest.NewLogger(t)

	hw, err := registry.Create(BackendFFmpeg, logger)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := hw.(*FFmpegHardware); !ok {
		t.Errorf("Expected *FFmpegHardware, got %T", hw)
	}

	mock := NewMockHardware()
	registry.Register("mock", func(*zap.Logger) (Hardware, error) { return mock, nil })
	registry.Register("broken", func(*zap.Logger) (Hardware, error) { return nil, errors.New("no opencv") })

	if got := registry.Supported(); !reflect.DeepEqual(got, []string{"broken", BackendFFmpeg, "mock"}) {
		t.Errorf("Unexpected supported backends: %v", got)
	}

	if hw, err := registry.Create("mock", logger); err != nil || hw != Hardware(mock) {
		t.Errorf("Expected registered mock, got %v (err=%v)", hw, err)
	}
	if _, err := registry.Create("broken", logger); err == nil {
		t.Error("Expected creator error to be returned")
	}
	if _, err := registry.Create("unknown", logger); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
