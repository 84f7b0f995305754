package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestOrchestrator_StartAllAndStopAll(t *testing.T) {
	ctx := context.Background()
	addresses := []string{"/dev/video0", "/dev/video2", "/dev/video4"}
	hw := NewMockHardware()

	o := NewOrchestrator(NewMockDiscovery(addresses), hw, nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	devices := o.Devices()
	if len(devices) != len(addresses) {
		t.Fatalf("Expected %d devices, got %d", len(addresses), len(devices))
	}
	for i, d := range devices {
		if d.Address() != addresses[i] {
			t.Errorf("Expected device %s at %d, got %s", addresses[i], i, d.Address())
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, d := range devices {
			if d.State() != StateRunning {
				return false
			}
		}
		return true
	})

	for _, d := range devices {
		if _, err := d.GetFrame(ctx); err != nil {
			t.Errorf("GetFrame on %s failed: %v", d.Address(), err)
		}
	}

	if err := o.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	for _, d := range devices {
		if d.State() != StateStopped {
			t.Errorf("Expected %s to be stopped, got %s", d.Address(), d.State())
		}
		if _, err := d.GetFrame(ctx); !errors.Is(err, ErrEndOfStream) {
			t.Errorf("Expected ErrEndOfStream from %s, got %v", d.Address(), err)
		}
	}
	for _, address := range addresses {
		for _, h := range hw.Handles(address) {
			if h.Closed() != 1 {
				t.Errorf("Expected handle of %s to be closed once, got %d", address, h.Closed())
			}
		}
	}

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Error("Expected supervisors to finish after StopAll")
	}
}

func TestOrchestrator_NoDevicesFound(t *testing.T) {
	o := NewOrchestrator(NewMockDiscovery(nil), NewMockHardware(), nil, captureSettings(), zaptest.NewLogger(t))

	if err := o.Start(context.Background()); !errors.Is(err, ErrNoDevicesFound) {
		t.Fatalf("Expected ErrNoDevicesFound, got %v", err)
	}
	if len(o.Devices()) != 0 {
		t.Errorf("Expected no devices to be constructed, got %d", len(o.Devices()))
	}

	if err := o.StartAll(context.Background(), []string{}); !errors.Is(err, ErrNoDevicesFound) {
		t.Errorf("Expected ErrNoDevicesFound from StartAll, got %v", err)
	}
}

func TestOrchestrator_DiscoveryError(t *testing.T) {
	discovery := NewMockDiscovery([]string{"/dev/video0"})
	scanErr := errors.New("glob failed")
	discovery.SetScanError(scanErr)

	o := NewOrchestrator(discovery, NewMockHardware(), nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(context.Background()); !errors.Is(err, scanErr) {
		t.Errorf("Expected scan error, got %v", err)
	}
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	hw := NewMockHardware()
	hw.SetUnavailable("/dev/video1")
	hw.FailAfter("/dev/video2", 2)

	addresses := []string{"/dev/video0", "/dev/video1", "/dev/video2"}
	o := NewOrchestrator(NewMockDiscovery(addresses), hw, nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = o.StopAll(ctx) }()

	devices := o.Devices()

	// 開けないデバイスと途中で切断されたデバイスは自分だけ停止する
	waitFor(t, 2*time.Second, func() bool {
		return devices[1].State() == StateStopped && devices[2].State() == StateStopped
	})

	healthy := devices[0]
	if healthy.State() != StateRunning {
		t.Fatalf("Expected healthy device to keep running, got %s", healthy.State())
	}
	for i := 0; i < 10; i++ {
		if _, err := healthy.GetFrame(ctx); err != nil {
			t.Fatalf("GetFrame on healthy device failed: %v", err)
		}
	}

	statuses := o.Statuses()
	if statuses[1].LastError == "" || statuses[2].LastError == "" {
		t.Errorf("Expected failures to be recorded: %+v", statuses)
	}
	if statuses[0].LastError != "" {
		t.Errorf("Expected healthy device to have no error, got %q", statuses[0].LastError)
	}
}

func TestOrchestrator_PanicIsolation(t *testing.T) {
	ctx := context.Background()
	hw := NewMockHardware()
	hw.PanicOnRead("/dev/video1")

	o := NewOrchestrator(NewMockDiscovery([]string{"/dev/video0", "/dev/video1"}), hw, nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = o.StopAll(ctx) }()

	devices := o.Devices()
	waitFor(t, 2*time.Second, func() bool { return devices[1].State() == StateStopped })

	if _, err := devices[0].GetFrame(ctx); err != nil {
		t.Errorf("Expected other device to keep working, got %v", err)
	}
}

func TestOrchestrator_StartAllDoesNotBlock(t *testing.T) {
	hw := NewMockHardware()
	hw.SetOpenDelay(time.Second)

	o := NewOrchestrator(NewMockDiscovery(nil), hw, nil, captureSettings(), zaptest.NewLogger(t))

	start := time.Now()
	if err := o.StartAll(context.Background(), []string{"/dev/video0", "/dev/video1"}); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("StartAll blocked for %v", elapsed)
	}

	// 接続中でも停止できる
	if err := o.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	for _, d := range o.Devices() {
		if d.State() != StateStopped {
			t.Errorf("Expected %s to be stopped, got %s", d.Address(), d.State())
		}
	}

	// 遅れて開いたハンドルも閉じられる
	select {
	case <-o.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Supervisors did not finish")
	}
	for _, address := range []string{"/dev/video0", "/dev/video1"} {
		for _, h := range hw.Handles(address) {
			if h.Closed() != 1 {
				t.Errorf("Expected late handle of %s to be closed, got %d", address, h.Closed())
			}
		}
	}
}

func TestOrchestrator_StartTwice(t *testing.T) {
	ctx := context.Background()
	o := NewOrchestrator(NewMockDiscovery([]string{"/dev/video0"}), NewMockHardware(), nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = o.StopAll(ctx) }()

	if err := o.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second start, got %v", err)
	}
}

func TestOrchestrator_StopDevice(t *testing.T) {
	ctx := context.Background()
	o := NewOrchestrator(NewMockDiscovery([]string{"/dev/video0", "/dev/video1"}), NewMockHardware(), nil, captureSettings(), zaptest.NewLogger(t))
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = o.StopAll(ctx) }()

	devices := o.Devices()
	waitFor(t, 2*time.Second, func() bool {
		return devices[0].State() == StateRunning && devices[1].State() == StateRunning
	})

	if err := o.StopDevice(devices[0].ID()); err != nil {
		t.Fatalf("StopDevice failed: %v", err)
	}
	if devices[0].State() != StateStopped {
		t.Errorf("Expected stopped, got %s", devices[0].State())
	}
	if devices[1].State() != StateRunning {
		t.Errorf("Expected other device to keep running, got %s", devices[1].State())
	}

	if err := o.StopDevice("unknown"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestOrchestrator_RunUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hw := NewMockHardware()

	o := NewOrchestrator(NewMockDiscovery([]string{"/dev/video0", "/dev/video1"}), hw, nil, captureSettings(), zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool {
		devices := o.Devices()
		return len(devices) == 2 && devices[0].State() == StateRunning && devices[1].State() == StateRunning
	})
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for _, d := range o.Devices() {
		if d.State() != StateStopped {
			t.Errorf("Expected %s to be stopped, got %s", d.Address(), d.State())
		}
	}
}

func TestOrchestrator_RunReturnsWhenAllWindowsClosed(t *testing.T) {
	renderer := NewMockRenderer()
	renderer.PressKeyAfter("/dev/video0", 3, KeyEscape)
	renderer.PressKeyAfter("/dev/video1", 5, KeyEscape)

	settings := DefaultSettings()
	settings.Options = Options{Render: true}
	o := NewOrchestrator(NewMockDiscovery([]string{"/dev/video0", "/dev/video1"}), NewMockHardware(), renderer, settings, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after all windows were closed")
	}

	if renderer.ClosedCount("/dev/video0") != 1 || renderer.ClosedCount("/dev/video1") != 1 {
		t.Error("Expected every window to be destroyed")
	}
}
