package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultDevicePattern はデバイスノードの検索パターン
const DefaultDevicePattern = "/dev/video*"

// CapabilityCheck はデバイスがビデオキャプチャに対応しているかを判定する
type CapabilityCheck func(ctx context.Context, device string) bool

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
	check   CapabilityCheck
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
//
// pattern が空なら DefaultDevicePattern、check が nil なら UdevadmCheck を使う。
func NewLinuxDiscovery(pattern string, check CapabilityCheck) *LinuxDiscovery {
	if pattern == "" {
		pattern = DefaultDevicePattern
	}
	if check == nil {
		check = UdevadmCheck
	}
	return &LinuxDiscovery{
		pattern: pattern,
		check:   check,
	}
}

// ScanDevices はキャプチャ可能なデバイスをデバイス番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート（video10 が video2 より前に来ないように）
	sort.SliceStable(matches, func(i, j int) bool {
		numI := extractDeviceNumber(matches[i])
		numJ := extractDeviceNumber(matches[j])
		if numI != numJ {
			return numI < numJ
		}
		return matches[i] < matches[j]
	})

	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}
		// メタデータ専用ノードなどキャプチャできないものは除外
		if !d.check(ctx, match) {
			continue
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	// デバイスファイルの存在確認
	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()

	return isVideoNode(device)
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	}

	info := &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("カメラ %d", extractDeviceNumber(device)),
	}

	// v4l2-ctlを使って実際のカメラ名とドライバーを取得
	fields := v4l2Info(ctx, device)
	if name := fields["Card type"]; name != "" {
		info.Name = name
	}
	info.Driver = fields["Driver name"]

	return info, nil
}

// isVideoNode はファイル名が videoN の形式かチェックする
func isVideoNode(device string) bool {
	return videoNodePattern.MatchString(filepath.Base(device))
}

var (
	videoNodePattern   = regexp.MustCompile(`^video\d+$`)
	deviceNumberRegexp = regexp.MustCompile(`video(\d+)`)
)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	// /dev/videoXX から XX を抽出
	matches := deviceNumberRegexp.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// v4l2Info は v4l2-ctl --info の "キー : 値" 行を返す
func v4l2Info(ctx context.Context, device string) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields := make(map[string]string)
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return fields
	}

	for _, line := range strings.Split(string(output), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// UdevadmCheck は udev のプロパティ ID_V4L_CAPABILITIES に capture が含まれるかで判定する
func UdevadmCheck(ctx context.Context, device string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "udevadm", "info", "--query=property", "--name", device)
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return hasCaptureCapability(string(output))
}

// hasCaptureCapability は udevadm の出力にキャプチャ能力があるかを返す
func hasCaptureCapability(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		// "E: " 接頭辞付きの形式にも対応する
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "E:"))
		value, ok := strings.CutPrefix(line, "ID_V4L_CAPABILITIES=")
		if !ok {
			continue
		}
		for _, capability := range strings.Split(value, ":") {
			if capability == "capture" {
				return true
			}
		}
	}
	return false
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.Mutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
	scanErr     error
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{
		deviceInfos: make(map[string]*DeviceInfo),
	}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// SetScanError は ScanDevices を失敗させる
func (m *MockDiscovery) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.deviceInfos[device]
	return exists
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}

	// コピーを返す
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 重複チェック
	if _, exists := m.deviceInfos[device]; exists {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver: "mock",
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}

	delete(m.deviceInfos, device)
}
