package camera

import (
	"sync"
	"time"
)

// DefaultFPSWindow はフレームレートの集計間隔
const DefaultFPSWindow = 5 * time.Second

// FPSMeter は一定間隔ごとにフレームレートを算出する
type FPSMeter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	start  time.Time
	count  int
	last   float64
}

// NewFPSMeter は FPSMeter を作成する。now が nil の場合は time.Now を使う
func NewFPSMeter(window time.Duration, now func() time.Time) *FPSMeter {
	if window <= 0 {
		window = DefaultFPSWindow
	}
	if now == nil {
		now = time.Now
	}
	return &FPSMeter{
		window: window,
		now:    now,
		start:  now(),
	}
}

// Tick はフレームを1枚数える
//
// 前回の報告から window 以上経過していれば、その間のフレームレートを返し
// カウンタと開始時刻をリセットする。
func (m *FPSMeter) Tick() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	elapsed := m.now().Sub(m.start)
	if elapsed < m.window {
		return 0, false
	}

	rate := float64(m.count) / elapsed.Seconds()
	m.last = rate
	m.count = 0
	m.start = m.now()
	return rate, true
}

// Reset はカウンタを捨てて集計区間を今から始め直す
func (m *FPSMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.start = m.now()
}

// Last は直近に報告したフレームレートを返す
func (m *FPSMeter) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Count は現在の集計区間で数えたフレーム数を返す
func (m *FPSMeter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
