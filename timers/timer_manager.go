package timers

import (
	"time"

	"github.com/RussellLuo/timingwheel"
)

// TimerManager schedules dispatch deadlines on a shared timing wheel so
// each outstanding task does not cost a goroutine.
type TimerManager struct {
	wheel *timingwheel.TimingWheel
}

func NewTimerManager(tick time.Duration, wheelSize int64) *TimerManager {
	return &TimerManager{
		wheel: timingwheel.NewTimingWheel(tick, wheelSize),
	}
}

// AfterFunc runs task once delay elapses. The returned timer can be
// stopped when the awaited result arrives first.
func (m *TimerManager) AfterFunc(delay time.Duration, task func()) *timingwheel.Timer {
	return m.wheel.AfterFunc(delay, task)
}

func (m *TimerManager) Start() {
	m.wheel.Start()
}

func (m *TimerManager) Stop() {
	m.wheel.Stop()
}
