package transport

import (
	"fmt"
	"math"
	"sync"
)

// Transport 单个播放单元的位置/方向/循环状态机
// 所有方法并发安全；位置始终落在 [trimIn, trimOut] 内
type Transport struct {
	mu sync.Mutex

	state    State
	mode     Mode
	position float64
	speed    float64
	reverse  bool
	// direction 乒乓模式下的运动方向，与 reverse 相乘得到实际方向
	direction int

	loopCount     uint32
	loopIteration uint32
	loopSignaled  bool
	finished      bool
	// wraps 单调递增的绕回次数，不受循环次数上限影响
	wraps uint64

	trimIn  float64
	trimOut float64

	defaults      Preferences
	preserve      bool
	speedModified bool
	modeModified  bool
}

// New 创建传输状态机，初始为 Idle、Repeat、无界片段
func New(prefs Preferences) *Transport {
	if prefs.Speed <= 0 || math.IsNaN(prefs.Speed) {
		prefs.Speed = 1
	}
	return &Transport{
		state:     StateIdle,
		mode:      ModeRepeat,
		speed:     prefs.Speed,
		reverse:   prefs.Reverse,
		loopCount: prefs.LoopCount,
		direction: 1,
		trimOut:   math.Inf(1),
		defaults:  prefs,
	}
}

// Advance 推进 frames 帧（已按 fps 折算的 dt），仅在 Playing 状态下生效
func (t *Transport) Advance(frames float64) Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePlaying || frames <= 0 || t.speed == 0 || t.finished {
		return SignalNone
	}

	dir := t.effectiveDirection()
	next := t.position + t.speed*float64(dir)*frames
	bounded := !math.IsInf(t.trimOut, 1)

	switch t.mode {
	case ModePlayOnce:
		if bounded && dir > 0 && next >= t.trimOut {
			t.position = t.trimOut
			t.finished = true
			return SignalClipFinished
		}
		if dir < 0 && next <= t.trimIn {
			t.position = t.trimIn
			t.finished = true
			return SignalClipFinished
		}

	case ModePingPong:
		if bounded && dir > 0 && next >= t.trimOut {
			t.position = t.trimOut
			t.direction = -t.direction
			if t.startBound() == t.trimOut {
				return t.completeLoop()
			}
			return SignalNone
		}
		if dir < 0 && next <= t.trimIn {
			t.position = t.trimIn
			t.direction = -t.direction
			if t.startBound() == t.trimIn {
				return t.completeLoop()
			}
			return SignalNone
		}

	default:
		if bounded && dir > 0 && next > t.trimOut {
			t.position = t.trimIn
			return t.completeLoop()
		}
		if dir < 0 && next < t.trimIn {
			if !bounded {
				// 无界片段倒放时无处可绕回，停在起点
				t.position = t.trimIn
				return SignalNone
			}
			t.position = t.trimOut
			return t.completeLoop()
		}
	}

	t.position = next
	return SignalNone
}

// completeLoop 记一次循环并决定是否发信号，需要持有锁
// loopCount 为 0 时每次都发；否则只在第 N 次发一次，计数停在 N
func (t *Transport) completeLoop() Signal {
	t.wraps++
	if t.loopCount == 0 {
		t.loopIteration++
		return SignalLoopCompleted
	}
	if t.loopIteration < t.loopCount {
		t.loopIteration++
	}
	if t.loopIteration >= t.loopCount && !t.loopSignaled {
		t.loopSignaled = true
		return SignalLoopCompleted
	}
	return SignalNone
}

// effectiveDirection 需要持有锁
func (t *Transport) effectiveDirection() int {
	if t.reverse {
		return -t.direction
	}
	return t.direction
}

// startBound 播放起点，倒放且有界时为 trimOut，需要持有锁
func (t *Transport) startBound() float64 {
	if t.reverse && !math.IsInf(t.trimOut, 1) {
		return t.trimOut
	}
	return t.trimIn
}

func (t *Transport) clampPosition() {
	if t.position < t.trimIn {
		t.position = t.trimIn
	}
	if t.position > t.trimOut {
		t.position = t.trimOut
	}
}

// rewind 回到起点并清空循环计数，需要持有锁
func (t *Transport) rewind() {
	t.direction = 1
	t.position = t.startBound()
	t.loopIteration = 0
	t.loopSignaled = false
	t.finished = false
}

// LoadClip 为新片段重置状态
// 未设置保留标志时速度、倒放、循环次数回到默认偏好
func (t *Transport) LoadClip(trimIn, trimOut float64) error {
	if err := validateTrim(trimIn, trimOut); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.trimIn = trimIn
	t.trimOut = trimOut
	if !t.preserve {
		t.speed = t.defaults.Speed
		t.reverse = t.defaults.Reverse
		t.loopCount = t.defaults.LoopCount
		t.speedModified = false
	}
	t.rewind()
	return nil
}

func validateTrim(trimIn, trimOut float64) error {
	if math.IsNaN(trimIn) || math.IsNaN(trimOut) || math.IsInf(trimIn, 0) {
		return fmt.Errorf("invalid trim range [%v, %v]", trimIn, trimOut)
	}
	if trimIn < 0 || trimOut < trimIn {
		return fmt.Errorf("invalid trim range [%v, %v]", trimIn, trimOut)
	}
	return nil
}

// Play 开始或继续播放；从 Stopped 重新开始时回到起点
func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStopped {
		t.rewind()
	}
	t.state = StatePlaying
}

// Pause 暂停，只在 Playing 时生效
func (t *Transport) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePlaying {
		return false
	}
	t.state = StatePaused
	return true
}

// Resume 从暂停恢复
func (t *Transport) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePaused {
		return false
	}
	t.state = StatePlaying
	return true
}

// Stop 停止并回到起点
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateStopped
	t.rewind()
}

// Restart 回到起点继续当前状态（Repeat 模式下片段自然结束时使用）
func (t *Transport) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rewind()
}

// SetSpeed 设置速度并标记为用户修改
func (t *Transport) SetSpeed(speed float64) error {
	if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("invalid speed %v", speed)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speed = speed
	t.speedModified = true
	return nil
}

// SetReverse 设置倒放
func (t *Transport) SetReverse(reverse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reverse != reverse {
		t.reverse = reverse
		t.finished = false
	}
}

// SetLoopCount 设置循环次数（0 为无限），循环计数归零
func (t *Transport) SetLoopCount(n uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopCount = n
	t.loopIteration = 0
	t.loopSignaled = false
}

// SetMode 设置播放模式并标记为用户修改
func (t *Transport) SetMode(mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	t.modeModified = true
	t.finished = false
	t.direction = 1
}

// SetTrim 设置入出点，位置随之夹紧
func (t *Transport) SetTrim(trimIn, trimOut float64) error {
	if err := validateTrim(trimIn, trimOut); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trimIn = trimIn
	t.trimOut = trimOut
	t.clampPosition()
	return nil
}

// Seek 跳到指定位置（夹紧到入出点）
func (t *Transport) Seek(position float64) {
	if math.IsNaN(position) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
	t.clampPosition()
	t.finished = false
}

// SetPreservePreferences 设置偏好保留标志
func (t *Transport) SetPreservePreferences(preserve bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preserve = preserve
}

// PreservePreferences 是否保留偏好
func (t *Transport) PreservePreferences() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preserve
}

// ApplyRoleDefaults 按主从角色选择默认模式
// 从机默认 Repeat 等待主机推进；自动播放且多片段的主机默认 PlayOnce 自行推进
// 未被用户改过的速度回到本机配置的偏好值，不会被拉回 1
// 用户显式设置过的模式和速度不会被覆盖
func (t *Transport) ApplyRoleDefaults(role Role, autoplay bool, playlistLen int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.modeModified {
		switch {
		case role == RoleSlave:
			t.mode = ModeRepeat
		case role == RoleMaster && autoplay && playlistLen > 1:
			t.mode = ModePlayOnce
		}
	}
	if !t.speedModified {
		t.speed = t.defaults.Speed
	}
}

// Preferences 当前偏好
func (t *Transport) Preferences() Preferences {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Preferences{Speed: t.speed, Reverse: t.reverse, LoopCount: t.loopCount}
}

// State 当前状态
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Moving 位置是否还在推进：正在播放、未结束且速度不为 0
func (t *Transport) Moving() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StatePlaying && !t.finished && t.speed != 0
}

// Mode 当前模式
func (t *Transport) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Position 当前位置（帧）
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// LoopIteration 已完成的循环次数
func (t *Transport) LoopIteration() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loopIteration
}

// Wraps 累计绕回次数（含循环上限之后的）
func (t *Transport) Wraps() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wraps
}

// Direction 实际运动方向 ±1
func (t *Transport) Direction() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectiveDirection()
}

// Snapshot 状态快照
func (t *Transport) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		State:         t.state.String(),
		Mode:          t.mode.String(),
		Position:      t.position,
		Speed:         t.speed,
		Reverse:       t.reverse,
		Direction:     t.effectiveDirection(),
		LoopCount:     t.loopCount,
		LoopIteration: t.loopIteration,
		TrimIn:        t.trimIn,
		Finished:      t.finished,
	}
	if math.IsInf(t.trimOut, 1) {
		s.Unbounded = true
	} else {
		s.TrimOut = t.trimOut
	}
	return s
}
