package transport

import (
	"fmt"
	"strings"
)

// State 播放状态
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode 循环策略
type Mode int

const (
	ModeRepeat Mode = iota
	ModePlayOnce
	ModePingPong
)

func (m Mode) String() string {
	switch m {
	case ModeRepeat:
		return "repeat"
	case ModePlayOnce:
		return "play_once"
	case ModePingPong:
		return "ping_pong"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 解析播放模式，兼容 "playonce"、"once"、"pingpong" 等写法
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "repeat", "loop":
		return ModeRepeat, nil
	case "play_once", "playonce", "once":
		return ModePlayOnce, nil
	case "ping_pong", "pingpong", "bounce":
		return ModePingPong, nil
	default:
		return ModeRepeat, fmt.Errorf("unknown playback mode %q", s)
	}
}

// Signal 推进后产生的信号
type Signal int

const (
	SignalNone Signal = iota
	SignalClipFinished
	SignalLoopCompleted
)

func (s Signal) String() string {
	switch s {
	case SignalClipFinished:
		return "clip_finished"
	case SignalLoopCompleted:
		return "loop_completed"
	default:
		return "none"
	}
}

// Role 引擎在主从同步中的角色
type Role int

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "standalone"
	}
}

// ParseRole 解析角色，空字符串为 standalone
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standalone":
		return RoleStandalone, nil
	case "master":
		return RoleMaster, nil
	case "slave":
		return RoleSlave, nil
	default:
		return RoleStandalone, fmt.Errorf("unknown role %q", s)
	}
}

// Preferences 播放器级偏好，设置了保留标志时跨片段保留
type Preferences struct {
	Speed     float64 `json:"speed" yaml:"speed"`
	Reverse   bool    `json:"reverse" yaml:"reverse"`
	LoopCount uint32  `json:"loopCount" yaml:"loop_count"`
}

// DefaultPreferences 默认偏好
func DefaultPreferences() Preferences {
	return Preferences{Speed: 1}
}

// Snapshot 传输状态快照
type Snapshot struct {
	State         string  `json:"state"`
	Mode          string  `json:"mode"`
	Position      float64 `json:"position"`
	Speed         float64 `json:"speed"`
	Reverse       bool    `json:"reverse"`
	Direction     int     `json:"direction"`
	LoopCount     uint32  `json:"loopCount"`
	LoopIteration uint32  `json:"loopIteration"`
	TrimIn        float64 `json:"trimIn"`
	TrimOut       float64 `json:"trimOut"` // 无界时为 0
	Unbounded     bool    `json:"unbounded"`
	Finished      bool    `json:"finished"`
}
