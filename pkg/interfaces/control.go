// pkg/interfaces/control.go
package interfaces

import "errors"

var ErrUnknownAction = errors.New("unknown action")

// Action 是用户可触发的操作
type Action string

const (
	ActionStartEcho     Action = "start_echo"
	ActionStopEcho      Action = "stop_echo"
	ActionStartRingtone Action = "start_ringtone"
	ActionStopRingtone  Action = "stop_ringtone"
	ActionParameters    Action = "parameters"
)

// Actions 返回所有支持的操作，顺序固定
func Actions() []Action {
	return []Action{
		ActionStartEcho,
		ActionStopEcho,
		ActionStartRingtone,
		ActionStopRingtone,
		ActionParameters,
	}
}

// StatusEvent 是状态栏的一次更新
type StatusEvent struct {
	Text      string `json:"text"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

// ActionHandler 由控制器实现，供远程控制面使用
type ActionHandler interface {
	Dispatch(action Action) error
	Status() StatusEvent
	// Subscribe 先以当前状态调用fn，之后的每次更新都会送达，直到取消订阅
	Subscribe(fn func(StatusEvent)) (unsubscribe func())
}

// 控制协议的JSON帧
const (
	FrameAction = "action"
	FrameStatus = "status"
	FrameError  = "error"
)

type ControlFrame struct {
	Type   string       `json:"type"`
	Action Action       `json:"action,omitempty"`
	Status *StatusEvent `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
}
