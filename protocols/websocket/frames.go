package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

func EncodeFrame(frame interfaces.ControlFrame) ([]byte, error) {
	return json.Marshal(frame)
}

func DecodeFrame(data []byte) (interfaces.ControlFrame, error) {
	var frame interfaces.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("invalid control frame: %w", err)
	}
	return frame, nil
}

func statusFrame(ev interfaces.StatusEvent) interfaces.ControlFrame {
	return interfaces.ControlFrame{Type: interfaces.FrameStatus, Status: &ev}
}

func errorFrame(err error) interfaces.ControlFrame {
	return interfaces.ControlFrame{Type: interfaces.FrameError, Error: err.Error()}
}

// SendAction 通过传输层发送一个操作帧
func SendAction(t interfaces.TransportProtocol, action interfaces.Action) error {
	data, err := EncodeFrame(interfaces.ControlFrame{Type: interfaces.FrameAction, Action: action})
	if err != nil {
		return err
	}
	return t.Send(data, interfaces.MsgText)
}
