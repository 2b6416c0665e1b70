package core

// SessionState 是控制器唯一的会话状态，取代两个互斥的布尔标志
type SessionState string

const (
	SessionIdle            SessionState = "idle"
	SessionEchoing         SessionState = "echoing"
	SessionRingtonePlaying SessionState = "ringtone_playing"
)

// Playing 对应回声会话标志
func (s SessionState) Playing() bool { return s == SessionEchoing }

// Decoding 对应铃声会话标志
func (s SessionState) Decoding() bool { return s == SessionRingtonePlaying }
