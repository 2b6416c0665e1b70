package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

var _ interfaces.ActionHandler = (*Controller)(nil)

// 状态栏文本
const (
	StatusButtonClicked  = "StartCapture Button Clicked\n"
	StatusPlayerFailed   = "Failed to create Audio Player"
	StatusRecorderFailed = "Failed to create Audio Recorder"
	StatusDecoderFailed  = "Failed to create Audio Decoder"
	StatusStartFailed    = "Failed to start playback"
	StatusEchoing        = "Engine Echoing ...."
	StatusRingtone       = "Ringtone playing ..."
)

// Controller 把用户操作转换为对音频引擎的调用序列。
// 同一时刻最多只有一个会话(回声或铃声)；所有操作互斥执行。
type Controller struct {
	engine   interfaces.Engine
	params   AudioParameters
	ringtone string
	logger   *slog.Logger

	mu          sync.Mutex
	state       SessionState
	sessionID   string
	initialized bool
	closed      bool

	status statusHub
}

// NewController 创建控制器，引擎在Initialize时才创建
func NewController(engine interfaces.Engine, params AudioParameters, ringtonePath string, log *slog.Logger) (*Controller, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Controller{
		engine:   engine,
		params:   params,
		ringtone: ringtonePath,
		logger:   log.With("component", "controller"),
		state:    SessionIdle,
	}, nil
}

// Initialize 显示音频参数并按这些参数创建引擎
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	if c.initialized {
		return nil
	}
	if err := c.params.validate(); err != nil {
		c.setStatus(err.Error())
		c.logger.Error("Invalid audio parameters", "error", err)
		return err
	}

	c.setStatus(c.params.StatusText())
	if err := c.engine.CreateEngine(c.params.SampleRate, c.params.BufferFrames); err != nil {
		c.logger.Error("Failed to create engine", "error", err)
		return fmt.Errorf("create engine: %w", err)
	}
	c.state = SessionIdle
	c.initialized = true

	c.logger.Info("Controller initialized",
		"sample_rate", c.params.SampleRate,
		"buffer_frames", c.params.BufferFrames,
		"ringtone", c.ringtone)
	return nil
}

func (c *Controller) ready() error {
	if c.closed {
		return ErrShutdown
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

// StartEcho 创建播放器和录音器并开始回声。会话进行中时不做任何事。
func (c *Controller) StartEcho() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	c.setStatus(StatusButtonClicked)
	if c.state != SessionIdle {
		c.logger.Debug("Start echo ignored", "state", c.state)
		return nil
	}

	if err := c.engine.CreatePlayer(); err != nil {
		c.setStatus(StatusPlayerFailed)
		c.logger.Error("Failed to create player", "error", err)
		return fmt.Errorf("%w: %w", ErrPlayerCreate, err)
	}
	if err := c.engine.CreateRecorder(); err != nil {
		c.engine.DeletePlayer()
		c.setStatus(StatusRecorderFailed)
		c.logger.Error("Failed to create recorder", "error", err)
		return fmt.Errorf("%w: %w", ErrRecorderCreate, err)
	}
	if err := c.engine.StartSession(); err != nil {
		c.engine.DeleteRecorder()
		c.engine.DeletePlayer()
		c.setStatus(StatusStartFailed)
		c.logger.Error("Failed to start echo session", "error", err)
		return fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	c.sessionID = uuid.NewString()
	c.setState(SessionEchoing)
	c.setStatus(StatusEchoing)
	return nil
}

// StopEcho 只在回声会话中生效
func (c *Controller) StopEcho() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if c.state != SessionEchoing {
		c.logger.Debug("Stop echo ignored", "state", c.state)
		return nil
	}

	c.engine.StopSession()
	c.engine.DeletePlayer()
	c.engine.DeleteRecorder()
	c.setState(SessionIdle)
	c.setStatus(c.params.StatusText())
	return nil
}

// StartRingtone 创建播放器和解码器并循环播放铃声
func (c *Controller) StartRingtone() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	c.setStatus(StatusButtonClicked)
	if c.state != SessionIdle {
		c.logger.Debug("Start ringtone ignored", "state", c.state)
		return nil
	}

	if err := c.engine.CreatePlayer(); err != nil {
		c.setStatus(StatusPlayerFailed)
		c.logger.Error("Failed to create player", "error", err)
		return fmt.Errorf("%w: %w", ErrPlayerCreate, err)
	}
	if err := c.engine.CreateDecoder([]byte(c.ringtone)); err != nil {
		c.engine.DeletePlayer()
		c.setStatus(StatusDecoderFailed)
		c.logger.Error("Failed to create decoder", "ringtone", c.ringtone, "error", err)
		return fmt.Errorf("%w: %w", ErrDecoderCreate, err)
	}
	if err := c.engine.StartSession(); err != nil {
		c.engine.DeleteDecoder()
		c.engine.DeletePlayer()
		c.setStatus(StatusStartFailed)
		c.logger.Error("Failed to start ringtone session", "error", err)
		return fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	c.sessionID = uuid.NewString()
	c.setState(SessionRingtonePlaying)
	c.setStatus(StatusRingtone)
	return nil
}

// StopRingtone 只在铃声会话中生效
func (c *Controller) StopRingtone() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if c.state != SessionRingtonePlaying {
		c.logger.Debug("Stop ringtone ignored", "state", c.state)
		return nil
	}

	c.engine.StopSession()
	c.engine.DeletePlayer()
	c.engine.DeleteDecoder()
	c.setState(SessionIdle)
	c.setStatus(c.params.StatusText())
	return nil
}

// LowLatencyParameters 重新显示音频参数
func (c *Controller) LowLatencyParameters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatus(c.params.StatusText())
}

// Shutdown 停止当前会话并释放引擎，重复调用无副作用
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if !c.initialized {
		return nil
	}

	if c.state != SessionIdle {
		c.engine.StopSession()
		c.setState(SessionIdle)
	}
	if err := c.engine.DeleteEngine(); err != nil {
		c.logger.Error("Failed to delete engine", "error", err)
		return fmt.Errorf("delete engine: %w", err)
	}
	c.logger.Info("Controller shut down")
	return nil
}

// Dispatch 执行远程或控制台传来的操作
func (c *Controller) Dispatch(action interfaces.Action) error {
	switch action {
	case interfaces.ActionStartEcho:
		return c.StartEcho()
	case interfaces.ActionStopEcho:
		return c.StopEcho()
	case interfaces.ActionStartRingtone:
		return c.StartRingtone()
	case interfaces.ActionStopRingtone:
		return c.StopRingtone()
	case interfaces.ActionParameters:
		c.LowLatencyParameters()
		return nil
	default:
		return fmt.Errorf("%w: %q", interfaces.ErrUnknownAction, action)
	}
}

func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Parameters() AudioParameters {
	return c.params
}

func (c *Controller) RingtonePath() string {
	return c.ringtone
}

// Status 返回最近一次状态栏内容
func (c *Controller) Status() interfaces.StatusEvent {
	return c.status.current()
}

// Subscribe 注册状态监听并立即推送当前状态(初始化之前没有状态可推送)。
// 回调在控制器锁内同步执行，不能调用控制器方法。
func (c *Controller) Subscribe(fn func(interfaces.StatusEvent)) func() {
	return c.status.subscribe(fn)
}

func (c *Controller) setState(newState SessionState) {
	oldState := c.state
	c.state = newState
	c.logger.Info("State changed",
		"from", oldState,
		"to", newState,
		"session_id", c.sessionID)
	if newState == SessionIdle {
		c.sessionID = ""
	}
}

func (c *Controller) setStatus(text string) {
	c.status.publish(interfaces.StatusEvent{
		Text:      text,
		State:     string(c.state),
		SessionID: c.sessionID,
	})
}
