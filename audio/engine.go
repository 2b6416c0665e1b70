package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

var _ interfaces.Engine = (*Engine)(nil)

type Config struct {
	Channels int
	// BufCount 是引擎拥有的缓冲区总数
	BufCount int
	// PlayKickstartBuffers 是启动播放器前需要排队的缓冲区数，决定了延迟
	PlayKickstartBuffers int
	// DeviceShadowBuffers 决定解码暂停(BufCount-2*N)与恢复(N)的水位
	DeviceShadowBuffers int
	Source              SourceOptions
}

func DefaultConfig() Config {
	return Config{
		Channels:             1,
		BufCount:             16,
		PlayKickstartBuffers: 3,
		DeviceShadowBuffers:  4,
		Source:               SourceOptions{ResampleQuality: 4},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.BufCount <= 0 {
		c.BufCount = def.BufCount
	}
	if c.PlayKickstartBuffers <= 0 {
		c.PlayKickstartBuffers = def.PlayKickstartBuffers
	}
	if c.PlayKickstartBuffers > c.BufCount {
		c.PlayKickstartBuffers = c.BufCount
	}
	if c.DeviceShadowBuffers <= 0 {
		c.DeviceShadowBuffers = def.DeviceShadowBuffers
	}
	c.Source = c.Source.withDefaults()
	return c
}

// highWater 是解码暂停的录音队列长度
func (c Config) highWater() int {
	return max(c.BufCount-2*c.DeviceShadowBuffers, c.PlayKickstartBuffers, 1)
}

// Stats 是缓冲区分布与设备计数
type Stats struct {
	Buffers int
	Free    int
	Queued  int
	// Held 是播放器、录音器或解码器当前持有的缓冲区
	Held int

	Running         bool
	Underruns       uint64
	Overruns        uint64
	PlayedBuffers   uint64
	CapturedBuffers uint64
	DecoderRestarts uint64
}

// Engine 管理一组共享缓冲区以及播放器、录音器和解码器。
// 录音器或解码器填充空闲缓冲区并推入录音队列，播放器消费后归还。
type Engine struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu           sync.Mutex
	created      bool
	running      bool
	sampleRate   int
	framesPerBuf int
	bufs         []*sampleBuf
	free         chan *sampleBuf
	rec          chan *sampleBuf

	player   *player
	recorder *recorder
	decoder  *decoder
}

func NewEngine(cfg Config, backend Backend, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		backend: backend,
		logger:  logger.With("component", "engine"),
	}
}

func (e *Engine) streamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:      e.sampleRate,
		Channels:        e.cfg.Channels,
		FramesPerBuffer: e.framesPerBuf,
	}
}

// Format 返回引擎的流格式，引擎未创建时为零值
func (e *Engine) Format() StreamConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.created {
		return StreamConfig{}
	}
	return e.streamConfig()
}

func (e *Engine) CreateEngine(sampleRate, framesPerBuf int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.created {
		return ErrEngineExists
	}
	if sampleRate <= 0 || framesPerBuf <= 0 {
		return fmt.Errorf("%w: sample rate %d, frames per buffer %d", ErrInvalidFormat, sampleRate, framesPerBuf)
	}

	e.sampleRate = sampleRate
	e.framesPerBuf = framesPerBuf

	samples := framesPerBuf * e.cfg.Channels
	e.bufs = allocateSampleBufs(e.cfg.BufCount, samples)
	e.free = make(chan *sampleBuf, e.cfg.BufCount)
	e.rec = make(chan *sampleBuf, e.cfg.BufCount)
	for _, buf := range e.bufs {
		e.free <- buf
	}
	e.created = true

	e.logger.Info("Engine created",
		"sample_rate", sampleRate,
		"frames_per_buffer", framesPerBuf,
		"channels", e.cfg.Channels,
		"buf_count", e.cfg.BufCount,
		"buf_bytes", samples*2)
	return nil
}

func (e *Engine) DeleteEngine() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return ErrEngineNotCreated
	}
	e.stopSessionLocked()

	e.bufs = nil
	e.free = nil
	e.rec = nil
	e.created = false
	e.logger.Info("Engine deleted")
	return nil
}

func (e *Engine) CreatePlayer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return ErrEngineNotCreated
	}
	if e.player != nil {
		return fmt.Errorf("player: %w", ErrResourceExists)
	}

	p := newPlayer(e.free, e.rec)
	stream, err := e.backend.OpenOutput(e.streamConfig(), p.render)
	if err != nil {
		e.logger.Error("Failed to create player", "error", err)
		return fmt.Errorf("open output: %w", err)
	}
	p.stream = stream
	p.lowWater = e.cfg.DeviceShadowBuffers
	e.player = p

	e.logger.Debug("Player created")
	return nil
}

func (e *Engine) DeletePlayer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		return
	}
	if e.running {
		e.stopSessionLocked()
		return
	}
	e.closePlayerLocked()
}

func (e *Engine) CreateRecorder() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return ErrEngineNotCreated
	}
	if e.recorder != nil {
		return fmt.Errorf("recorder: %w", ErrResourceExists)
	}

	r := newRecorder(e.free, e.rec)
	stream, err := e.backend.OpenInput(e.streamConfig(), r.capture)
	if err != nil {
		e.logger.Error("Failed to create recorder", "error", err)
		return fmt.Errorf("open input: %w", err)
	}
	r.stream = stream
	r.kickAt = e.cfg.PlayKickstartBuffers
	e.recorder = r

	e.logger.Debug("Recorder created")
	return nil
}

func (e *Engine) DeleteRecorder() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recorder == nil {
		return
	}
	if e.running {
		e.stopSessionLocked()
		return
	}
	e.closeRecorderLocked()
}

func (e *Engine) CreateDecoder(uri []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return ErrEngineNotCreated
	}
	if e.decoder != nil {
		return fmt.Errorf("decoder: %w", ErrResourceExists)
	}
	path := string(uri)
	if path == "" {
		return fmt.Errorf("decoder: %w", ErrUnsupportedFormat)
	}

	sampleRate, channels, opts := e.sampleRate, e.cfg.Channels, e.cfg.Source
	open := func() (Source, error) {
		return OpenSource(path, sampleRate, channels, opts)
	}
	d, err := newDecoder(e.free, e.rec, open, e.logger)
	if err != nil {
		e.logger.Error("Failed to create decoder", "uri", path, "error", err)
		return err
	}
	d.highWater = e.cfg.highWater()
	d.kickAt = e.cfg.PlayKickstartBuffers
	e.decoder = d

	e.logger.Debug("Decoder created", "uri", path)
	return nil
}

func (e *Engine) DeleteDecoder() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decoder == nil {
		return
	}
	if e.running {
		e.stopSessionLocked()
		return
	}
	e.closeDecoderLocked()
}

// StartSession 先启动播放器(等待数据状态)，再启动录音器或解码器
func (e *Engine) StartSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created {
		return ErrEngineNotCreated
	}
	if e.player == nil {
		return ErrNoPlayer
	}
	if e.running {
		return nil
	}

	p := e.player
	p.onLow, p.onDrained = nil, nil
	if r := e.recorder; r != nil {
		r.kick = p.kickstart
	}
	if d := e.decoder; d != nil {
		d.kick = p.kickstart
		d.onFinished = p.finishDecoding
		p.onLow = d.wake
		p.onDrained = d.restart
	}

	if err := p.start(); err != nil {
		e.logger.Error("Failed to start player", "error", err)
		return err
	}
	if r := e.recorder; r != nil {
		if err := r.start(); err != nil {
			e.logger.Error("Failed to start recorder", "error", err)
			_ = p.stop()
			drainInto(e.free, e.rec)
			return err
		}
	}
	if d := e.decoder; d != nil {
		d.start()
	}
	e.running = true

	e.logger.Info("Session started",
		"recording", e.recorder != nil,
		"decoding", e.decoder != nil)
	return nil
}

// StopSession 停止并释放所有子资源，缓冲区全部回到空闲队列
func (e *Engine) StopSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSessionLocked()
}

func (e *Engine) stopSessionLocked() {
	if e.player == nil && e.recorder == nil && e.decoder == nil {
		return
	}

	var errs []error
	if e.recorder != nil {
		errs = append(errs, e.recorder.stop())
	}
	if e.decoder != nil {
		e.decoder.stop()
	}
	if e.player != nil {
		errs = append(errs, e.player.stop())
	}

	e.closeRecorderLocked()
	e.closeDecoderLocked()
	e.closePlayerLocked()
	drainInto(e.free, e.rec)

	wasRunning := e.running
	e.running = false
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("Errors while stopping session", "error", err)
	}
	if wasRunning {
		e.logger.Info("Session stopped")
	}
}

func (e *Engine) closePlayerLocked() {
	if e.player == nil {
		return
	}
	if err := e.player.stop(); err != nil {
		e.logger.Warn("Failed to stop player", "error", err)
	}
	if err := e.player.stream.Close(); err != nil {
		e.logger.Warn("Failed to close player", "error", err)
	}
	e.player = nil
}

func (e *Engine) closeRecorderLocked() {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.stop(); err != nil {
		e.logger.Warn("Failed to stop recorder", "error", err)
	}
	if err := e.recorder.stream.Close(); err != nil {
		e.logger.Warn("Failed to close recorder", "error", err)
	}
	e.recorder = nil
}

func (e *Engine) closeDecoderLocked() {
	if e.decoder == nil {
		return
	}
	if err := e.decoder.close(); err != nil {
		e.logger.Warn("Failed to close decoder", "error", err)
	}
	e.decoder = nil
}

// Stats 返回缓冲区分布。会话运行时各项是近似值。
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{Running: e.running}
	if !e.created {
		return s
	}
	s.Buffers = len(e.bufs)
	s.Free = len(e.free)
	s.Queued = len(e.rec)
	s.Held = s.Buffers - s.Free - s.Queued
	if p := e.player; p != nil {
		s.Underruns = p.underruns.Load()
		s.PlayedBuffers = p.played.Load()
	}
	if r := e.recorder; r != nil {
		s.Overruns = r.overruns.Load()
		s.CapturedBuffers = r.captured.Load()
	}
	if d := e.decoder; d != nil {
		s.DecoderRestarts = d.restarts.Load()
	}
	return s
}
