package audio

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// player 从录音队列取出缓冲区送往输出设备，用完的缓冲区归还空闲队列
type player struct {
	free   chan *sampleBuf
	rec    chan *sampleBuf
	stream Stream

	// 以下钩子在会话启动前设置，设备线程只读
	lowWater  int
	onLow     func()
	onDrained func()

	started          atomic.Bool
	decodingFinished atomic.Bool
	running          bool

	// cur/pos 只在设备回调中访问
	cur *sampleBuf
	pos int

	underruns atomic.Uint64
	played    atomic.Uint64
}

func newPlayer(free, rec chan *sampleBuf) *player {
	return &player{free: free, rec: rec}
}

// kickstart 允许播放器开始消费录音队列，可在任意线程调用
func (p *player) kickstart() {
	p.started.Store(true)
}

// finishDecoding 标记解码已到达文件末尾
func (p *player) finishDecoding() {
	p.decodingFinished.Store(true)
}

func (p *player) render(out []int16) {
	if !p.started.Load() {
		clear(out)
		return
	}

	n := 0
	for n < len(out) {
		if p.cur == nil {
			select {
			case buf := <-p.rec:
				p.cur = buf
				p.pos = 0
			default:
				clear(out[n:])
				if p.decodingFinished.CompareAndSwap(true, false) {
					if p.onDrained != nil {
						p.onDrained()
					}
				} else {
					p.underruns.Add(1)
				}
				return
			}
		}

		c := copy(out[n:], p.cur.data[p.pos:p.cur.size])
		n += c
		p.pos += c
		if p.pos >= p.cur.size {
			p.release()
			p.played.Add(1)
		}
	}

	if p.onLow != nil && len(p.rec) <= p.lowWater {
		p.onLow()
	}
}

// release 归还当前持有的缓冲区
func (p *player) release() {
	if p.cur == nil {
		return
	}
	p.cur.size = 0
	p.free <- p.cur
	p.cur = nil
	p.pos = 0
}

func (p *player) start() error {
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	p.running = true
	return nil
}

func (p *player) stop() error {
	if !p.running {
		return nil
	}
	p.running = false
	err := p.stream.Stop()
	p.started.Store(false)
	p.decodingFinished.Store(false)
	p.release()
	return err
}

// portAudioOutput 是PortAudio输出流
type portAudioOutput struct {
	stream *portaudio.Stream
	logger *slog.Logger
}

func openPortAudioOutput(cfg StreamConfig, cb OutputCallback, logger *slog.Logger) (*portAudioOutput, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// 初始化PortAudio，内部有引用计数
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(
		0,                       // 不录音
		cfg.Channels,            // 输出通道数
		float64(cfg.SampleRate), // 采样率
		cfg.FramesPerBuffer,     // 每次回调的帧数
		func(out []int16) { cb(out) },
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	logger.Debug("Output stream opened",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frames_per_buffer", cfg.FramesPerBuffer)
	return &portAudioOutput{stream: stream, logger: logger}, nil
}

func (o *portAudioOutput) Start() error {
	return o.stream.Start()
}

func (o *portAudioOutput) Stop() error {
	return o.stream.Stop()
}

func (o *portAudioOutput) Close() error {
	err := o.stream.Close()
	if err != nil {
		o.logger.Error("failed to close audio stream", "error", err)
	}
	portaudio.Terminate()
	return err
}
