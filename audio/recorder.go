package audio

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// recorder 把采集到的样本写入空闲缓冲区，写满后推入录音队列
type recorder struct {
	free   chan *sampleBuf
	rec    chan *sampleBuf
	stream Stream

	kickAt int
	kick   func()

	running bool

	// 只在设备回调中访问
	cur    *sampleBuf
	queued int

	overruns atomic.Uint64
	captured atomic.Uint64
}

func newRecorder(free, rec chan *sampleBuf) *recorder {
	return &recorder{free: free, rec: rec}
}

func (r *recorder) capture(in []int16) {
	for len(in) > 0 {
		if r.cur == nil {
			select {
			case buf := <-r.free:
				buf.size = 0
				r.cur = buf
			default:
				// 没有空闲缓冲区，丢弃本次数据
				r.overruns.Add(1)
				return
			}
		}

		c := copy(r.cur.data[r.cur.size:], in)
		r.cur.size += c
		in = in[c:]
		if r.cur.size == len(r.cur.data) {
			r.rec <- r.cur
			r.cur = nil
			r.captured.Add(1)
			r.queued++
			if r.queued == r.kickAt && r.kick != nil {
				r.kick()
			}
		}
	}
}

func (r *recorder) start() error {
	r.queued = 0
	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	r.running = true
	return nil
}

func (r *recorder) stop() error {
	if !r.running {
		return nil
	}
	r.running = false
	err := r.stream.Stop()
	if r.cur != nil {
		r.cur.size = 0
		r.free <- r.cur
		r.cur = nil
	}
	return err
}

// malgoInput 是malgo采集设备
type malgoInput struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	logger *slog.Logger
	pcm    []int16
}

func openMalgoInput(cfg StreamConfig, cb InputCallback, logger *slog.Logger) (*malgoInput, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	in := &malgoInput{ctx: ctx, logger: logger}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pcmData []byte, _ uint32) {
			in.pcm = bytesToInt16(pcmData, in.pcm)
			cb(in.pcm)
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to initialize audio device: %w", err)
	}
	in.device = device

	logger.Debug("Input stream opened",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"period_frames", cfg.FramesPerBuffer)
	return in, nil
}

func (m *malgoInput) Start() error {
	return m.device.Start()
}

func (m *malgoInput) Stop() error {
	return m.device.Stop()
}

func (m *malgoInput) Close() error {
	m.device.Uninit()
	err := m.ctx.Uninit()
	m.ctx.Free()
	return err
}

// bytesToInt16 将小端字节转换为int16，复用dst的底层数组
func bytesToInt16(b []byte, dst []int16) []int16 {
	n := len(b) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return dst
}
