// audio/interface.go
package audio

import "errors"

var (
	ErrEngineNotCreated  = errors.New("engine not created")
	ErrEngineExists      = errors.New("engine already created")
	ErrResourceExists    = errors.New("resource already created")
	ErrNoPlayer          = errors.New("player not created")
	ErrInvalidFormat     = errors.New("invalid stream format")
	ErrUnsupportedFormat = errors.New("unsupported audio file format")
)

// StreamConfig 描述设备流参数，样本为交错的16位有符号整数
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func (c StreamConfig) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.FramesPerBuffer <= 0 {
		return ErrInvalidFormat
	}
	return nil
}

// OutputCallback 在设备线程中被调用，必须填满out
type OutputCallback func(out []int16)

// InputCallback 在设备线程中被调用，in只在回调期间有效
type InputCallback func(in []int16)

// Stream 是已打开的设备流
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend 定义音频设备的打开方式
type Backend interface {
	OpenOutput(cfg StreamConfig, cb OutputCallback) (Stream, error)
	OpenInput(cfg StreamConfig, cb InputCallback) (Stream, error)
}

// Source 是解码后的PCM来源，输出已转换为引擎的采样率与声道数
type Source interface {
	// Read 返回写入pcm的样本数，结束时返回io.EOF
	Read(pcm []int16) (int, error)
	Close() error
}
