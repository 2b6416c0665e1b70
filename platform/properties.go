// Package platform 提供控制器依赖的平台信息：输出设备参数与默认铃声路径。
package platform

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gordonklaus/portaudio"
)

// OutputProperties 与移动平台AudioManager.getProperty的返回形式一致，都是字符串
type OutputProperties struct {
	SampleRate      string
	FramesPerBuffer string
	// SampleFormat 平台不报告，始终为空
	SampleFormat string
}

// QueryOutputProperties 读取默认输出设备的采样率和低延迟缓冲帧数
func QueryOutputProperties() (OutputProperties, error) {
	if err := portaudio.Initialize(); err != nil {
		return OutputProperties{}, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return OutputProperties{}, fmt.Errorf("default output device: %w", err)
	}
	return propertiesFor(dev.DefaultSampleRate, dev.DefaultLowOutputLatency.Seconds()), nil
}

// propertiesFor 由采样率与延迟(秒)换算每缓冲区帧数
func propertiesFor(sampleRate, latency float64) OutputProperties {
	rate := int(math.Round(sampleRate))
	frames := int(math.Round(sampleRate * latency))
	if frames <= 0 && rate > 0 {
		frames = 256
	}
	return OutputProperties{
		SampleRate:      strconv.Itoa(rate),
		FramesPerBuffer: strconv.Itoa(frames),
	}
}
