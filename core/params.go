package core

import (
	"fmt"
	"strconv"
	"strings"
)

// AudioParameters 在启动时读取一次，之后不可变
type AudioParameters struct {
	SampleRate   int
	BufferFrames int
	// SampleFormat 平台未提供，保持为空
	SampleFormat string
}

// ParseParameters 校验平台以字符串形式报告的参数，非法值立即失败
func ParseParameters(sampleRate, bufferFrames, sampleFormat string) (AudioParameters, error) {
	rate, err := parsePositive("sample rate", sampleRate)
	if err != nil {
		return AudioParameters{}, err
	}
	frames, err := parsePositive("buffer frames", bufferFrames)
	if err != nil {
		return AudioParameters{}, err
	}
	return AudioParameters{
		SampleRate:   rate,
		BufferFrames: frames,
		SampleFormat: sampleFormat,
	}, nil
}

func parsePositive(name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidParameters, name, s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidParameters, name, v)
	}
	return v, nil
}

func (p AudioParameters) validate() error {
	if p.SampleRate <= 0 || p.BufferFrames <= 0 {
		return fmt.Errorf("%w: sample rate %d, buffer frames %d", ErrInvalidParameters, p.SampleRate, p.BufferFrames)
	}
	return nil
}

// StatusText 是参数状态栏文本
func (p AudioParameters) StatusText() string {
	return fmt.Sprintf("nativeSampleRate    = %d\nnativeSampleBufSize = %d\nnativeSampleFormat  = %s",
		p.SampleRate, p.BufferFrames, p.SampleFormat)
}
