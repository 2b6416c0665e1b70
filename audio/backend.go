package audio

import "log/slog"

// DeviceBackend 使用PortAudio播放、malgo采集
type DeviceBackend struct {
	logger *slog.Logger
}

func NewDeviceBackend(logger *slog.Logger) *DeviceBackend {
	return &DeviceBackend{logger: logger}
}

func (b *DeviceBackend) OpenOutput(cfg StreamConfig, cb OutputCallback) (Stream, error) {
	return openPortAudioOutput(cfg, cb, b.logger)
}

func (b *DeviceBackend) OpenInput(cfg StreamConfig, cb InputCallback) (Stream, error) {
	return openMalgoInput(cfg, cb, b.logger)
}
