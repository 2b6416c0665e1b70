package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 是应用配置，对应YAML文件结构
type Config struct {
	// audio.sample_rate/frames_per_buffer 为空时查询平台
	Audio struct {
		SampleRate           string `mapstructure:"sample_rate"`
		FramesPerBuffer      string `mapstructure:"frames_per_buffer"`
		Channels             int    `mapstructure:"channels"`
		BufCount             int    `mapstructure:"buf_count"`
		PlayKickstartBuffers int    `mapstructure:"play_kickstart_buffers"`
		DeviceShadowBuffers  int    `mapstructure:"device_shadow_buffers"`
	} `mapstructure:"audio"`

	Ringtone struct {
		URI             string   `mapstructure:"uri"`
		SearchPaths     []string `mapstructure:"search_paths"` // 为空时使用平台默认铃声路径
		ResampleQuality int      `mapstructure:"resample_quality"`
	} `mapstructure:"ringtone"`

	Control struct {
		Enabled bool   `mapstructure:"enabled"`
		Listen  string `mapstructure:"listen"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"control"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

const envPrefix = "AUDIO_ECHO"

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", "")
	v.SetDefault("audio.frames_per_buffer", "")
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.buf_count", 16)
	v.SetDefault("audio.play_kickstart_buffers", 3)
	v.SetDefault("audio.device_shadow_buffers", 4)

	v.SetDefault("ringtone.uri", "")
	v.SetDefault("ringtone.search_paths", []string{})
	v.SetDefault("ringtone.resample_quality", 4)

	v.SetDefault("control.enabled", false)
	v.SetDefault("control.listen", "127.0.0.1:8765")
	v.SetDefault("control.path", "/control")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.outputs", []string{"stdout"})
}

// LoadConfig 读取配置。configPath为空时在默认路径中搜索config.yaml，找不到则使用默认值。
// 环境变量AUDIO_ECHO_<SECTION>_<KEY>覆盖文件中的值。
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audio-echo")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
