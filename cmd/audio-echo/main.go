package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/lisuiheng/audio-echo/audio"
	"github.com/lisuiheng/audio-echo/core"
	"github.com/lisuiheng/audio-echo/logger"
	"github.com/lisuiheng/audio-echo/pkg/interfaces"
	"github.com/lisuiheng/audio-echo/platform"
	"github.com/lisuiheng/audio-echo/protocols/websocket"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/audio-echo/config.yaml)")
	flag.Parse()

	// 加载配置
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Outputs: cfg.Logging.Outputs}); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Error("Service runtime error", "error", err)
		os.Exit(1)
	}
}

func run(cfg core.Config) error {
	params, err := audioParameters(cfg)
	if err != nil {
		return err
	}
	ringtone := ringtonePath(cfg)

	engine := audio.NewEngine(audio.Config{
		Channels:             cfg.Audio.Channels,
		BufCount:             cfg.Audio.BufCount,
		PlayKickstartBuffers: cfg.Audio.PlayKickstartBuffers,
		DeviceShadowBuffers:  cfg.Audio.DeviceShadowBuffers,
		Source:               audio.SourceOptions{ResampleQuality: cfg.Ringtone.ResampleQuality},
	}, audio.NewDeviceBackend(logger.Component("device")), logger.Logger())

	controller, err := core.NewController(engine, params, ringtone, logger.Logger())
	if err != nil {
		return err
	}
	defer func() {
		if err := controller.Shutdown(); err != nil {
			logger.Error("Failed to shut down controller", "error", err)
		}
		logger.Info("Service shutdown completed")
	}()

	unsubscribe := controller.Subscribe(func(ev interfaces.StatusEvent) {
		fmt.Printf("\r[%s] %s\n", ev.State, ev.Text)
	})
	defer unsubscribe()

	if err := controller.Initialize(); err != nil {
		return err
	}

	if cfg.Control.Enabled {
		srv := websocket.NewServer(websocket.ServerConfig{
			Listen: cfg.Control.Listen,
			Path:   cfg.Control.Path,
		}, controller, logger.Logger())
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Control server shutdown", "error", err)
			}
		}()
	}

	// 设置信号处理
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- console(ctx, controller, engine)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down")
	case err := <-consoleDone:
		if err != nil {
			return err
		}
	}
	return nil
}

// audioParameters 配置中未给出的参数从默认输出设备查询
func audioParameters(cfg core.Config) (core.AudioParameters, error) {
	rate, frames := cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer
	var format string
	if rate == "" || frames == "" {
		props, err := platform.QueryOutputProperties()
		if err != nil {
			return core.AudioParameters{}, err
		}
		if rate == "" {
			rate = props.SampleRate
		}
		if frames == "" {
			frames = props.FramesPerBuffer
		}
		format = props.SampleFormat
	}
	return core.ParseParameters(rate, frames, format)
}

// ringtonePath 找不到铃声时返回空路径，铃声操作会以解码器创建失败结束
func ringtonePath(cfg core.Config) string {
	searchPaths := cfg.Ringtone.SearchPaths
	if len(searchPaths) == 0 {
		searchPaths = platform.DefaultRingtonePaths
	}
	path, err := platform.ResolveRingtone(cfg.Ringtone.URI, searchPaths)
	if err != nil {
		logger.Warn("Ringtone unavailable", "uri", cfg.Ringtone.URI, "error", err)
		return ""
	}
	logger.Info("Ringtone resolved", "path", path)
	return path
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(interfaces.Actions())+3)
	for _, a := range interfaces.Actions() {
		items = append(items, readline.PcItem(string(a)))
	}
	items = append(items, readline.PcItem("status"), readline.PcItem("stats"), readline.PcItem("quit"))
	return readline.NewPrefixCompleter(items...)
}

// console 读取交互命令直到quit、EOF或ctx取消
func console(ctx context.Context, controller *core.Controller, engine *audio.Engine) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "echo> ",
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init console: %w", err)
	}
	closeConsole := sync.OnceFunc(func() { _ = rl.Close() })
	defer closeConsole()

	go func() {
		<-ctx.Done()
		closeConsole()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd := strings.TrimSpace(line)
		switch cmd {
		case "":
		case "quit", "exit":
			return nil
		case "status":
			st := controller.Status()
			fmt.Printf("state=%s session=%s\n%s\n", st.State, st.SessionID, st.Text)
		case "stats":
			printStats(engine.Stats())
		default:
			if err := controller.Dispatch(interfaces.Action(cmd)); err != nil {
				logger.Logger().Log(ctx, levelFor(err), "Action failed", "action", cmd, "error", err)
			}
		}
	}
}

func levelFor(err error) slog.Level {
	if errors.Is(err, interfaces.ErrUnknownAction) {
		return slog.LevelWarn
	}
	return slog.LevelError
}

func printStats(s audio.Stats) {
	fmt.Printf("buffers=%d free=%d queued=%d held=%d running=%v\n", s.Buffers, s.Free, s.Queued, s.Held, s.Running)
	fmt.Printf("played=%d captured=%d underruns=%d overruns=%d decoder_restarts=%d\n",
		s.PlayedBuffers, s.CapturedBuffers, s.Underruns, s.Overruns, s.DecoderRestarts)
}
