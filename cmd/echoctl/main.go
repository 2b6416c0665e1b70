// echoctl 通过控制面远程操作audio-echo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/lisuiheng/audio-echo/logger"
	"github.com/lisuiheng/audio-echo/pkg/interfaces"
	"github.com/lisuiheng/audio-echo/protocols/websocket"
	"github.com/lisuiheng/audio-echo/utils"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8765/control", "Control endpoint")
	action := flag.String("do", "", "Send one action and exit (start_echo, stop_echo, start_ringtone, stop_ringtone, parameters)")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level, Outputs: []string{"stderr"}}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if *action != "" {
		err = sendOnce(ctx, *url, interfaces.Action(*action))
	} else {
		err = interactive(ctx, *url)
	}
	if err != nil {
		logger.Error("echoctl failed", "error", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, url string) (*websocket.WSProtocol, error) {
	client, err := websocket.NewWebSocketProtocol(websocket.Config{URL: url})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Info("Connected", "url", url, "client_id", client.ClientID())
	return client, nil
}

// sendOnce 发送一个操作并等待其结果
func sendOnce(ctx context.Context, url string, action interfaces.Action) error {
	client, err := connect(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	// 第一帧是连接时的当前状态
	if _, err := nextFrame(ctx, client); err != nil {
		return err
	}
	if err := websocket.SendAction(client, action); err != nil {
		return err
	}

	return awaitResult(ctx, client, 2*time.Second)
}

// awaitResult 等待操作的结果。"Failed to"状态之后还会有错误帧，
// 以错误帧为准；超时前只收到失败状态时同样视为失败。
// 被忽略的操作不产生状态更新，超时视为成功。
func awaitResult(ctx context.Context, client interfaces.TransportProtocol, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var failure string
	for {
		frame, err := nextFrame(ctx, client)
		if errors.Is(err, context.DeadlineExceeded) {
			if failure != "" {
				return errors.New(failure)
			}
			return nil
		}
		if err != nil {
			return err
		}
		printFrame(frame)
		if frame.Type == interfaces.FrameError {
			return errors.New(frame.Error)
		}
		if frame.Status == nil {
			continue
		}

		text := frame.Status.Text
		switch {
		case strings.HasPrefix(text, "Failed to"):
			failure = text
		case strings.HasPrefix(text, "StartCapture"):
		case failure != "":
			// 失败后恢复的空闲状态
		default:
			return nil
		}
	}
}

func nextFrame(ctx context.Context, client interfaces.TransportProtocol) (interfaces.ControlFrame, error) {
	select {
	case msg, ok := <-client.Receive():
		if !ok {
			return interfaces.ControlFrame{}, interfaces.ErrNotConnected
		}
		return websocket.DecodeFrame(msg.Payload)
	case <-ctx.Done():
		return interfaces.ControlFrame{}, ctx.Err()
	}
}

func printFrame(frame interfaces.ControlFrame) {
	switch frame.Type {
	case interfaces.FrameStatus:
		if frame.Status != nil {
			fmt.Printf("\r[%s] %s\n", frame.Status.State, frame.Status.Text)
		}
	case interfaces.FrameError:
		fmt.Printf("\rerror: %s\n", frame.Error)
	}
}

// session 保存当前连接，断线后由重连循环替换
type session struct {
	mu     sync.Mutex
	client *websocket.WSProtocol
}

func (s *session) set(c *websocket.WSProtocol) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

func (s *session) send(action interfaces.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return interfaces.ErrNotConnected
	}
	return websocket.SendAction(s.client, action)
}

// maintain 维持连接并打印收到的帧，断线后按指数退避重连
func (s *session) maintain(ctx context.Context, url string) {
	backoff := utils.NewExponentialBackoff()
	for ctx.Err() == nil {
		client, err := connect(ctx, url)
		if err != nil {
			delay := backoff.NextDelay()
			logger.Warn("Connect failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		backoff.Reset()
		s.set(client)

		for {
			frame, err := nextFrame(ctx, client)
			if errors.Is(err, interfaces.ErrNotConnected) || ctx.Err() != nil {
				break
			}
			if err != nil {
				logger.Warn("Bad frame", "error", err)
				continue
			}
			printFrame(frame)
		}
		s.set(nil)
		client.Close()
		if ctx.Err() == nil {
			logger.Warn("Disconnected", "url", url)
		}
	}
}

func interactive(ctx context.Context, url string) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(interfaces.Actions())+1)
	for _, a := range interfaces.Actions() {
		items = append(items, readline.PcItem(string(a)))
	}
	items = append(items, readline.PcItem("quit"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "echoctl> ",
		AutoComplete: readline.NewPrefixCompleter(items...),
	})
	if err != nil {
		return err
	}
	closeConsole := sync.OnceFunc(func() { _ = rl.Close() })
	defer closeConsole()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		closeConsole()
	}()

	s := &session{}
	go s.maintain(ctx, url)

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
		default:
			if err := s.send(interfaces.Action(cmd)); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}
