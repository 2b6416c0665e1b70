package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var ErrServerNotStarted = errors.New("control server not started")

type ServerConfig struct {
	Listen string
	Path   string
}

// Server 把控制器的操作和状态通过websocket暴露给远程客户端。
// 每个连接在建立时先收到当前状态，之后收到每一次状态更新。
type Server struct {
	cfg      ServerConfig
	handler  interfaces.ActionHandler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	conns    map[*serverConn]struct{}
}

func NewServer(cfg ServerConfig, handler interfaces.ActionHandler, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/control"
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "control"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*serverConn]struct{}),
	}
}

// Handler 返回挂载在配置路径上的HTTP处理器
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

// Start 在后台监听配置地址
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control server stopped", "error", err)
		}
	}()
	s.logger.Info("Control server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown 停止监听并断开所有客户端
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotStarted
	}
	err := srv.Shutdown(ctx)
	// 已升级的连接不受http.Server管理
	for _, c := range conns {
		c.close()
	}
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &serverConn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With("remote", r.RemoteAddr, "client_id", r.Header.Get("Client-Id")),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.logger.Info("Control client connected")

	// 订阅时先收到当前状态，连接期间的更新不会丢失
	unsubscribe := s.handler.Subscribe(func(ev interfaces.StatusEvent) {
		c.push(statusFrame(ev))
	})

	go c.writePump()
	c.readLoop(s.handler)

	unsubscribe()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.close()
	c.logger.Info("Control client disconnected")
}

type serverConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// push 不阻塞调用者，客户端跟不上时丢弃帧
func (c *serverConn) push(frame interfaces.ControlFrame) {
	data, err := EncodeFrame(frame)
	if err != nil {
		c.logger.Error("Failed to encode frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn("Control client too slow, frame dropped", "type", frame.Type)
	}
}

func (c *serverConn) readLoop(handler interfaces.ActionHandler) {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Control connection closed", "error", err)
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.push(errorFrame(err))
			continue
		}
		if frame.Type != interfaces.FrameAction {
			c.push(errorFrame(fmt.Errorf("unsupported frame type %q", frame.Type)))
			continue
		}

		c.logger.Debug("Action received", "action", frame.Action)
		if err := handler.Dispatch(frame.Action); err != nil {
			c.push(errorFrame(err))
		}
	}
}

func (c *serverConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
