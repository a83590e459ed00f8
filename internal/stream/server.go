package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrConnectionClosed 目标连接已关闭，只结束该连接自身。
	ErrConnectionClosed = errors.New("stream connection closed")

	// ErrServerClosed 服务已进入关闭流程，不再接受新连接。
	ErrServerClosed = errors.New("stream server closed")
)

const (
	DefaultInterval     = 3000 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
	closeFrameTimeout   = time.Second
)

// Conn 单个推送连接的传输层，*websocket.Conn 满足该接口。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Recorder 推送相关指标，*monitor.Monitor 实现该接口。
type Recorder interface {
	RecordWSConnection()
	RecordWSDisconnect()
	RecordProducerStarted()
	RecordProducerStopped()
	RecordTickSent()
	RecordTickSendError()
}

// Options 推送参数，零值使用默认值。
type Options struct {
	Interval     time.Duration
	WriteTimeout time.Duration
}

// Stats 生产者启动/取消计数，正常情况下全部连接关闭后两者相等。
type Stats struct {
	Started int64
	Stopped int64
	Active  int
}

// Server 每个连接一个报价生产者，连接关闭时同步取消。
type Server struct {
	upgrader     websocket.Upgrader
	source       TickSource
	logger       *zap.Logger
	monitor      Recorder
	interval     atomic.Int64
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	closing  bool
	wg       sync.WaitGroup

	started atomic.Int64
	stopped atomic.Int64
}

func NewServer(source TickSource, opts Options, logger *zap.Logger, rec Recorder) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 不校验客户端来源
			CheckOrigin: func(*http.Request) bool { return true },
		},
		source:       source,
		logger:       logger,
		monitor:      rec,
		writeTimeout: opts.WriteTimeout,
		sessions:     make(map[uuid.UUID]*session),
	}
	s.interval.Store(int64(opts.Interval))
	return s
}

// SetInterval 修改推送间隔，只影响之后建立的连接。
func (s *Server) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.interval.Store(int64(d))
}

func (s *Server) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// ServeHTTP 升级为 websocket 并在当前 goroutine 运行读循环。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		s.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}
	if err := s.Serve(conn); err != nil && !errors.Is(err, ErrServerClosed) {
		s.logger.Warn("stream session ended with error", zap.Error(err))
	}
}

// Serve 注册连接、启动生产者并阻塞读取直到连接结束。
func (s *Server) Serve(conn Conn) error {
	ctx, cancel := context.WithCancel(context.Background())
	ss := &session{
		id:     uuid.New(),
		conn:   conn,
		srv:    s,
		cancel: cancel,
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrServerClosed
	}
	s.sessions[ss.id] = ss
	s.wg.Add(1)
	s.mu.Unlock()

	interval := s.Interval()
	s.started.Add(1)
	if s.monitor != nil {
		s.monitor.RecordWSConnection()
		s.monitor.RecordProducerStarted()
	}
	s.logger.Info("client connected", zap.String("session", ss.id.String()), zap.Duration("interval", interval))

	go s.produce(ctx, ss, interval)

	for {
		if _, msg, err := conn.ReadMessage(); err != nil {
			ss.close("peer_closed", false)
			return nil
		} else if len(msg) > 0 {
			s.logger.Debug("ignoring client message", zap.String("session", ss.id.String()), zap.Int("bytes", len(msg)))
		}
	}
}

func (s *Server) produce(ctx context.Context, ss *session, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		payload, err := json.Marshal(s.source.Next())
		if err != nil {
			s.logger.Error("encode tick failed", zap.Error(err))
			continue
		}
		if err := ss.send(payload); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return
			}
			if s.monitor != nil {
				s.monitor.RecordTickSendError()
			}
			s.logger.Warn("tick send failed", zap.String("session", ss.id.String()), zap.Error(err))
			ss.close("send_failed", false)
			return
		}
		if s.monitor != nil {
			s.monitor.RecordTickSent()
		}
	}
}

func (s *Server) remove(ss *session) {
	s.mu.Lock()
	delete(s.sessions, ss.id)
	s.mu.Unlock()
}

// Stats 返回当前计数快照。
func (s *Server) Stats() Stats {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	return Stats{Started: s.started.Load(), Stopped: s.stopped.Load(), Active: active}
}

// Shutdown 关闭全部连接并等待生产者退出。
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		open = append(open, ss)
	}
	s.mu.Unlock()

	for _, ss := range open {
		ss.close("shutdown", true)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("stream server stopped", zap.Int("closed", len(open)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session 一个已打开的推送连接。mu 同时保护 closed 和写操作，
// close 返回后不会再有新的发送开始。
type session struct {
	id     uuid.UUID
	conn   Conn
	srv    *Server
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	closed   bool
	sent     int64
	lastTick time.Time
}

func (ss *session) send(payload []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return ErrConnectionClosed
	}
	if ss.srv.writeTimeout > 0 {
		_ = ss.conn.SetWriteDeadline(time.Now().Add(ss.srv.writeTimeout))
	}
	if err := ss.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	ss.sent++
	ss.lastTick = time.Now()
	return nil
}

// close 幂等；在持有写锁时取消生产者。
func (ss *session) close(reason string, sendCloseFrame bool) {
	ss.once.Do(func() {
		ss.mu.Lock()
		if sendCloseFrame {
			_ = ss.conn.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
			_ = ss.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		}
		ss.closed = true
		ss.cancel()
		sent, last := ss.sent, ss.lastTick
		ss.mu.Unlock()

		_ = ss.conn.Close()
		ss.srv.remove(ss)
		ss.srv.stopped.Add(1)
		if m := ss.srv.monitor; m != nil {
			m.RecordProducerStopped()
			m.RecordWSDisconnect()
		}

		fields := []zap.Field{
			zap.String("session", ss.id.String()),
			zap.String("reason", reason),
			zap.Int64("ticksSent", sent),
		}
		if !last.IsZero() {
			fields = append(fields, zap.Time("lastTick", last))
		}
		ss.srv.logger.Info("client disconnected", fields...)
	})
}
