package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	started    int
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件，失败时回滚已启动的组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			var rollback error
			for j := i - 1; j >= 0; j-- {
				rollback = multierr.Append(rollback, m.components[j].Stop())
			}
			m.started = 0
			return multierr.Append(fmt.Errorf("start %s failed: %w", component.Name(), err), rollback)
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，汇总全部错误
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for i := m.started - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", m.components[i].Name(), err))
		}
	}
	m.started = 0
	return errs
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, component := range m.components {
		if err := component.Health(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s unhealthy: %w", component.Name(), err))
		}
	}
	return errs
}

// httpServerComponent HTTP服务器组件。Start 同步绑定端口，
// 端口被占用时直接返回错误而不是在后台打印日志。
type httpServerComponent struct {
	name     string
	handler  http.Handler
	addr     string
	logger   *zap.Logger
	onStop   func(ctx context.Context) error // 在 http.Server.Shutdown 之前调用
	server   *http.Server
	listener net.Listener
	started  bool
	mu       sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.server = srv
	h.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("server exited", zap.String("component", h.name), zap.Error(err))
		}
	}()

	h.logger.Info("listening", zap.String("component", h.name), zap.String("addr", ln.Addr().String()))
	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if h.onStop != nil {
		errs = multierr.Append(errs, h.onStop(ctx))
	}
	if err := h.server.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%s shutdown failed: %w", h.name, err))
	}

	h.logger.Info("stopped", zap.String("component", h.name))
	h.started = false
	return errs
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// Addr 实际监听地址（addr 为 ":0" 时用于测试）
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// loopComponent 后台运行一个阻塞函数直到 Stop。
type loopComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

func (l *loopComponent) Name() string { return l.name }

func (l *loopComponent) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}
	// 生命周期独立于 Start 的 ctx，由 Stop 结束
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		if err := l.run(ctx); err != nil {
			l.logger.Error("background loop exited", zap.String("component", l.name), zap.Error(err))
		}
	}()
	return nil
}

func (l *loopComponent) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	l.cancel = nil
	select {
	case <-l.done:
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("%s did not stop in %s", l.name, shutdownTimeout)
	}
}

func (l *loopComponent) Health() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return fmt.Errorf("%s not running", l.name)
	}
	return nil
}

// funcComponent 由 start/stop 回调组成的组件，例如配置热更新。
type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
}

func (f *funcComponent) Name() string { return f.name }

func (f *funcComponent) Start(ctx context.Context) error { return f.start(ctx) }

func (f *funcComponent) Stop() error { return f.stop() }

func (f *funcComponent) Health() error { return nil }
