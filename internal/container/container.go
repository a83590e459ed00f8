package container

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	appconfig "broker-gateway-go/config"
	"broker-gateway-go/gateway"
	"broker-gateway-go/infrastructure/alert"
	"broker-gateway-go/infrastructure/logger"
	"broker-gateway-go/infrastructure/monitor"
	"broker-gateway-go/internal/api"
	hotreload "broker-gateway-go/internal/config"
	"broker-gateway-go/internal/session"
	"broker-gateway-go/internal/store"
	"broker-gateway-go/internal/stream"
)

// Notifier 向进程管理器报告状态，默认 systemd sd_notify。
type Notifier func(state string) error

func systemdNotify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// Option 调整 Container 的构建方式
type Option func(*Container)

// WithLogger 使用外部 logger，而不是按配置新建
func WithLogger(l *logger.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithNotifier 替换 systemd 通知
func WithNotifier(n Notifier) Option {
	return func(c *Container) { c.notify = n }
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        appconfig.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	notify  Notifier

	// 上游与会话
	creds   *store.Store
	client  *gateway.Client
	session *session.Manager

	// 对外服务
	stream   *stream.Server
	api      *api.Server
	reloader *hotreload.HotReloader

	httpComp    *httpServerComponent
	streamComp  *httpServerComponent
	metricsComp *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 用已加载的配置创建 Container；configPath 为空时不启用热更新
func New(cfg appconfig.AppConfig, configPath string, opts ...Option) *Container {
	c := &Container{
		cfg:        cfg,
		configPath: configPath,
		notify:     systemdNotify,
		lifecycle:  NewLifecycleManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromFile 读取配置文件（含环境变量覆盖）并创建 Container
func NewFromFile(configPath string, opts ...Option) (*Container, error) {
	cfg, err := appconfig.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return New(cfg, configPath, opts...), nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()
	c.buildServices()

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built")
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		l, err := logger.New(logger.Config(c.cfg.Log))
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = l
	}
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewZapChannel("log", c.logger.Named("alert")),
	}, time.Duration(c.cfg.Alert.ThrottleSec)*time.Second)
	return nil
}

func (c *Container) buildGateway() {
	up := c.cfg.Upstream
	c.creds = store.New()
	c.client = &gateway.Client{
		Endpoints: gateway.NewEndpoints(up.BaseURL, up.AuthPath, up.HoldingsPath,
			up.BuyOrderPath, up.SellOrderPath, up.NewsPath, up.HistoricalPath),
		HTTPClient: gateway.NewDefaultHTTPClient(c.cfg.UpstreamTimeout()),
		Tokens:     c.creds,
		Monitor:    c.monitor,
	}
	if up.RateLimit > 0 {
		c.client.Limiter = gateway.NewTokenBucketLimiter(up.RateLimit, up.RateBurst)
	}

	sc := c.cfg.Session
	c.session = session.NewManager(c.client, c.creds, session.Options{
		Username:        up.Username,
		Password:        up.Password,
		RefreshMargin:   time.Duration(sc.RefreshMarginSec) * time.Second,
		RefreshInterval: time.Duration(sc.RefreshIntervalSec) * time.Second,
		RetryBase:       time.Duration(sc.RetryBaseMs) * time.Millisecond,
		RetryMax:        time.Duration(sc.RetryMaxMs) * time.Millisecond,
	}, c.logger.Named("session"), c.monitor)
	c.session.SetAlerter(c.alerts)
}

func (c *Container) buildServices() {
	st := c.cfg.Stream
	c.stream = stream.NewServer(stream.NewRandomSource(st.Symbol), stream.Options{
		Interval:     c.cfg.StreamInterval(),
		WriteTimeout: time.Duration(st.WriteTimeoutMs) * time.Millisecond,
	}, c.logger.Named("stream"), c.monitor)

	c.api = api.NewServer(c.client, c.cfg.Upstream.HistoricalSymbol,
		c.logger.WithFields(map[string]interface{}{"component": "api"}), c.monitor)
}

func (c *Container) registerLifecycleComponents() error {
	zl := c.logger.Logger

	if c.cfg.Server.MetricsAddr != "" {
		c.metricsComp = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Server.MetricsAddr,
			logger:  zl,
		}
		c.lifecycle.Register(c.metricsComp)
	}

	c.streamComp = &httpServerComponent{
		name:    "stream_server",
		handler: c.stream,
		addr:    c.cfg.Server.StreamAddr,
		logger:  zl,
		onStop:  c.stream.Shutdown,
	}
	c.lifecycle.Register(c.streamComp)

	c.httpComp = &httpServerComponent{
		name:    "http_server",
		handler: c.api.Handler(),
		addr:    c.cfg.Server.HTTPAddr,
		logger:  zl,
	}
	c.lifecycle.Register(c.httpComp)

	if c.cfg.Session.Refresh {
		c.lifecycle.Register(&loopComponent{
			name:   "session_refresh",
			run:    c.session.Run,
			logger: zl,
		})
	}

	if c.configPath != "" && c.cfg.Reload.Enabled {
		rc := hotreload.DefaultHotReloadConfig()
		if c.cfg.Reload.CooldownMs > 0 {
			rc.CooldownTime = time.Duration(c.cfg.Reload.CooldownMs) * time.Millisecond
		}
		r, err := hotreload.NewHotReloader(c.configPath, c.cfg, rc, c.logger.Named("reload"))
		if err != nil {
			return err
		}
		r.RegisterApplier("log_level", hotreload.LogLevelApplier(c.logger))
		r.RegisterApplier("stream_interval", hotreload.StreamIntervalApplier(c.stream))
		c.reloader = r
		c.lifecycle.Register(&funcComponent{name: "config_reload", start: r.Start, stop: r.Stop})
	}
	return nil
}

// Start 先认证，成功后才启动任何监听。认证失败返回 *session.AuthFailure。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container")

	if err := c.session.Start(ctx); err != nil {
		return err
	}

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	if err := c.notify(daemon.SdNotifyReady); err != nil {
		c.logger.Warn("sd_notify ready failed", zap.Error(err))
	}
	c.logger.Info("container started",
		zap.String("http", c.HTTPAddr()),
		zap.String("stream", c.StreamAddr()),
		zap.String("metrics", c.MetricsAddr()),
	)
	return nil
}

// Stop 逆序停止组件并丢弃凭证
func (c *Container) Stop() error {
	c.logger.Info("stopping container")
	if err := c.notify(daemon.SdNotifyStopping); err != nil {
		c.logger.Warn("sd_notify stopping failed", zap.Error(err))
	}

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.creds != nil {
		c.creds.Clear()
	}
	c.logger.Info("container stopped")
	// stdout 的 Sync 在部分平台会报 EINVAL，不计入停止错误
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// HTTPAddr 实际的 HTTP 监听地址，未启动时为空
func (c *Container) HTTPAddr() string {
	if c.httpComp == nil {
		return ""
	}
	return c.httpComp.Addr()
}

func (c *Container) StreamAddr() string {
	if c.streamComp == nil {
		return ""
	}
	return c.streamComp.Addr()
}

func (c *Container) MetricsAddr() string {
	if c.metricsComp == nil {
		return ""
	}
	return c.metricsComp.Addr()
}

// Stream 暴露推送服务，供测试读取计数
func (c *Container) Stream() *stream.Server {
	return c.stream
}

func (c *Container) Monitor() *monitor.Monitor {
	return c.monitor
}
