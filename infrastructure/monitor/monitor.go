package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 会话指标
	authAttempts     prometheus.Counter
	authFailures     prometheus.Counter
	credentialExpiry prometheus.Gauge

	// 上游指标
	upstreamRequests *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	// HTTP 网关指标
	httpRequests  *prometheus.CounterVec
	postbacks     prometheus.Counter
	ordersRelayed *prometheus.CounterVec

	// 推送指标
	wsConnections    prometheus.Counter
	wsDisconnects    prometheus.Counter
	activeStreams    prometheus.Gauge
	producersStarted prometheus.Counter
	producersStopped prometheus.Counter
	ticksSent        prometheus.Counter
	tickSendErrors   prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "gw",
		Subsystem: "broker",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Monitor{
		registry: reg,

		authAttempts: counter("auth_attempts_total", "上游认证次数"),
		authFailures: counter("auth_failures_total", "上游认证失败次数"),
		credentialExpiry: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "credential_expiry_timestamp_seconds",
			Help:      "当前令牌过期时间（unix秒，0=未知）",
		}),

		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_requests_total",
				Help:      "上游请求总数",
			},
			[]string{"op"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_errors_total",
				Help:      "上游错误总数",
			},
			[]string{"op"},
		),
		upstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_latency_seconds",
				Help:      "上游请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "网关HTTP请求数",
			},
			[]string{"route", "code"},
		),
		postbacks: counter("postbacks_total", "收到的postback数"),
		ordersRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_relayed_total",
				Help:      "转发到上游的订单数",
			},
			[]string{"side"},
		),

		wsConnections: counter("ws_connections_total", "WebSocket连接次数"),
		wsDisconnects: counter("ws_disconnects_total", "WebSocket断开次数"),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_streams",
			Help:      "当前推送连接数",
		}),
		producersStarted: counter("tick_producers_started_total", "启动的价格推送任务数"),
		producersStopped: counter("tick_producers_stopped_total", "取消的价格推送任务数"),
		ticksSent:        counter("ticks_sent_total", "已发送价格数"),
		tickSendErrors:   counter("tick_send_errors_total", "价格发送失败数"),
	}

	return m
}

// 会话相关方法
func (m *Monitor) RecordAuthAttempt() {
	m.authAttempts.Inc()
}

func (m *Monitor) RecordAuthFailure() {
	m.authFailures.Inc()
}

// SetCredentialExpiry takes a unix timestamp; 0 means unknown.
func (m *Monitor) SetCredentialExpiry(unix float64) {
	m.credentialExpiry.Set(unix)
}

// 上游相关方法
func (m *Monitor) RecordUpstreamRequest(op string) {
	m.upstreamRequests.WithLabelValues(op).Inc()
}

func (m *Monitor) RecordUpstreamError(op string) {
	m.upstreamErrors.WithLabelValues(op).Inc()
}

func (m *Monitor) RecordUpstreamLatency(op string, seconds float64) {
	m.upstreamLatency.WithLabelValues(op).Observe(seconds)
}

// 网关相关方法
func (m *Monitor) RecordHTTPRequest(route, code string) {
	m.httpRequests.WithLabelValues(route, code).Inc()
}

func (m *Monitor) RecordPostback() {
	m.postbacks.Inc()
}

func (m *Monitor) RecordOrderRelayed(side string) {
	m.ordersRelayed.WithLabelValues(side).Inc()
}

// 推送相关方法
func (m *Monitor) RecordWSConnection() {
	m.wsConnections.Inc()
	m.activeStreams.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsDisconnects.Inc()
	m.activeStreams.Dec()
}

func (m *Monitor) RecordProducerStarted() {
	m.producersStarted.Inc()
}

func (m *Monitor) RecordProducerStopped() {
	m.producersStopped.Inc()
}

func (m *Monitor) RecordTickSent() {
	m.ticksSent.Inc()
}

func (m *Monitor) RecordTickSendError() {
	m.tickSendErrors.Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
