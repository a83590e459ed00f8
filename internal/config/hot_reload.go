package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "broker-gateway-go/config"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次重载
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Second,
	}
}

// Validator 在应用前对新配置做额外检查
type Validator interface {
	Validate(cfg appconfig.AppConfig) error
}

// Applier 把新配置应用到运行中的组件
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

type namedApplier struct {
	name    string
	applier Applier
}

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	load       func(path string) (appconfig.AppConfig, error)

	mu         sync.Mutex
	validators []Validator
	appliers   []namedApplier // 按注册顺序应用
	current    appconfig.AppConfig
	lastReload time.Time
	reloads    int

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHotReloader 创建热更新器，current 为启动时已生效的配置
func NewHotReloader(configPath string, current appconfig.AppConfig, cfg HotReloadConfig, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		logger:     logger,
		load:       appconfig.LoadWithEnvOverrides,
		current:    current,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterValidator 注册验证器
func (h *HotReloader) RegisterValidator(v Validator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators = append(h.validators, v)
}

// RegisterApplier 注册应用器
func (h *HotReloader) RegisterApplier(name string, a Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers = append(h.appliers, namedApplier{name: name, applier: a})
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}

	// 监听所在目录：很多编辑器通过 rename 替换文件
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go h.watch(ctx)
	h.logger.Info("config hot reload enabled", zap.String("path", h.configPath))
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })

	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
		// watch goroutine 未启动
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	target := filepath.Clean(h.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.handleConfigChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	cooling := time.Since(h.lastReload) < h.config.CooldownTime
	h.mu.Unlock()
	if cooling {
		return
	}
	if err := h.Reload(); err != nil {
		h.logger.Warn("config reload rejected, keeping current config", zap.Error(err))
	}
}

// Reload 读取配置文件，验证后依次调用应用器。
// 任一步失败则保留当前配置。
func (h *HotReloader) Reload() error {
	next, err := h.load(h.configPath)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, v := range h.validators {
		if err := v.Validate(next); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	for _, field := range restartRequired(h.current, next) {
		h.logger.Warn("config change requires restart, ignored", zap.String("field", field))
	}
	for _, a := range h.appliers {
		if err := a.applier.Apply(next); err != nil {
			return fmt.Errorf("apply %s: %w", a.name, err)
		}
	}

	h.current = next
	h.lastReload = time.Now()
	h.reloads++
	h.logger.Info("config reloaded",
		zap.String("logLevel", next.Log.Level),
		zap.Int("streamIntervalMs", next.Stream.IntervalMs),
	)
	return nil
}

// Current 当前生效的配置
func (h *HotReloader) Current() appconfig.AppConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

// Reloads 成功重载次数
func (h *HotReloader) Reloads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}

// restartRequired 列出改了但运行中无法生效的字段
func restartRequired(old, next appconfig.AppConfig) []string {
	var fields []string
	if old.Server != next.Server {
		fields = append(fields, "server")
	}
	if old.Upstream != next.Upstream {
		fields = append(fields, "upstream")
	}
	if old.Session != next.Session {
		fields = append(fields, "session")
	}
	if old.Stream.Symbol != next.Stream.Symbol {
		fields = append(fields, "stream.symbol")
	}
	return fields
}
