package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"broker-gateway-go/gateway"
	"broker-gateway-go/internal/store"
)

// AuthFailure 启动时认证失败，进程不应继续启动任何监听。
type AuthFailure struct {
	Err error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err carries an *AuthFailure.
func IsAuthFailure(err error) bool {
	var af *AuthFailure
	return errors.As(err, &af)
}

// Authenticator 由 *gateway.Client 实现。
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (gateway.AuthResult, error)
}

// Recorder 认证相关指标，*monitor.Monitor 实现该接口。
type Recorder interface {
	RecordAuthAttempt()
	RecordAuthFailure()
	SetCredentialExpiry(unix float64)
}

// Alerter 运维告警，*alert.Manager 实现该接口。
type Alerter interface {
	SendCritical(key, message string, fields map[string]interface{}) error
	SendWarning(key, message string, fields map[string]interface{}) error
}

// Options 认证与刷新参数。
type Options struct {
	Username string
	Password string

	RefreshMargin   time.Duration // 到期前多久刷新
	RefreshInterval time.Duration // 上游未给有效期时的刷新周期，0 表示不刷新
	RetryBase       time.Duration
	RetryMax        time.Duration
}

// Manager 负责获取并维护上游访问凭证。
type Manager struct {
	auth    Authenticator
	creds   *store.Store
	opts    Options
	logger  *zap.Logger
	monitor Recorder
	alerter Alerter
	now     func() time.Time
}

func NewManager(auth Authenticator, creds *store.Store, opts Options, logger *zap.Logger, rec Recorder) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase
	}
	return &Manager{
		auth:    auth,
		creds:   creds,
		opts:    opts,
		logger:  logger,
		monitor: rec,
		now:     time.Now,
	}
}

// SetAlerter 设置告警出口，nil 表示不告警。
func (m *Manager) SetAlerter(a Alerter) {
	m.alerter = a
}

// Start 启动时认证一次；失败返回 *AuthFailure，凭证保持为空。
func (m *Manager) Start(ctx context.Context) error {
	if err := m.authenticate(ctx); err != nil {
		m.logger.Error("startup authentication failed", zap.Error(err))
		if m.alerter != nil {
			_ = m.alerter.SendCritical("auth_failure", "upstream authentication failed at startup",
				map[string]interface{}{"error": err.Error()})
		}
		return &AuthFailure{Err: err}
	}
	return nil
}

func (m *Manager) authenticate(ctx context.Context) error {
	if m.monitor != nil {
		m.monitor.RecordAuthAttempt()
	}
	res, err := m.auth.Authenticate(ctx, m.opts.Username, m.opts.Password)
	if err != nil {
		if m.monitor != nil {
			m.monitor.RecordAuthFailure()
		}
		return err
	}

	cred := store.Credential{
		AccessToken: res.AccessToken,
		ObtainedAt:  m.now(),
		Validity:    res.Validity(),
	}
	m.creds.Set(cred)

	fields := []zap.Field{zap.Duration("validity", cred.Validity)}
	var expiry float64 // 0 表示有效期未知
	if exp := cred.ExpiresAt(); !exp.IsZero() {
		fields = append(fields, zap.Time("expiresAt", exp))
		expiry = float64(exp.Unix())
	}
	if m.monitor != nil {
		m.monitor.SetCredentialExpiry(expiry)
	}
	m.logger.Info("authenticated with upstream", fields...)
	return nil
}

// Run 在到期前刷新凭证，直到 ctx 取消。
// 刷新失败保留旧凭证，按指数退避重试。
func (m *Manager) Run(ctx context.Context) error {
	failures := 0
	for {
		var wait time.Duration
		if failures > 0 {
			wait = m.backoff(failures)
		} else {
			var ok bool
			wait, ok = m.nextRefresh()
			if !ok {
				m.logger.Info("credential refresh not scheduled")
				<-ctx.Done()
				return nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := m.authenticate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			m.logger.Warn("credential refresh failed, keeping current token",
				zap.Error(err), zap.Int("attempt", failures))
			if m.alerter != nil {
				_ = m.alerter.SendWarning("refresh_failed", "credential refresh failed",
					map[string]interface{}{"error": err.Error(), "attempt": failures})
			}
			continue
		}
		failures = 0
	}
}

// nextRefresh 返回距离下次刷新的等待时间；ok=false 表示无需刷新。
func (m *Manager) nextRefresh() (time.Duration, bool) {
	cred, err := m.creds.Get()
	if err != nil {
		return 0, true
	}
	exp := cred.ExpiresAt()
	if exp.IsZero() {
		if m.opts.RefreshInterval <= 0 {
			return 0, false
		}
		return m.opts.RefreshInterval, true
	}
	// 有效期不长于提前量时改为过半刷新，否则每次刷新后立即再次刷新
	margin := m.opts.RefreshMargin
	if margin >= cred.Validity {
		margin = cred.Validity / 2
	}
	wait := exp.Add(-margin).Sub(m.now())
	if wait < m.opts.RetryBase {
		wait = m.opts.RetryBase
	}
	return wait, true
}

func (m *Manager) backoff(failures int) time.Duration {
	d := m.opts.RetryBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.opts.RetryMax {
			return m.opts.RetryMax
		}
	}
	return d
}
