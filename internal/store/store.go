package store

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrUnauthenticated is returned when no credential has been stored yet.
var ErrUnauthenticated = errors.New("not authenticated")

// Credential 上游访问令牌及其有效期。Validity 为 0 表示上游未告知有效期。
type Credential struct {
	AccessToken string
	ObtainedAt  time.Time
	Validity    time.Duration
}

// ExpiresAt returns the zero time when the validity is unknown.
func (c Credential) ExpiresAt() time.Time {
	if c.Validity <= 0 {
		return time.Time{}
	}
	return c.ObtainedAt.Add(c.Validity)
}

// Expired reports whether the credential is past its expiry at now.
// A credential with unknown validity never expires.
func (c Credential) Expired(now time.Time) bool {
	exp := c.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// Store 进程内唯一的当前凭证。
// 读路径无锁；Set 整体替换指针，读者只会看到旧值或新值。
type Store struct {
	current atomic.Pointer[Credential]
}

func New() *Store {
	return &Store{}
}

// Get 返回当前凭证；尚未认证时返回 ErrUnauthenticated。
func (s *Store) Get() (Credential, error) {
	c := s.current.Load()
	if c == nil {
		return Credential{}, ErrUnauthenticated
	}
	return *c, nil
}

// Set 原子替换当前凭证。
func (s *Store) Set(c Credential) {
	s.current.Store(&c)
}

// Token 返回当前 bearer token，每次调用都重新读取。
func (s *Store) Token() (string, error) {
	c, err := s.Get()
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Clear 丢弃当前凭证。
func (s *Store) Clear() {
	s.current.Store(nil)
}
