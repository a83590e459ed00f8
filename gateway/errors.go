package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJSON 上游返回了非 JSON 响应体。
	ErrInvalidJSON = errors.New("upstream returned invalid json")

	// ErrEmptyToken 认证成功但没有 access_token。
	ErrEmptyToken = errors.New("empty access_token")
)

// UpstreamError wraps a non-2xx response or a transport failure from the brokerage API.
// It is returned verbatim; callers decide what the end client sees.
type UpstreamError struct {
	Op         string // 操作名，例如 "news"
	StatusCode int    // 0 表示请求未拿到响应
	Body       string // 响应体片段，仅用于日志
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstreamError reports whether err carries an *UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
