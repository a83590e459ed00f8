package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 上游操作名，同时作为指标标签。
const (
	OpAuthenticate     = "authenticate"
	OpHoldings         = "holdings"
	OpBuyOrder         = "buy_order"
	OpSellOrder        = "sell_order"
	OpNews             = "news"
	OpHistoricalPrices = "historical_prices"
)

const maxBodyBytes = 10 << 20

// Endpoints 上游各接口的完整URL。
type Endpoints struct {
	Auth             string
	Holdings         string
	BuyOrder         string
	SellOrder        string
	News             string
	HistoricalPrices string
}

// NewEndpoints joins baseURL with each path.
func NewEndpoints(baseURL, auth, holdings, buy, sell, news, historical string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	join := func(p string) string {
		if p == "" {
			return ""
		}
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			return p
		}
		return base + "/" + strings.TrimLeft(p, "/")
	}
	return Endpoints{
		Auth:             join(auth),
		Holdings:         join(holdings),
		BuyOrder:         join(buy),
		SellOrder:        join(sell),
		News:             join(news),
		HistoricalPrices: join(historical),
	}
}

// TokenSource 每次调用时提供当前 bearer token。
type TokenSource interface {
	Token() (string, error)
}

// Recorder 记录上游调用指标，*monitor.Monitor 实现该接口。
type Recorder interface {
	RecordUpstreamRequest(op string)
	RecordUpstreamError(op string)
	RecordUpstreamLatency(op string, seconds float64)
}

// Client 上游券商 API 客户端；HTTPClient 可注入 httptest。
// 本身无状态，token 每次从 Tokens 读取。
type Client struct {
	Endpoints  Endpoints
	HTTPClient *http.Client
	Tokens     TokenSource
	Limiter    RateLimiter
	Monitor    Recorder
}

// AuthResult password grant 的响应。
type AuthResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // 秒，0 表示未提供
}

// Validity converts ExpiresIn; zero when the upstream did not report it.
func (a AuthResult) Validity() time.Duration {
	if a.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(a.ExpiresIn) * time.Second
}

// Authenticate 调用 OAuth password grant 获取 access token。
func (c *Client) Authenticate(ctx context.Context, username, password string) (AuthResult, error) {
	var res AuthResult
	payload, err := json.Marshal(map[string]string{
		"username":   username,
		"password":   password,
		"grant_type": "password",
	})
	if err != nil {
		return res, fmt.Errorf("encode auth payload: %w", err)
	}
	raw, err := c.do(ctx, OpAuthenticate, http.MethodPost, c.Endpoints.Auth, payload, "")
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, &UpstreamError{Op: OpAuthenticate, Err: fmt.Errorf("decode auth response: %w", err)}
	}
	if res.AccessToken == "" {
		return res, &UpstreamError{Op: OpAuthenticate, Err: ErrEmptyToken}
	}
	return res, nil
}

// FetchHoldings 查询当前持仓。
func (c *Client) FetchHoldings(ctx context.Context) (json.RawMessage, error) {
	token, err := c.requireToken(OpHoldings)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, OpHoldings, http.MethodGet, c.Endpoints.Holdings, nil, token)
}

// PlaceBuyOrder 原样转发买单。
func (c *Client) PlaceBuyOrder(ctx context.Context, order json.RawMessage) (json.RawMessage, error) {
	token, err := c.requireToken(OpBuyOrder)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, OpBuyOrder, http.MethodPost, c.Endpoints.BuyOrder, order, token)
}

// PlaceSellOrder 原样转发卖单。
func (c *Client) PlaceSellOrder(ctx context.Context, order json.RawMessage) (json.RawMessage, error) {
	token, err := c.requireToken(OpSellOrder)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, OpSellOrder, http.MethodPost, c.Endpoints.SellOrder, order, token)
}

// FetchNews 市场新闻；有 token 时附带，没有也照常请求。
func (c *Client) FetchNews(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, OpNews, http.MethodGet, c.Endpoints.News, nil, c.optionalToken())
}

// FetchHistoricalPrices 查询某个代码的历史价格。
func (c *Client) FetchHistoricalPrices(ctx context.Context, symbol string) (json.RawMessage, error) {
	u, err := url.Parse(c.Endpoints.HistoricalPrices)
	if err != nil {
		return nil, &UpstreamError{Op: OpHistoricalPrices, Err: fmt.Errorf("bad endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()
	return c.do(ctx, OpHistoricalPrices, http.MethodGet, u.String(), nil, c.optionalToken())
}

func (c *Client) requireToken(op string) (string, error) {
	if c.Tokens == nil {
		return "", fmt.Errorf("%s: token source not set", op)
	}
	token, err := c.Tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (c *Client) optionalToken() string {
	if c.Tokens == nil {
		return ""
	}
	token, _ := c.Tokens.Token()
	return token
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, token string) (json.RawMessage, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if endpoint == "" {
		return nil, &UpstreamError{Op: op, Err: fmt.Errorf("endpoint not configured")}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &UpstreamError{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	c.record(func(r Recorder) { r.RecordUpstreamRequest(op) })
	raw, err := c.roundTrip(op, req)
	elapsed := time.Since(start).Seconds()
	c.record(func(r Recorder) { r.RecordUpstreamLatency(op, elapsed) })
	if err != nil {
		c.record(func(r Recorder) { r.RecordUpstreamError(op) })
		return nil, err
	}
	return raw, nil
}

func (c *Client) roundTrip(op string, req *http.Request) (json.RawMessage, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       snippet(raw),
			Err:        fmt.Errorf("%s %s", req.Method, req.URL.Path),
		}
	}
	if !json.Valid(raw) {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: snippet(raw), Err: ErrInvalidJSON}
	}
	return json.RawMessage(raw), nil
}

func (c *Client) record(fn func(Recorder)) {
	if c.Monitor != nil {
		fn(c.Monitor)
	}
}

func snippet(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
