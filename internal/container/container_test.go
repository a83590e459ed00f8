package container

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "broker-gateway-go/config"
	"broker-gateway-go/infrastructure/logger"
	"broker-gateway-go/internal/session"
)

// fakeBroker 模拟上游券商 API
func fakeBroker(t *testing.T, authOK bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if !authOK {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		io.WriteString(w, `{"access_token":"tok","expires_in":3600}`)
	})
	mux.HandleFunc("GET /news/v1/market", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"headline":"markets up"}]`)
	})
	mux.HandleFunc("GET /portfolio/v1/holdings", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"holdings":[]}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// freeAddr 取一个当前空闲的本地端口
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type notifications struct {
	mu     sync.Mutex
	states []string
}

func (n *notifications) notify(state string) error {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	return nil
}

func testConfig(t *testing.T, baseURL string) appconfig.AppConfig {
	cfg := appconfig.Default()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.StreamAddr = freeAddr(t)
	cfg.Server.MetricsAddr = freeAddr(t)
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.Username = "u"
	cfg.Upstream.Password = "p"
	cfg.Stream.IntervalMs = 10
	return cfg
}

func TestFailedAuthBindsNoListener(t *testing.T) {
	broker := fakeBroker(t, false)
	cfg := testConfig(t, broker.URL)
	n := &notifications{}

	c := New(cfg, "", WithLogger(logger.NewNop()), WithNotifier(n.notify))
	require.NoError(t, c.Build())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsAuthFailure(err))

	for _, addr := range []string{cfg.Server.HTTPAddr, cfg.Server.StreamAddr, cfg.Server.MetricsAddr} {
		conn, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if dialErr == nil {
			conn.Close()
			t.Fatalf("%s is listening after failed auth", addr)
		}
	}
	assert.Empty(t, c.HTTPAddr())
	assert.Empty(t, n.states, "no readiness after failed auth")
}

func TestStartServesAllSurfaces(t *testing.T) {
	broker := fakeBroker(t, true)
	cfg := testConfig(t, broker.URL)
	n := &notifications{}

	c := New(cfg, "", WithLogger(logger.NewNop()), WithNotifier(n.notify))
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.HealthCheck())

	base := "http://" + c.HTTPAddr()

	resp, err := http.Post(base+"/postback", "application/json", strings.NewReader(`{"foo":"bar"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Postback received"}`, string(body))

	resp, err = http.Get(base + "/news")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `[{"headline":"markets up"}]`, string(body))

	resp, err = http.Get(base + "/holdings")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"holdings":[]}`, string(body))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+c.StreamAddr()+"/", nil)
	require.NoError(t, err)
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var tick map[string]string
	require.NoError(t, json.Unmarshal(msg, &tick))
	assert.Equal(t, "XYZ", tick["symbol"])

	metrics, err := http.Get("http://" + c.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(metrics.Body)
	metrics.Body.Close()
	assert.Contains(t, string(body), "gw_broker_postbacks_total 1")

	require.NoError(t, c.Stop())
	ws.Close()

	st := c.Stream().Stats()
	assert.Equal(t, st.Started, st.Stopped)
	assert.Equal(t, []string{"READY=1", "STOPPING=1"}, n.states)

	_, err = net.DialTimeout("tcp", cfg.Server.HTTPAddr, 200*time.Millisecond)
	assert.Error(t, err, "http listener closed after stop")
}

func TestPortInUseRollsBack(t *testing.T) {
	broker := fakeBroker(t, true)
	cfg := testConfig(t, broker.URL)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg.Server.HTTPAddr = busy.Addr().String()

	c := New(cfg, "", WithLogger(logger.NewNop()), WithNotifier(func(string) error { return nil }))
	require.NoError(t, c.Build())
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_server")

	// 已启动的推送服务被回滚
	_, dialErr := net.DialTimeout("tcp", cfg.Server.StreamAddr, 200*time.Millisecond)
	assert.Error(t, dialErr)
}
