package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, httpAddr, metricsAddr string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  httpAddr: \"" + httpAddr + "\"\n  streamAddr: \"127.0.0.1:0\"\n  metricsAddr: \"" + metricsAddr + "\"\n" +
		"upstream:\n  username: u\n  password: p\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckConfig(t *testing.T) {
	path := writeTestConfig(t, ":3000", ":9100")
	out, err := execute(t, "check-config", "--config", path, "--env-file", "")
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: http=:3000")
}

func TestCheckConfigMissingFile(t *testing.T) {
	_, err := execute(t, "check-config", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--env-file", "")
	require.Error(t, err)
}

func TestProbe(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer api.Close()
	metrics := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "gw_broker_postbacks_total 0\n")
	}))
	defer metrics.Close()

	path := writeTestConfig(t, strings.TrimPrefix(api.URL, "http://"), strings.TrimPrefix(metrics.URL, "http://"))
	out, err := execute(t, "probe", "--config", path, "--env-file", "")
	require.NoError(t, err)
	assert.Contains(t, out, "healthz ok")
	assert.Contains(t, out, "metrics ok")
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3000", localAddr(":3000"))
	assert.Equal(t, "10.0.0.1:80", localAddr("10.0.0.1:80"))
}
