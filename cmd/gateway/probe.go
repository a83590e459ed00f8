package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appconfig "broker-gateway-go/config"
)

var probeTimeout time.Duration

// probeCmd 部署后冒烟检查：healthz 与 metrics 是否可达
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check /healthz and /metrics of a running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load(cfgPath)
		if err != nil {
			return err
		}
		client := &http.Client{Timeout: probeTimeout}
		out := cmd.OutOrStdout()

		health := "http://" + localAddr(cfg.Server.HTTPAddr) + "/healthz"
		if _, err := probe(client, health); err != nil {
			return err
		}
		fmt.Fprintf(out, "healthz ok: %s\n", health)

		if cfg.Server.MetricsAddr == "" {
			fmt.Fprintln(out, "metrics disabled")
			return nil
		}
		metricsURL := "http://" + localAddr(cfg.Server.MetricsAddr) + "/metrics"
		body, err := probe(client, metricsURL)
		if err != nil {
			return err
		}
		if !strings.Contains(body, "gw_broker_") {
			return fmt.Errorf("%s: no gateway metrics exposed", metricsURL)
		}
		fmt.Fprintf(out, "metrics ok: %s\n", metricsURL)
		return nil
	},
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 3*time.Second, "单次请求超时")
	rootCmd.AddCommand(probeCmd)
}

func probe(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return string(body), nil
}

// localAddr 把 ":3000" 这类监听地址转换成可拨号的地址
func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
