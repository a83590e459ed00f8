package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appconfig "broker-gateway-go/config"
	"broker-gateway-go/internal/container"
	"broker-gateway-go/internal/session"
)

// 退出码：认证失败与其他启动错误区分开，方便 systemd 判断
const (
	exitStartup = 1
	exitAuth    = 2
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Brokerage integration gateway",
	Long: `Gateway authenticates against the brokerage API at startup, relays news,
historical prices, holdings and orders over HTTP, receives order postbacks,
and streams simulated price ticks to websocket clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return appconfig.LoadEnvFile(envFile)
	},
	RunE: run,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.LoadWithEnvOverrides(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: http=%s stream=%s metrics=%s upstream=%s\n",
			cfg.Server.HTTPAddr, cfg.Server.StreamAddr, cfg.Server.MetricsAddr, cfg.Upstream.BaseURL)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", ".env 文件路径，不存在则忽略")
	rootCmd.AddCommand(checkConfigCmd)
}

func run(cmd *cobra.Command, args []string) error {
	c, err := container.NewFromFile(cfgPath)
	if err != nil {
		return err
	}
	if err := c.Build(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		return err
	}

	<-ctx.Done()
	return c.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if session.IsAuthFailure(err) {
			os.Exit(exitAuth)
		}
		os.Exit(exitStartup)
	}
}
