package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/integractl/internal/auth"
	"github.com/danmuck/integractl/internal/config"
	"github.com/danmuck/integractl/internal/fleet"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	fleetConfigPath  string
	fleetMetricsAddr string
)

func init() {
	fleetCmd.Flags().StringVarP(&fleetConfigPath, "config", "c", "fleet.toml", "fleet config file")
	fleetCmd.Flags().StringVar(&fleetMetricsAddr, "metrics-addr", "", "override metrics_addr; \"off\" disables the admin HTTP surface")
}

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Connects every terminal of a fleet config and serves health and metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadFleetConfig(fleetConfigPath)
		if err != nil {
			return err
		}
		if fleetMetricsAddr != "" {
			cfg.MetricsAddr = fleetMetricsAddr
		}
		f, err := fleet.New(cfg.Specs(), cfg.Session)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var srv *http.Server
		httpErr := make(chan error, 1)
		if cfg.MetricsAddr != "" && cfg.MetricsAddr != "off" {
			var guard []gin.HandlerFunc
			if cfg.AdminToken != "" {
				guard = append(guard, auth.Middleware(auth.StaticToken{Token: cfg.AdminToken}))
			}
			router := observability.NewRouter(cfg.Name, logs.Component("http"), func() (any, bool) {
				statuses := f.Statuses()
				ready := true
				for _, s := range statuses {
					ready = ready && s.Connected
				}
				return statuses, ready
			}, guard...)
			srv = &http.Server{Addr: cfg.MetricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				logs.Infof("integractl.fleet admin listening addr=%s", cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					httpErr <- err
					stop()
				}
			}()
		}

		logs.Infof("integractl.fleet name=%s terminals=%d", cfg.Name, len(cfg.Terminals))
		runErr := f.Run(ctx)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			cancel()
		}
		select {
		case err := <-httpErr:
			return err
		default:
		}
		return runErr
	},
}
