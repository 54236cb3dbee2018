package ioc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/statserver"
)

func newHTTPModule() fx.Option {
	return fx.Module("http",
		fx.Provide(
			newHTTPServer,
		),
		fx.Invoke(
			startHTTPServer,
		),
	)
}

func newHTTPServer(config cfg.Config, logger *zap.Logger, store *stats.Store, registry *proxy.Registry, promRegistry *prometheus.Registry) *http.Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	return statserver.NewServer(context.Background(), config.HTTPPort, logger, store, registry, promRegistry)
}

func startHTTPServer(lc fx.Lifecycle, s fx.Shutdowner, logger *zap.Logger, server *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var listenConfig net.ListenConfig

			listener, err := listenConfig.Listen(ctx, "tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}

			logger.Info("http server listening", zap.Stringer("addr", listener.Addr()))

			invokeAsync(s, logger, func() error {
				if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
					return err
				}

				return nil
			})

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
