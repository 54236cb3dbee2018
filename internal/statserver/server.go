package statserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

const (
	maxReadTimeout  = 75 * time.Second
	maxWriteTimeout = 75 * time.Second
	idleTimeout     = 620 * time.Second
)

func NewServer(ctx context.Context, port uint16, logger *zap.Logger, store *stats.Store, registry *proxy.Registry, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Handler: NewHandler(logger, store, registry, gatherer),
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),

		ReadTimeout:  maxReadTimeout,
		WriteTimeout: maxWriteTimeout,
		IdleTimeout:  idleTimeout,

		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func NewHandler(logger *zap.Logger, store *stats.Store, registry *proxy.Registry, gatherer prometheus.Gatherer) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := NewAPIStore(logger, store, registry)

	engine.GET("/health", api.Health)
	engine.GET("/stat/volumes", api.Volumes)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	engine.GET("/targets", api.ListTargets)
	engine.POST("/targets", api.CreateTarget)
	engine.DELETE("/targets/:name", api.RemoveTarget)

	return engine
}
