// Package httpapi is a thin gin adapter over internal/core/gateway's six
// verbs, implementing the §6 HTTP surface plus a Prometheus /metrics
// mount and the admin live-status websocket (internal/httpapi/wshub).
//
// Grounded on the reference node's internal/api/http package: gin.New()
// with an explicit middleware chain (recovery, request id, logging),
// routes registered under one base path group, graceful Shutdown over a
// context deadline.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apicfg "github.com/Chigala/bitcoin-pay/internal/config/api"
	"github.com/Chigala/bitcoin-pay/internal/core/gateway"
	"github.com/Chigala/bitcoin-pay/internal/httpapi/wshub"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
)

// Server hosts the gateway's REST surface, metrics endpoint and admin
// websocket behind one gin.Engine.
type Server struct {
	cfg     apicfg.Config
	router  *gin.Engine
	http    *http.Server
	gateway *gateway.Gateway
	store   storageiface.Core
	hub     *wshub.Hub
	logger  logiface.Logger
}

// New builds a Server. reg is the Prometheus gatherer /metrics reads
// from; pass prometheus.NewRegistry() in tests to avoid colliding with
// the package-level default across test runs.
func New(cfg apicfg.Config, gw *gateway.Gateway, store storageiface.Core, hub *wshub.Hub, reg prometheus.Gatherer, logger logiface.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(logger))

	s := &Server{cfg: cfg, router: router, gateway: gw, store: store, hub: hub, logger: logger}
	s.registerRoutes(reg)
	return s
}

func (s *Server) registerRoutes(reg prometheus.Gatherer) {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	if s.hub != nil {
		s.router.GET("/admin/ws", s.hub.HandleWebSocket)
	}

	api := s.router.Group(s.cfg.BasePath)
	{
		api.POST("/intents", s.postIntent)
		api.GET("/intents/:id", s.getIntent)
		api.POST("/intents/:id/magic-link", s.postMagicLink)
		api.GET("/pay/:token", s.getPay)
		api.GET("/status", s.getStatus)
		api.POST("/scan/:intentId", s.postScan)
	}
}

// Start begins serving in a background goroutine. It binds the listener
// synchronously so a port conflict is reported to the caller rather than
// discovered later inside the goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: binding %s: %w", addr, err)
	}

	s.http = &http.Server{Addr: addr, Handler: s.router}
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", logiface.F("error", err.Error()))
		}
	}()

	s.logger.Info("http server started", logiface.F("addr", addr))
	return nil
}

// Shutdown drains in-flight requests until ctx is done or 10 seconds
// pass, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
