// Command rtspengine runs the RTSP session engine: the protocol state
// machine, transport negotiation, media registry, and RTCP accounting
// wired into a standalone server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"rtspengine/internal/api"
	"rtspengine/internal/applog"
	"rtspengine/internal/config"
	"rtspengine/pkg/registry"
	"rtspengine/pkg/rtspauth"
	"rtspengine/pkg/rtspsession"
	"rtspengine/pkg/transport"
	"rtspengine/pkg/tunnel"
	"rtspengine/pkg/utils"
)

// serverDeps bundles the per-connection configuration every accepted
// RTSP connection (plain TCP or HTTP-tunnelled) needs, so listenAndServe
// and the tunnel handler thread a single value instead of a growing
// parameter list. authConfig is shared, read-only policy — each
// connection still mints its own rtspauth.Session off of it so nonces
// never cross connections (each auth Session owns exactly one nonce).
type serverDeps struct {
	registry       *registry.Registry
	authConfig     *rtspauth.Config
	forceTransport *transport.Mode
	continuePush   time.Duration
	describe       rtspsession.DescribeProvider
}

// newSession builds a per-connection rtspsession.Session wired with this
// deployment's auth policy, transport force-policy, and reconnect grace
// period.
func (d *serverDeps) newSession(conn io.ReadWriter, factory rtspsession.TransportFactory) *rtspsession.Session {
	var auth *rtspauth.Session
	if d.authConfig != nil {
		auth = d.authConfig.NewSession()
	}
	s := rtspsession.NewSession(conn, d.registry, factory, d.describe, auth)
	if d.forceTransport != nil {
		s.ForceTransport(*d.forceTransport)
	}
	s.SetContinuePush(d.continuePush)
	return s
}

// Engine wires every package into a runnable process, the way sol's own
// App ties its media and API servers together.
type Engine struct {
	config *config.Config
	deps   *serverDeps
	broker *tunnel.Broker
	api    *api.Server
}

// NewEngine loads configuration, initializes logging, and constructs
// every collaborator the servers need, without starting anything yet.
func NewEngine() (*Engine, error) {
	cfg, err := config.Load("configs/default.yaml")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applog.Init(cfg.SlogLevel())

	reg := registry.New(cfg.Registry.VhostEnabled)

	var authConfig *rtspauth.Config
	if cfg.Auth.Enabled {
		authConfig = rtspauth.NewConfig(cfg.Auth.Realm, cfg.Auth.Basic, staticCredentialLookup(), nil)
	}

	var forceTransport *transport.Mode
	if mode, ok := transport.ParseMode(cfg.RTSP.ForceTransport); ok {
		forceTransport = &mode
	}

	deps := &serverDeps{
		registry:       reg,
		authConfig:     authConfig,
		forceTransport: forceTransport,
		continuePush:   time.Duration(cfg.RTSP.ContinuePushMs) * time.Millisecond,
		describe:       newRegistryDescribeProvider(reg),
	}

	return &Engine{
		config: cfg,
		deps:   deps,
		broker: tunnel.New(),
		api:    api.NewServer(strconv.Itoa(cfg.API.Port), reg),
	}, nil
}

// Run starts the RTSP listener, the HTTP-tunnel listener, and the admin
// API together, blocking until ctx is cancelled or one of them fails.
func (e *Engine) Run(ctx context.Context) error {
	rtspAddr := fmt.Sprintf(":%d", e.config.RTSP.Port)
	rtspLn, err := listenAndServe(rtspAddr, e.deps)
	if err != nil {
		return fmt.Errorf("start rtsp listener: %w", err)
	}
	slog.Info("rtsp listener started", "addr", rtspAddr)

	if err := e.api.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	slog.Info("api server started", "port", e.config.API.Port)

	tunnelSrv := e.newTunnelServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("rtsp http-tunnel listener started", "addr", tunnelSrv.Addr)
		if err := tunnelSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("tunnel server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.CloseWithLog(rtspLn)
		return tunnelSrv.Close()
	})

	return g.Wait()
}

// newTunnelServer builds the RTSP-over-HTTP GET/POST endpoints: each GET
// registers a Conn in the broker and immediately hands it to a fresh
// rtspsession.Session driven by serveTunnelConn.
func (e *Engine) newTunnelServer() *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", tunnel.HandleGet(e.broker, func(cookie string, conn *tunnel.Conn) {
		go serveTunnelConn(cookie, conn, e.deps)
	}))
	router.POST("/", tunnel.HandlePost(e.broker))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", e.config.RTSP.HTTPTunnelPort),
		Handler: router,
	}
}

// staticCredentialLookup is the CredentialLookup used when no external
// credential store is wired in; it rejects every user. A real deployment
// supplies its own lookup (e.g. backed by the config file's user list).
func staticCredentialLookup() rtspauth.CredentialLookup {
	return func(realm, user string) (string, bool) { return "", false }
}

func main() {
	engine, err := NewEngine()
	if err != nil {
		slog.Error("failed to initialize engine", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("rtspengine starting")
	if err := engine.Run(ctx); err != nil {
		slog.Error("rtspengine stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("rtspengine stopped successfully")
}
