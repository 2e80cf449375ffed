package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morsekit/cwd/pkg/client"
	"github.com/morsekit/cwd/pkg/config"
	"github.com/morsekit/cwd/pkg/engine"
	"github.com/morsekit/cwd/pkg/logging"
)

// Daemon ties the core engine to the HTTP surface. The REST handlers go
// through the Unix socket like any other client; the websocket streams
// talk to the engine directly.
type Daemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	webServer    *http.Server

	socketPath string
}

// NewDaemon creates a daemon instance from configuration.
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket

	coreEngine, err := engine.NewCoreEngine(cfg, socketPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create core engine: %w", err)
	}

	daemon := &Daemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		coreEngine:   coreEngine,
		socketClient: client.NewSocketClient(socketPath),
		socketPath:   socketPath,
	}

	daemon.setupWebServer()
	return daemon, nil
}

// Start starts the engine and the web server.
func (d *Daemon) Start() error {
	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	// Give the socket a moment to come up, then verify it.
	time.Sleep(100 * time.Millisecond)
	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "web server listening on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "web server shutdown error: %v", err)
		}
	}

	if d.coreEngine != nil {
		if err := d.coreEngine.Stop(); err != nil {
			logging.Warnf("daemon", "core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()
	return nil
}

func (d *Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/", d.handleRoot)

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.POST("/send", d.handleSend)
		api.PUT("/speed", d.handleSetSpeed)
		api.PUT("/frequency", d.handleSetFrequency)
		api.PUT("/volume", d.handleSetVolume)
		api.POST("/key", d.handleKey)
		api.POST("/halt", d.handleHalt)
		api.GET("/stats", d.handleGetStats)
		api.GET("/sessions", d.handleGetSessions)
	}

	router.GET("/ws/decoded", d.handleDecodedWebSocket)
	router.GET("/ws/audio", d.handleAudioWebSocket)

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
