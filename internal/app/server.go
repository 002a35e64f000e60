package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/api/rest"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/api/ws"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/config"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/nats"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/redis"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/relay"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/websocket"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// App represents the relay server holding all of its dependencies.
type App struct {
	cfg         config.Config
	logger      logger.Logger
	natsClient  *nats.NATSClient
	redisClient *redis.RedisClient
	chatService relay.Service
	hub         *websocket.Hub
	httpServer  *http.Server
	rootCtx     context.Context
	cancel      context.CancelFunc
}

// NewApp initializes and connects all relay dependencies.
func NewApp(cfg config.Config) (*App, error) {
	baseLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFile)
	rootCtx := logger.NewContext(context.Background(), baseLogger)
	rootCtx, rootCancel := context.WithCancel(rootCtx)

	log := logger.FromContext(rootCtx).WithModule("app")
	log.Infof("Initializing relay components...")

	natsClient, err := nats.NewNATSClient(rootCtx, cfg.NATSURL)
	if err != nil {
		rootCancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	redisClient, err := redis.NewRedisClient(rootCtx, cfg.RedisURL)
	if err != nil {
		rootCancel()
		natsClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.MediaDir != "" {
		if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
			rootCancel()
			natsClient.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to create media dir: %w", err)
		}
	}

	chatService := relay.NewService(rootCtx, natsClient, redisClient)
	hub := websocket.NewHub()
	go hub.Run()

	httpServer := createHTTPServer(rootCtx, cfg, hub, chatService)

	app := &App{
		cfg:         cfg,
		logger:      log,
		natsClient:  natsClient,
		redisClient: redisClient,
		chatService: chatService,
		hub:         hub,
		httpServer:  httpServer,
		rootCtx:     rootCtx,
		cancel:      rootCancel,
	}

	log.Infof("Relay initialized successfully")
	return app, nil
}

func createHTTPServer(ctx context.Context, cfg config.Config, hub *websocket.Hub, chatService relay.Service) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.SetupWebSocketRoutes(ws.WSConfig{
		Hub:         hub,
		ChatService: chatService,
		JWTSecret:   cfg.JWTSecret,
		RootCtx:     ctx,
	}))
	mux.Handle("/", rest.SetupRESTRoutes(rest.APIConfig{
		ChatService:  chatService,
		JWTSecret:    cfg.JWTSecret,
		MediaDir:     cfg.MediaDir,
		MediaBaseURL: cfg.MediaBaseURL,
		RootCtx:      ctx,
	}))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
}

// Start runs the relay and handles graceful shutdown on signal.
func (a *App) Start() error {
	log := a.logger.WithFields(map[string]interface{}{
		"port": a.cfg.Port,
	})

	log.Infof("Starting relay server")

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatalf("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.WithFields(map[string]interface{}{
		"signal": sig.String(),
	}).Warnf("Received shutdown signal")

	return a.Stop()
}

// Stop gracefully shuts down the server and closes all connections.
func (a *App) Stop() error {
	log := a.logger.WithFields(map[string]interface{}{
		"shutdown_timeout": "5s",
	})

	log.Infof("Initiating graceful shutdown")

	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Errorf("HTTP server shutdown error")
	}

	log.Infof("Closing websocket hub")
	a.hub.Close()

	log.Infof("Closing NATS connection")
	a.natsClient.Close()

	log.Infof("Closing Redis connection")
	a.redisClient.Close()

	log.Infof("Shutdown completed successfully")
	return nil
}
