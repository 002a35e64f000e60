package ws

import (
	"context"
	"net/http"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/relay"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/websocket"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

type WSConfig struct {
	Hub         *websocket.Hub
	ChatService relay.Service
	JWTSecret   string
	RootCtx     context.Context
}

// SetupWebSocketRoutes mounts the websocket endpoint on a fresh mux.
func SetupWebSocketRoutes(cfg WSConfig) http.Handler {
	mux := http.NewServeMux()
	log := logger.FromContext(cfg.RootCtx).WithModule("websocket")
	mux.HandleFunc("/ws", HandleWebSocket(cfg.Hub, cfg.ChatService, cfg.JWTSecret, cfg.RootCtx, log))
	return mux
}
