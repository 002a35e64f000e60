package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/auth"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/relay"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/websocket"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for testing; restrict in production.
	},
}

// HandleWebSocket authenticates the handshake and hands the connection to
// the hub. Auth failures reject with 401 before the upgrade so clients
// can tell a bad credential from a network fault.
func HandleWebSocket(
	hub *websocket.Hub,
	chatService relay.Service,
	jwtSecret string,
	rootCtx context.Context,
	logg logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := bearerToken(r)
		userID, err := auth.ParseUserID(jwtSecret, credential)
		if err != nil {
			logg.Warnf("[WS HANDLER] rejected handshake: %v", err)
			http.Error(w, "invalid credential", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Errorf("[WS HANDLER] Upgrade error: %v", err)
			return
		}

		client := &websocket.Connection{
			Ws:       conn,
			Send:     make(chan domain.Envelope, 256),
			Hub:      hub,
			UserID:   userID,
			ClientID: uuid.NewString(),
			Service:  chatService,
			Logger:   logg,
		}

		if err := chatService.Connected(rootCtx, userID, client.ClientID, client.Push); err != nil {
			logg.Errorf("[WS HANDLER] failed to register %s: %v", userID, err)
			conn.Close()
			return
		}

		hub.Register <- client
		logg.Infof("[WS HANDLER] New connection from %s (user=%s)", conn.RemoteAddr(), userID)

		go client.ReadPump(rootCtx)
		go client.WritePump()
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browser websocket clients cannot set headers; accept ?token= too.
	return r.URL.Query().Get("token")
}
