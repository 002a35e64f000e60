package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/auth"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/relay"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// APIConfig carries the REST surface's dependencies.
type APIConfig struct {
	ChatService  relay.Service
	JWTSecret    string
	MediaDir     string
	MediaBaseURL string
	RootCtx      context.Context
}

type handler struct {
	service      relay.Service
	jwtSecret    string
	mediaDir     string
	mediaBaseURL string
	log          logger.Logger
}

// SetupRESTRoutes mounts the chat REST collaborators: history, mark-read,
// media upload, room directory, plus media file serving and a presence
// diagnostic.
func SetupRESTRoutes(cfg APIConfig) http.Handler {
	h := &handler{
		service:      cfg.ChatService,
		jwtSecret:    cfg.JWTSecret,
		mediaDir:     cfg.MediaDir,
		mediaBaseURL: cfg.MediaBaseURL,
		log:          logger.FromContext(cfg.RootCtx).WithModule("rest"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rooms/{id}/messages", h.authed(h.history))
	mux.HandleFunc("POST /api/rooms/{id}/read", h.authed(h.markRead))
	mux.HandleFunc("POST /api/rooms/{id}/media", h.authed(h.uploadMedia))
	mux.HandleFunc("DELETE /api/rooms/{id}/messages/{msgId}", h.authed(h.deleteMessage))
	mux.HandleFunc("GET /api/rooms/{id}", h.authed(h.room))
	mux.HandleFunc("POST /api/listings/{id}/room", h.authed(h.roomForListing))
	mux.HandleFunc("GET /api/users/active", h.authed(h.activeUsers))
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (h *handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		userID, err := auth.ParseUserID(h.jwtSecret, token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		next(w, r, userID)
	}
}

func (h *handler) history(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.service.History(r.Context(), roomID, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	if err := h.service.MarkRead(r.Context(), roomID, userID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadMedia stores the binary, then creates and fans out the durable
// image message. The uploader learns the final record over the socket or
// its next history load, not from this response.
func (h *handler) uploadMedia(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ref, err := h.storeFile(file, header)
	if err != nil {
		h.log.Errorf("media store failed: %v", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store media")
		return
	}

	if _, err := h.service.SendMedia(r.Context(), roomID, userID, ref); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ref)
}

func (h *handler) storeFile(file multipart.File, header *multipart.FileHeader) (port.MediaRef, error) {
	name := uuid.NewString() + filepath.Ext(header.Filename)
	path := filepath.Join(h.mediaDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return port.MediaRef{}, fmt.Errorf("create %s: %w", path, err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(path)
		return port.MediaRef{}, fmt.Errorf("write %s: %w", path, err)
	}

	return port.MediaRef{
		URL:         h.mediaBaseURL + "/media/" + name,
		ContentType: header.Header.Get("Content-Type"),
		Size:        size,
	}, nil
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	messageID := r.PathValue("msgId")
	if err := h.service.DeleteMessage(r.Context(), roomID, userID, messageID); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) room(w http.ResponseWriter, r *http.Request, userID string) {
	room, ok, err := h.service.Room(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok || !room.HasMember(userID) {
		h.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	h.writeJSON(w, http.StatusOK, room)
}

func (h *handler) roomForListing(w http.ResponseWriter, r *http.Request, userID string) {
	listingID := r.PathValue("id")

	var body struct {
		SellerID string `json:"sellerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	room, err := h.service.RoomForListing(r.Context(), listingID, userID, body.SellerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, room)
}

func (h *handler) activeUsers(w http.ResponseWriter, r *http.Request, _ string) {
	users, err := h.service.ListActiveUsers(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("response encode failed: %v", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
