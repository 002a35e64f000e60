package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Client implements the REST-side collaborators (history, mark-read,
// media upload, room directory) against the relay's API.
type Client struct {
	base       string
	credential string
	http       *http.Client
	log        logger.Logger
}

var (
	_ port.HistoryFetcher = (*Client)(nil)
	_ port.MediaUploader  = (*Client)(nil)
	_ port.ReadMarker     = (*Client)(nil)
	_ port.RoomDirectory  = (*Client)(nil)
)

func NewClient(baseURL, credential string, log logger.Logger) *Client {
	return &Client{
		base:       baseURL,
		credential: credential,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log.WithModule("rest"),
	}
}

// FetchMessages retrieves one history page for a room. The cursor is
// opaque to the client; empty requests the most recent page.
func (c *Client) FetchMessages(ctx context.Context, roomID, cursor string, limit int) (port.HistoryPage, error) {
	endpoint := fmt.Sprintf("%s/rooms/%s/messages", c.base, url.PathEscape(roomID))
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var page port.HistoryPage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, "", &page); err != nil {
		return port.HistoryPage{}, fmt.Errorf("fetch messages for room %s: %w", roomID, err)
	}
	return page, nil
}

// MarkRead issues the bulk mark-read call for a room.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	endpoint := fmt.Sprintf("%s/rooms/%s/read", c.base, url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodPost, endpoint, nil, "", nil); err != nil {
		return fmt.Errorf("mark room %s read: %w", roomID, err)
	}
	return nil
}

// Upload stores a binary for a room and returns its durable reference.
func (c *Client) Upload(ctx context.Context, roomID, filename string, content io.Reader) (port.MediaRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return port.MediaRef{}, fmt.Errorf("upload to room %s: %w", roomID, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return port.MediaRef{}, fmt.Errorf("upload to room %s: %w", roomID, err)
	}
	if err := writer.Close(); err != nil {
		return port.MediaRef{}, fmt.Errorf("upload to room %s: %w", roomID, err)
	}

	endpoint := fmt.Sprintf("%s/rooms/%s/media", c.base, url.PathEscape(roomID))
	var ref port.MediaRef
	if err := c.do(ctx, http.MethodPost, endpoint, &body, writer.FormDataContentType(), &ref); err != nil {
		return port.MediaRef{}, fmt.Errorf("upload to room %s: %w", roomID, err)
	}
	return ref, nil
}

// RoomForListing fetches or creates the caller's room for a listing.
func (c *Client) RoomForListing(ctx context.Context, listingID, sellerID string) (domain.Room, error) {
	endpoint := fmt.Sprintf("%s/listings/%s/room", c.base, url.PathEscape(listingID))
	payload, _ := json.Marshal(map[string]string{"sellerId": sellerID})

	var room domain.Room
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), "application/json", &room); err != nil {
		return domain.Room{}, fmt.Errorf("room for listing %s: %w", listingID, err)
	}
	return room, nil
}

// Room fetches a room by id.
func (c *Client) Room(ctx context.Context, roomID string) (domain.Room, error) {
	endpoint := fmt.Sprintf("%s/rooms/%s", c.base, url.PathEscape(roomID))
	var room domain.Room
	if err := c.do(ctx, http.MethodGet, endpoint, nil, "", &room); err != nil {
		return domain.Room{}, fmt.Errorf("fetch room %s: %w", roomID, err)
	}
	return room, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
