package port

import (
	"context"
	"io"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
)

// HistoryPage is one page of a room's backlog, newest page first. An empty
// NextCursor means the backlog is exhausted.
type HistoryPage struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// HistoryFetcher retrieves message history for a room, paginated by an
// opaque cursor. An empty cursor requests the most recent page.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, roomID, cursor string, limit int) (HistoryPage, error)
}

// MediaRef describes an uploaded binary once it is durable server-side.
type MediaRef struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// MediaUploader stores a binary payload for a room and returns its durable
// reference. The server creates and pushes the resulting image message
// itself; callers must not synthesize one.
type MediaUploader interface {
	Upload(ctx context.Context, roomID, filename string, content io.Reader) (MediaRef, error)
}

// ReadMarker is the bulk mark-read REST collaborator.
type ReadMarker interface {
	MarkRead(ctx context.Context, roomID string) error
}

// RoomDirectory creates or fetches rooms bound to listings.
type RoomDirectory interface {
	RoomForListing(ctx context.Context, listingID, sellerID string) (domain.Room, error)
	Room(ctx context.Context, roomID string) (domain.Room, error)
}
