package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// uploadTimeout bounds how long a pending image message can exist without
// an outcome. A lost upload response reconciles as a failure at the
// deadline instead of leaving pending state unbounded.
const uploadTimeout = 60 * time.Second

// Timeline is the slice of the message store the pipeline needs.
type Timeline interface {
	AppendPending(msg domain.Message)
	ReconcilePending(roomID, tempID string, confirmed *domain.Message) bool
	LoadHistory(ctx context.Context, roomID string) (string, error)
}

// Attachment is a local file picked by the user. Preview is a local
// resource reference displayable before the upload finishes; Release, when
// set, frees it once the placeholder leaves the timeline.
type Attachment struct {
	Name    string
	Preview string
	Content io.Reader
	Release func()
}

// Pipeline drives one image send: optimistic placeholder in, upload,
// reconcile. On success the placeholder is removed and history reloaded so
// the durable record (URL, server-side thumbnailing) enters through the
// confirmed path; the client never synthesizes it. On failure the
// placeholder is removed outright and the error returned; the user
// re-initiates, there is no retry.
type Pipeline struct {
	uploader port.MediaUploader
	store    Timeline
	selfID   string
	timeout  time.Duration
	log      logger.Logger
}

func NewPipeline(uploader port.MediaUploader, store Timeline, selfID string, log logger.Logger) *Pipeline {
	return &Pipeline{
		uploader: uploader,
		store:    store,
		selfID:   selfID,
		timeout:  uploadTimeout,
		log:      log.WithModule("media"),
	}
}

// SendImage blocks until the upload resolves; callers run it in its own
// goroutine to keep the UI responsive, with progress reflected by the
// placeholder's Uploading flag.
func (p *Pipeline) SendImage(ctx context.Context, roomID string, att Attachment) error {
	tempID := uuid.NewString()
	p.store.AppendPending(domain.Message{
		TempID:    tempID,
		RoomID:    roomID,
		SenderID:  p.selfID,
		Type:      domain.MessageTypeImage,
		Preview:   att.Preview,
		Uploading: true,
		CreatedAt: time.Now().UTC(),
	})

	uploadCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ref, err := p.uploader.Upload(uploadCtx, roomID, att.Name, att.Content)

	p.store.ReconcilePending(roomID, tempID, nil)
	if att.Release != nil {
		att.Release()
	}

	if err != nil {
		return fmt.Errorf("send image to room %s: %w", roomID, err)
	}

	p.log.Debugf("image uploaded for room %s: %s", roomID, ref.URL)
	if _, err := p.store.LoadHistory(ctx, roomID); err != nil {
		// The server's own new_message push still delivers the record.
		p.log.Warnf("post-upload history reload for room %s: %v", roomID, err)
	}
	return nil
}
