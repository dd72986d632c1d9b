// Package processor owns the message lifecycle: optimistic outbound
// sends with background dispatch and id reconciliation, and inbound
// webhook classification with fan-out and workflow handoff.
package processor

import (
	"context"
	"strings"

	"github.com/chafiq1992/wagateway/config"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/cachebus"
	"github.com/chafiq1992/wagateway/infrastructure/storage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/integrations/shop"
)

// Upstream is the slice of the Cloud API client the processor uses.
type Upstream interface {
	SendText(ctx context.Context, to, body, replyTo string) (*whatsapp.Envelope, error)
	SendMediaByID(ctx context.Context, to, kind, mediaID, caption string) (*whatsapp.Envelope, error)
	SendMediaByLink(ctx context.Context, to, kind, link, caption string) (*whatsapp.Envelope, error)
	SendInteractiveProduct(ctx context.Context, to, retailerID, body string) (*whatsapp.Envelope, error)
	SendProductList(ctx context.Context, to, header, body, sectionTitle string, retailerIDs []string) ([]*whatsapp.Envelope, error)
	SendReplyButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) (*whatsapp.Envelope, error)
	SendListMessage(ctx context.Context, to, body, buttonText string, sections []whatsapp.ListSection) (*whatsapp.Envelope, error)
	SendReaction(ctx context.Context, to, targetID, emoji string) (*whatsapp.Envelope, error)
	MarkRead(ctx context.Context, messageID string) error
	UploadMedia(ctx context.Context, path, mimeType string) (string, error)
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Fanout is the slice of the connection registry the processor uses.
type Fanout interface {
	SendToUser(ctx context.Context, userID string, payload any)
	SendToUserExcept(ctx context.Context, userID string, payload any, exceptSessionID string)
	BroadcastToAdmins(ctx context.Context, payload any, excludeUserID string)
}

// WorkflowDispatcher receives inbound events after persistence.
// Implemented by the workflow engine; wired in after construction to
// break the package cycle.
type WorkflowDispatcher interface {
	OnInboundText(ctx context.Context, userID, body string)
	// OnInteractiveReply reports whether it handled the reply id.
	OnInteractiveReply(ctx context.Context, userID, replyID, title string) bool
}

// Event is the duplex wire frame {type, data}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Processor struct {
	store    domain.IChatStorageRepository
	upstream Upstream
	fanout   Fanout
	cache    *cachebus.CacheBus
	media    storage.ObjectStorage
	shop     shop.IShopClient

	workflow WorkflowDispatcher
}

func New(store domain.IChatStorageRepository, upstream Upstream, fanout Fanout, cache *cachebus.CacheBus, media storage.ObjectStorage, shopClient shop.IShopClient) *Processor {
	return &Processor{
		store:    store,
		upstream: upstream,
		fanout:   fanout,
		cache:    cache,
		media:    media,
		shop:     shopClient,
	}
}

// SetWorkflow attaches the workflow engine. Must be called before
// inbound traffic is processed; a nil workflow disables automation.
func (p *Processor) SetWorkflow(w WorkflowDispatcher) {
	p.workflow = w
}

// IsInternalChannel reports whether the conversation never reaches the
// upstream.
func IsInternalChannel(userID string) bool {
	return strings.HasPrefix(userID, "team:") ||
		strings.HasPrefix(userID, "agent:") ||
		strings.HasPrefix(userID, "dm:")
}

// emit delivers an event to the conversation's sessions and mirrors it
// to admin dashboards, excluding the conversation itself.
func (p *Processor) emit(ctx context.Context, userID string, ev Event) {
	p.fanout.SendToUser(ctx, userID, ev)
	p.fanout.BroadcastToAdmins(ctx, ev, userID)
}

func publicMediaURL(localPath string) string {
	base := strings.TrimRight(config.PublicBaseURL, "/")
	i := strings.LastIndexByte(localPath, '/')
	return base + "/media/" + localPath[i+1:]
}
