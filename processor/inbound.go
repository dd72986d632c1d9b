package processor

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/chafiq1992/wagateway/config"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/storage"
	"github.com/chafiq1992/wagateway/pkg/audio"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// WebhookPayload is the Cloud API webhook envelope.
type WebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value WebhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type WebhookValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []InboundMessage `json:"messages"`
	Statuses []InboundStatus  `json:"statuses"`
}

type InboundStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text"`

	Image    *InboundMedia `json:"image"`
	Video    *InboundMedia `json:"video"`
	Audio    *InboundMedia `json:"audio"`
	Sticker  *InboundMedia `json:"sticker"`
	Document *InboundMedia `json:"document"`

	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`

	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`

	Order *struct {
		CatalogID    string `json:"catalog_id"`
		Text         string `json:"text"`
		ProductItems []struct {
			ProductRetailerID string `json:"product_retailer_id"`
			Quantity          int    `json:"quantity"`
			ItemPrice         string `json:"item_price"`
			Currency          string `json:"currency"`
		} `json:"product_items"`
	} `json:"order"`

	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
}

type InboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// HandleWebhook processes one webhook envelope: statuses first, then
// messages, sequentially in arrival order. Classification errors are
// logged and never abort the batch.
func (p *Processor) HandleWebhook(ctx context.Context, payload WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, st := range value.Statuses {
				p.handleStatus(ctx, st)
			}
			for _, msg := range value.Messages {
				p.handleInbound(ctx, msg, names[msg.From])
			}
		}
	}
}

// handleStatus upgrades the owning row and fans a status event out to
// the conversation. Unknown owners are dropped.
func (p *Processor) handleStatus(ctx context.Context, st InboundStatus) {
	metrics.WebhookEvents.WithLabelValues("status").Inc()

	status := mapUpstreamStatus(st.Status)
	if status == "" {
		logrus.WithField("status", st.Status).Debug("[WEBHOOK] ignoring unknown status")
		return
	}
	if err := p.store.UpdateStatus(ctx, st.ID, status); err != nil {
		logrus.WithError(err).WithField("upstream_id", st.ID).Warn("[WEBHOOK] status update failed")
		return
	}
	userID, err := p.store.GetUserForMessage(ctx, st.ID)
	if err != nil || userID == "" {
		return
	}
	p.emit(ctx, userID, Event{Type: "message_status_update", Data: map[string]any{
		"upstream_id": st.ID,
		"status":      status,
	}})
}

func mapUpstreamStatus(s string) domain.MessageStatus {
	switch s {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "read":
		return domain.StatusRead
	case "failed":
		return domain.StatusFailed
	default:
		return ""
	}
}

func (p *Processor) handleInbound(ctx context.Context, msg InboundMessage, name string) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("[WEBHOOK] inbound classification panicked")
		}
	}()

	userID := msg.From
	if userID == "" {
		logrus.Warn("[WEBHOOK] dropping message without sender")
		return
	}
	metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()

	now := time.Now().UTC()
	if err := p.store.UpsertUser(ctx, domain.User{UserID: userID, Name: name, Phone: userID, LastSeen: &now}); err != nil {
		logrus.WithError(err).Warn("[WEBHOOK] failed to upsert user")
	}
	// A fresh inbound message reopens an archived conversation.
	if err := p.store.RemoveTag(ctx, userID, "done"); err != nil {
		logrus.WithError(err).Debug("[WEBHOOK] tag strip failed")
	}

	switch msg.Type {
	case "reaction":
		p.handleReaction(ctx, msg)
	case "text":
		p.handleText(ctx, msg)
	case "interactive":
		p.handleInteractive(ctx, msg)
	case "image", "video", "audio", "sticker", "document":
		p.handleMedia(ctx, msg)
	case "order":
		p.handleOrder(ctx, msg)
	default:
		logrus.WithField("type", msg.Type).Debug("[WEBHOOK] ignoring unsupported message type")
	}
}

// handleReaction stores an audit row but never creates a bubble.
func (p *Processor) handleReaction(ctx context.Context, msg InboundMessage) {
	if msg.Reaction == nil {
		return
	}
	action := "react"
	if msg.Reaction.Emoji == "" {
		action = "unreact"
	}
	row := &domain.Message{
		UserID:                   msg.From,
		UpstreamID:               strPtrOrNil(msg.ID),
		Kind:                     domain.KindReaction,
		Status:                   domain.StatusReceived,
		ReactionTargetUpstreamID: msg.Reaction.MessageID,
		ReactionEmoji:            msg.Reaction.Emoji,
		ReactionAction:           action,
		ServerTS:                 timeutils.NowISO(),
		ClientTS:                 tsFromEpoch(msg.Timestamp),
	}
	if _, err := p.store.UpsertMessage(ctx, row); err != nil {
		logrus.WithError(err).Warn("[WEBHOOK] failed to persist reaction")
		return
	}
	p.emit(ctx, msg.From, Event{Type: "reaction_update", Data: map[string]any{
		"target_upstream_id": msg.Reaction.MessageID,
		"emoji":              msg.Reaction.Emoji,
		"action":             action,
		"from_agent":         false,
	}})
}

func (p *Processor) handleText(ctx context.Context, msg InboundMessage) {
	if msg.Text == nil {
		return
	}
	row := p.persistInbound(ctx, msg, &domain.Message{
		Kind: domain.KindText,
		Body: msg.Text.Body,
	})
	if row == nil {
		return
	}
	p.fanOutReceived(ctx, row)

	if p.workflow != nil {
		p.workflow.OnInboundText(ctx, msg.From, msg.Text.Body)
	}
}

func (p *Processor) handleInteractive(ctx context.Context, msg InboundMessage) {
	if msg.Interactive == nil {
		return
	}
	var replyID, title string
	if msg.Interactive.ButtonReply != nil {
		replyID, title = msg.Interactive.ButtonReply.ID, msg.Interactive.ButtonReply.Title
	} else if msg.Interactive.ListReply != nil {
		replyID, title = msg.Interactive.ListReply.ID, msg.Interactive.ListReply.Title
	}
	if replyID == "" {
		return
	}

	row := p.persistInbound(ctx, msg, &domain.Message{
		Kind: domain.KindText,
		Body: title,
	})
	if row == nil {
		return
	}
	p.fanOutReceived(ctx, row)

	if p.workflow != nil && p.workflow.OnInteractiveReply(ctx, msg.From, replyID, title) {
		return
	}
	// Unknown reply namespace gets a bilingual acknowledgment.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := p.upstream.SendText(ctx, msg.From,
			"شكرا على تواصلك، سيرد عليك أحد موظفينا قريبا.\nMerci de nous avoir contactés, un agent vous répondra bientôt.", "")
		if err != nil {
			logrus.WithError(err).Debug("[WEBHOOK] interactive ack failed")
		}
	}()
}

// handleMedia downloads, stores and persists inbound media. Sticker is
// displayed as image; a failed download degrades to a text placeholder.
func (p *Processor) handleMedia(ctx context.Context, msg InboundMessage) {
	var media *InboundMedia
	kind := domain.MessageKind(msg.Type)
	switch msg.Type {
	case "image":
		media = msg.Image
	case "video":
		media = msg.Video
	case "audio":
		media = msg.Audio
	case "document":
		media = msg.Document
	case "sticker":
		media = msg.Sticker
		kind = domain.KindImage
	}
	if media == nil {
		return
	}

	data, contentType, err := p.upstream.DownloadMedia(ctx, media.ID)
	if err != nil {
		logrus.WithError(err).WithField("media_id", media.ID).Warn("[WEBHOOK] media download failed")
		row := p.persistInbound(ctx, msg, &domain.Message{
			Kind: domain.KindText,
			Body: "[" + msg.Type + "]",
		})
		if row != nil {
			p.fanOutReceived(ctx, row)
		}
		return
	}

	var localPath, publicURL string
	if p.media != nil {
		localPath, publicURL, err = p.media.Save(ctx, msg.Type, storage.ExtForContentType(contentType), data)
		if err != nil {
			logrus.WithError(err).Warn("[WEBHOOK] media store failed")
		}
	}

	row := &domain.Message{
		Kind:           kind,
		Caption:        media.Caption,
		MediaLocalPath: localPath,
		MediaPublicURL: publicURL,
	}
	if kind == domain.KindAudio && localPath != "" {
		if peaks, err := audio.Waveform(ctx, localPath); err == nil && len(peaks) > 0 {
			raw, _ := json.Marshal(peaks)
			row.Waveform = string(raw)
		}
	}

	stored := p.persistInbound(ctx, msg, row)
	if stored != nil {
		p.fanOutReceived(ctx, stored)
	}
}

func (p *Processor) handleOrder(ctx context.Context, msg InboundMessage) {
	if msg.Order == nil {
		return
	}
	raw, err := json.Marshal(msg.Order)
	if err != nil {
		return
	}
	row := p.persistInbound(ctx, msg, &domain.Message{
		Kind: domain.KindOrder,
		Body: string(raw),
	})
	if row != nil {
		p.fanOutReceived(ctx, row)
	}
}

// persistInbound fills the common inbound envelope fields and upserts.
func (p *Processor) persistInbound(ctx context.Context, msg InboundMessage, row *domain.Message) *domain.Message {
	row.UserID = msg.From
	row.UpstreamID = strPtrOrNil(msg.ID)
	row.FromAgent = false
	row.Status = domain.StatusReceived
	row.ServerTS = timeutils.NowISO()
	row.ClientTS = tsFromEpoch(msg.Timestamp)
	if msg.Context != nil {
		row.ReplyToUpstreamID = msg.Context.ID
	}

	stored, err := p.store.UpsertMessage(ctx, row)
	if err != nil {
		logrus.WithError(err).WithField("user_id", msg.From).Error("[WEBHOOK] failed to persist inbound message")
		return nil
	}
	return stored
}

func (p *Processor) fanOutReceived(ctx context.Context, row *domain.Message) {
	p.cache.PushRecent(ctx, row.UserID, row)
	p.emit(ctx, row.UserID, Event{Type: "message_received", Data: row})

	// Best-effort upstream read receipt is deferred to explicit
	// mark_as_read; inbound delivery alone does not mark read.
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// tsFromEpoch converts the webhook's unix-seconds string to ISO-8601.
func tsFromEpoch(s string) string {
	if s == "" {
		return ""
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ""
	}
	return timeutils.FormatISO(time.Unix(secs, 0))
}

// VerifyWebhook implements the GET verification handshake.
func VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == config.WebhookVerifyToken && token != "" {
		return challenge, true
	}
	return "", false
}
