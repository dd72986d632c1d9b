package processor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/pkg/audio"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutgoingMessage is the outbound pipeline input.
type OutgoingMessage struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Body    string `json:"body"`
	Caption string `json:"caption"`
	Price   string `json:"price"`
	ReplyTo string `json:"reply_to"`
	TempID  string `json:"temp_id"`

	MediaLocalPath string `json:"-"`
	MediaPublicURL string `json:"url"`

	RetailerID string `json:"retailer_id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id"`

	Buttons  []whatsapp.Button      `json:"-"`
	Sections []whatsapp.ListSection `json:"-"`

	AgentID string `json:"agent_id"`
}

const dispatchTimeout = 90 * time.Second

// ProcessOutgoing runs the optimistic half of the send: persist with
// status=sending, fan out message_sent, then dispatch upstream in the
// background. The returned record carries the temp id the client
// reconciles on.
func (p *Processor) ProcessOutgoing(ctx context.Context, out OutgoingMessage) (*domain.Message, error) {
	if strings.TrimSpace(out.UserID) == "" {
		return nil, fmt.Errorf("outgoing message requires user_id")
	}
	if out.Kind == "" {
		out.Kind = string(domain.KindText)
	}
	if out.TempID == "" {
		out.TempID = "t_" + uuid.NewString()
	}

	if err := p.store.UpsertUser(ctx, domain.User{UserID: out.UserID}); err != nil {
		logrus.WithError(err).Warn("[SEND] failed to upsert user")
	}

	now := timeutils.NowISO()
	msg := &domain.Message{
		UserID:         out.UserID,
		TempID:         &out.TempID,
		Body:           out.Body,
		Kind:           domain.MessageKind(out.Kind),
		FromAgent:      true,
		Status:         domain.StatusSending,
		Caption:        out.Caption,
		Price:          out.Price,
		MediaLocalPath: out.MediaLocalPath,
		MediaPublicURL: out.MediaPublicURL,
		ReplyToUpstreamID: out.ReplyTo,
		RetailerID:     out.RetailerID,
		ProductID:      out.ProductID,
		VariantID:      out.VariantID,
		ClientTS:       now,
		ServerTS:       now,
	}

	// Synthesize a URL for local media so the UI renders immediately.
	if msg.MediaLocalPath != "" && msg.MediaPublicURL == "" {
		msg.MediaPublicURL = publicMediaURL(msg.MediaLocalPath)
	}

	if IsInternalChannel(out.UserID) {
		msg.Status = domain.StatusSent
		stored, err := p.store.UpsertMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		p.cache.PushRecent(ctx, out.UserID, stored)
		p.emit(ctx, out.UserID, Event{Type: "message_sent", Data: stored})
		metrics.MessagesSent.WithLabelValues(out.Kind, "internal").Inc()
		return stored, nil
	}

	stored, err := p.store.UpsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	p.cache.PushRecent(ctx, out.UserID, stored)
	p.emit(ctx, out.UserID, Event{Type: "message_sent", Data: stored})

	go p.dispatch(out)
	return stored, nil
}

// dispatch performs the upstream send and reconciles the optimistic row.
func (p *Processor) dispatch(out OutgoingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	defer func() {
		if out.MediaLocalPath != "" {
			utils.RemoveFile(1, out.MediaLocalPath)
		}
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("[SEND] dispatch panicked")
			p.reconcileFailure(ctx, out, fmt.Errorf("dispatch panic: %v", r))
		}
	}()

	env, err := p.dispatchByKind(ctx, out)
	if err != nil {
		p.reconcileFailure(ctx, out, err)
		return
	}
	p.reconcileSuccess(ctx, out, env.FirstMessageID())
}

func (p *Processor) dispatchByKind(ctx context.Context, out OutgoingMessage) (*whatsapp.Envelope, error) {
	switch domain.MessageKind(out.Kind) {
	case domain.KindText:
		return p.upstream.SendText(ctx, out.UserID, out.Body, out.ReplyTo)

	case domain.KindCatalogItem, domain.KindInteractiveProduct:
		return p.sendCatalogItem(ctx, out)

	case domain.KindInteractiveButtons:
		if len(out.Buttons) == 0 {
			return p.upstream.SendText(ctx, out.UserID, out.Body, out.ReplyTo)
		}
		return p.upstream.SendReplyButtons(ctx, out.UserID, out.Body, out.Buttons)

	case domain.KindInteractiveList:
		if len(out.Sections) == 0 {
			return p.upstream.SendText(ctx, out.UserID, out.Body, out.ReplyTo)
		}
		return p.upstream.SendListMessage(ctx, out.UserID, out.Body, out.Caption, out.Sections)

	case domain.KindImage, domain.KindAudio, domain.KindVideo, domain.KindDocument, domain.KindSticker:
		return p.sendMedia(ctx, out)

	default:
		return nil, fmt.Errorf("unsupported outbound kind: %s", out.Kind)
	}
}

// sendCatalogItem sends an interactive product card and degrades to an
// image with caption, then to bare text.
func (p *Processor) sendCatalogItem(ctx context.Context, out OutgoingMessage) (*whatsapp.Envelope, error) {
	if out.RetailerID != "" {
		env, err := p.upstream.SendInteractiveProduct(ctx, out.UserID, out.RetailerID, out.Caption)
		if err == nil {
			return env, nil
		}
		logrus.WithError(err).WithField("retailer_id", out.RetailerID).
			Warn("[SEND] interactive product failed, trying image fallback")
	}

	if img := p.resolveCatalogImage(ctx, out); img != "" {
		env, err := p.upstream.SendMediaByLink(ctx, out.UserID, "image", img, out.Caption)
		if err == nil {
			return env, nil
		}
		logrus.WithError(err).Warn("[SEND] catalog image fallback failed")
	}

	text := out.Caption
	if text == "" {
		text = out.Body
	}
	if text == "" {
		return nil, fmt.Errorf("catalog item %s has nothing to send", out.RetailerID)
	}
	return p.upstream.SendText(ctx, out.UserID, text, "")
}

func (p *Processor) resolveCatalogImage(ctx context.Context, out OutgoingMessage) string {
	if out.MediaPublicURL != "" {
		return out.MediaPublicURL
	}
	if p.shop == nil {
		return ""
	}
	id := out.VariantID
	if id == "" {
		id = out.RetailerID
	}
	if id == "" {
		return ""
	}
	urls, err := p.shop.VariantImages(ctx, id)
	if err != nil || len(urls) == 0 {
		return ""
	}
	return urls[0]
}

// sendMedia normalizes, uploads and sends a media message.
func (p *Processor) sendMedia(ctx context.Context, out OutgoingMessage) (*whatsapp.Envelope, error) {
	kind := out.Kind
	if kind == string(domain.KindSticker) {
		kind = string(domain.KindImage)
	}

	if out.MediaLocalPath == "" {
		if out.MediaPublicURL == "" {
			return nil, fmt.Errorf("media message carries neither path nor url")
		}
		return p.upstream.SendMediaByLink(ctx, out.UserID, kind, out.MediaPublicURL, out.Caption)
	}

	path := out.MediaLocalPath
	if kind == string(domain.KindAudio) && !strings.HasSuffix(strings.ToLower(path), ".ogg") {
		voice := strings.TrimSuffix(path, filepath.Ext(path)) + ".ogg"
		if err := audio.TranscodeToVoice(ctx, path, voice); err == nil {
			utils.RemoveFile(1, path)
			path = voice
		}
		// Transcode failure keeps the original file.
	}

	p.propagateStorageURL(out, path)

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if kind == string(domain.KindAudio) {
		mimeType = "audio/ogg"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	mediaID, err := p.upstream.UploadMedia(ctx, path, mimeType)
	if err != nil {
		if out.MediaPublicURL != "" {
			logrus.WithError(err).Warn("[SEND] media upload failed, sending by link")
			return p.upstream.SendMediaByLink(ctx, out.UserID, kind, out.MediaPublicURL, out.Caption)
		}
		return nil, err
	}
	return p.upstream.SendMediaByID(ctx, out.UserID, kind, mediaID, out.Caption)
}

// propagateStorageURL copies the media into object storage and pushes
// the durable URL to the sender. Best-effort: a failure keeps the
// synthesized local URL.
func (p *Processor) propagateStorageURL(out OutgoingMessage, path string) {
	if p.media == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		_, url, err := p.media.Save(ctx, out.Kind, ext, data)
		if err != nil {
			logrus.WithError(err).Debug("[SEND] storage upload failed")
			return
		}
		_, _ = p.store.UpsertMessage(ctx, &domain.Message{
			UserID:         out.UserID,
			TempID:         &out.TempID,
			MediaPublicURL: url,
		})
		p.fanout.SendToUser(ctx, out.UserID, Event{Type: "message_status_update", Data: map[string]any{
			"temp_id": out.TempID,
			"url":     url,
		}})
	}()
}

func (p *Processor) reconcileSuccess(ctx context.Context, out OutgoingMessage, upstreamID string) {
	update := &domain.Message{
		UserID: out.UserID,
		TempID: &out.TempID,
		Status: domain.StatusSent,
	}
	if upstreamID != "" {
		update.UpstreamID = &upstreamID
	}
	if _, err := p.store.UpsertMessage(ctx, update); err != nil {
		logrus.WithError(err).Error("[SEND] failed to persist reconciliation")
	}

	p.emit(ctx, out.UserID, Event{Type: "message_status_update", Data: map[string]any{
		"temp_id":     out.TempID,
		"upstream_id": upstreamID,
		"status":      domain.StatusSent,
	}})
	metrics.MessagesSent.WithLabelValues(out.Kind, "sent").Inc()
	logrus.WithFields(logrus.Fields{
		"user_id":     out.UserID,
		"kind":        out.Kind,
		"upstream_id": upstreamID,
	}).Info("[SEND] dispatched")
}

func (p *Processor) reconcileFailure(ctx context.Context, out OutgoingMessage, cause error) {
	if _, err := p.store.UpsertMessage(ctx, &domain.Message{
		UserID: out.UserID,
		TempID: &out.TempID,
		Status: domain.StatusFailed,
	}); err != nil {
		logrus.WithError(err).Error("[SEND] failed to persist failure")
	}

	p.emit(ctx, out.UserID, Event{Type: "message_status_update", Data: map[string]any{
		"temp_id": out.TempID,
		"status":  domain.StatusFailed,
		"error":   cause.Error(),
	}})
	metrics.MessagesSent.WithLabelValues(out.Kind, "failed").Inc()
	logrus.WithError(cause).WithFields(logrus.Fields{
		"user_id": out.UserID,
		"kind":    out.Kind,
	}).Error("[SEND] dispatch failed")
}
