// Package websocket serves the agent-facing duplex endpoint. Each
// connection becomes a registry session; inbound frames are routed to
// the processor and outbound events arrive through the registry.
package websocket

import (
	"context"
	"encoding/json"

	"github.com/chafiq1992/wagateway/infrastructure/cachebus"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/chafiq1992/wagateway/registry"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const (
	recentWindow   = 20
	historyDefault = 50
	resumeCap      = 500
)

type Deps struct {
	Store     domain.IChatStorageRepository
	Processor *processor.Processor
	Registry  *registry.Registry
	Limiter   *registry.SendLimiter
	Cache     *cachebus.CacheBus
}

// clientFrame is the inbound half of the {type, data} wire schema.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func RegisterRoutes(app fiber.Router, deps Deps) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws/:user_id", websocket.New(func(conn *websocket.Conn) {
		deps.serve(conn)
	}))
}

func (d Deps) serve(conn *websocket.Conn) {
	userID := conn.Params("user_id")
	if userID == "" {
		_ = conn.Close()
		return
	}

	ctx := context.Background()
	isAdmin := false
	if user, err := d.Store.GetUser(ctx, userID); err == nil && user != nil {
		isAdmin = user.IsAdmin
	}

	sess := registry.NewSession(userID, isAdmin, conn)
	d.Registry.Register(sess)
	defer func() {
		d.Registry.Unregister(sess)
		_ = conn.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"is_admin": isAdmin,
	}).Debug("[WS] session connected")

	d.sendRecent(ctx, sess, userID)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("user_id", userID).Debug("[WS] read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			d.sendError(sess, "bad_frame", err.Error())
			continue
		}
		d.handleFrame(ctx, sess, userID, frame)
	}
}

// sendRecent delivers the connect-time window: cache first, store as
// fallback, both sorted ascending by display time.
func (d Deps) sendRecent(ctx context.Context, sess *registry.Session, userID string) {
	if cached := d.Cache.GetRecent(ctx, userID, recentWindow); len(cached) > 0 {
		d.sendEvent(sess, processor.Event{Type: "recent_messages", Data: cached})
		return
	}

	messages, err := d.Store.GetMessages(ctx, userID, 0, recentWindow)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("[WS] recent window load failed")
		return
	}
	d.sendEvent(sess, processor.Event{Type: "recent_messages", Data: messages})
}

func (d Deps) handleFrame(ctx context.Context, sess *registry.Session, userID string, frame clientFrame) {
	switch frame.Type {
	case "send_message":
		d.handleSend(ctx, sess, userID, frame.Data)

	case "mark_as_read":
		var req struct {
			MessageIDs []string `json:"message_ids"`
		}
		_ = json.Unmarshal(frame.Data, &req)
		if _, err := d.Processor.MarkConversationRead(ctx, userID, req.MessageIDs); err != nil {
			d.sendError(sess, "mark_read_failed", err.Error())
		}

	case "typing":
		var req struct {
			IsTyping bool `json:"is_typing"`
		}
		_ = json.Unmarshal(frame.Data, &req)
		d.Processor.Typing(ctx, userID, req.IsTyping, sess.ID)

	case "react":
		var req struct {
			TargetUpstreamID string `json:"target_upstream_id"`
			Emoji            string `json:"emoji"`
			Action           string `json:"action"`
		}
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			d.sendError(sess, "bad_frame", err.Error())
			return
		}
		if err := d.Processor.React(ctx, userID, req.TargetUpstreamID, req.Emoji, req.Action); err != nil {
			d.sendError(sess, "react_failed", err.Error())
		}

	case "get_conversation_history":
		var req struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
		}
		_ = json.Unmarshal(frame.Data, &req)
		if req.Limit <= 0 {
			req.Limit = historyDefault
		}
		messages, err := d.Store.GetMessages(ctx, userID, req.Offset, req.Limit)
		if err != nil {
			d.sendError(sess, "history_failed", err.Error())
			return
		}
		d.sendEvent(sess, processor.Event{Type: "conversation_history", Data: map[string]any{
			"messages": messages,
			"offset":   req.Offset,
			"limit":    req.Limit,
		}})

	case "resume_since":
		var req struct {
			Since string `json:"since"`
			Limit int    `json:"limit"`
		}
		_ = json.Unmarshal(frame.Data, &req)
		if req.Limit <= 0 || req.Limit > resumeCap {
			req.Limit = resumeCap
		}
		messages, err := d.Store.GetMessagesSince(ctx, userID, req.Since, req.Limit)
		if err != nil {
			d.sendError(sess, "resume_failed", err.Error())
			return
		}
		d.sendEvent(sess, processor.Event{Type: "conversation_history", Data: map[string]any{
			"messages": messages,
			"since":    req.Since,
		}})

	case "ping":
		var req struct {
			TS any `json:"ts"`
		}
		_ = json.Unmarshal(frame.Data, &req)
		d.sendEvent(sess, processor.Event{Type: "pong", Data: map[string]any{"ts": req.TS}})

	default:
		d.sendError(sess, "unknown_type", frame.Type)
	}
}

func (d Deps) handleSend(ctx context.Context, sess *registry.Session, userID string, data json.RawMessage) {
	var out processor.OutgoingMessage
	if err := json.Unmarshal(data, &out); err != nil {
		d.sendError(sess, "bad_frame", err.Error())
		return
	}
	if out.UserID == "" {
		out.UserID = userID
	}

	agentID := out.AgentID
	if agentID == "" {
		agentID = userID
	}
	if isMediaKind(out.Kind) {
		if !d.Limiter.AllowMedia(agentID) {
			d.sendError(sess, "rate_limited", "media send rate exceeded, retry later")
			return
		}
	} else if !d.Limiter.AllowText(agentID) {
		d.sendError(sess, "rate_limited", "text send rate exceeded, retry later")
		return
	}

	if _, err := d.Processor.ProcessOutgoing(ctx, out); err != nil {
		d.sendError(sess, "send_failed", err.Error())
	}
}

func isMediaKind(kind string) bool {
	switch domain.MessageKind(kind) {
	case domain.KindImage, domain.KindAudio, domain.KindVideo, domain.KindDocument, domain.KindSticker:
		return true
	}
	return false
}

func (d Deps) sendEvent(sess *registry.Session, ev processor.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := sess.Send(data); err != nil {
		logrus.WithError(err).Debug("[WS] event send failed")
	}
}

func (d Deps) sendError(sess *registry.Session, code, message string) {
	d.sendEvent(sess, processor.Event{Type: "error", Data: map[string]any{
		"code":    code,
		"message": message,
	}})
}
