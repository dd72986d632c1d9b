package processor

import (
	"context"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// MarkConversationRead marks inbound messages read in the store, forwards
// best-effort read receipts upstream, and notifies the conversation.
func (p *Processor) MarkConversationRead(ctx context.Context, userID string, upstreamIDs []string) (int64, error) {
	count, err := p.store.MarkRead(ctx, userID, upstreamIDs)
	if err != nil {
		return 0, err
	}

	if !IsInternalChannel(userID) {
		ids := upstreamIDs
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, id := range ids {
				if err := p.upstream.MarkRead(ctx, id); err != nil {
					logrus.WithError(err).WithField("upstream_id", id).Debug("[READ] receipt failed")
				}
			}
		}()
	}

	p.emit(ctx, userID, Event{Type: "messages_marked_read", Data: map[string]any{
		"user_id":     userID,
		"message_ids": upstreamIDs,
		"count":       count,
	}})
	return count, nil
}

// React forwards an agent reaction upstream, persists the audit row and
// fans out reaction_update. action is "react" or "unreact".
func (p *Processor) React(ctx context.Context, userID, targetUpstreamID, emoji, action string) error {
	if action == "unreact" {
		emoji = ""
	}

	if !IsInternalChannel(userID) {
		if _, err := p.upstream.SendReaction(ctx, userID, targetUpstreamID, emoji); err != nil {
			return err
		}
	}

	row := &domain.Message{
		UserID:                   userID,
		Kind:                     domain.KindReaction,
		FromAgent:                true,
		Status:                   domain.StatusSent,
		ReactionTargetUpstreamID: targetUpstreamID,
		ReactionEmoji:            emoji,
		ReactionAction:           action,
		ServerTS:                 timeutils.NowISO(),
	}
	if _, err := p.store.UpsertMessage(ctx, row); err != nil {
		logrus.WithError(err).Warn("[REACT] failed to persist reaction")
	}

	p.emit(ctx, userID, Event{Type: "reaction_update", Data: map[string]any{
		"target_upstream_id": targetUpstreamID,
		"emoji":              emoji,
		"action":             action,
		"from_agent":         true,
	}})
	return nil
}

// Typing rebroadcasts a typing indicator to the conversation's peer
// sessions, never back to the one that originated it, and to admin
// dashboards.
func (p *Processor) Typing(ctx context.Context, userID string, isTyping bool, originSessionID string) {
	ev := Event{Type: "typing", Data: map[string]any{
		"user_id":   userID,
		"is_typing": isTyping,
	}}
	p.fanout.SendToUserExcept(ctx, userID, ev, originSessionID)
	p.fanout.BroadcastToAdmins(ctx, ev, userID)
}
