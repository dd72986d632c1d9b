package chatstorage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"gorm.io/gorm"
)

// tsExpr is displayTS with every column qualified by a table alias, for
// use inside correlated subqueries.
func tsExpr(alias string) string {
	return "COALESCE(NULLIF(" + alias + ".server_ts,''), " + alias + ".client_ts)"
}

// conversationRow is the per-conversation aggregate pulled in a single
// grouped query over messages.
type conversationRow struct {
	UserID           string
	LastTS           string
	LastOutTS        string
	UnreadCount      int
	UnrespondedCount int
	LastBody         string
	LastKind         string
}

// ListConversations builds the conversation list: one grouped pass over
// messages for the aggregates, then a join against users and
// conversation_meta in Go where the filters are applied. All filters are
// ANDed.
func (r *GormRepository) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.ConversationSummary, error) {
	var rows []conversationRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			m.user_id AS user_id,
			MAX(` + tsExpr("m") + `) AS last_ts,
			COALESCE(MAX(CASE WHEN m.from_agent THEN ` + tsExpr("m") + ` END), '') AS last_out_ts,
			SUM(CASE WHEN NOT m.from_agent AND m.status <> 'read' THEN 1 ELSE 0 END) AS unread_count,
			(SELECT COUNT(*) FROM messages i
				WHERE i.user_id = m.user_id AND NOT i.from_agent
				AND ` + tsExpr("i") + ` >
					COALESCE((SELECT MAX(` + tsExpr("o") + `)
						FROM messages o WHERE o.user_id = m.user_id AND o.from_agent), '')
			) AS unresponded_count,
			(SELECT b.body FROM messages b WHERE b.user_id = m.user_id
				ORDER BY ` + tsExpr("b") + ` DESC LIMIT 1) AS last_body,
			(SELECT k.kind FROM messages k WHERE k.user_id = m.user_id
				ORDER BY ` + tsExpr("k") + ` DESC LIMIT 1) AS last_kind
		FROM messages m
		GROUP BY m.user_id
	`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	users, err := r.userIndex(ctx)
	if err != nil {
		return nil, err
	}
	metas, err := r.metaIndex(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		user := users[row.UserID]
		meta := metas[row.UserID]

		summary := domain.ConversationSummary{
			UserID:           row.UserID,
			Name:             row.UserID,
			Tags:             []string{},
			LastMessage:      previewBody(row.LastBody, row.LastKind),
			LastMessageTime:  row.LastTS,
			LastOutboundTime: row.LastOutTS,
			UnreadCount:      row.UnreadCount,
			UnrespondedCount: row.UnrespondedCount,
		}
		if user != nil && user.Name != "" {
			summary.Name = user.Name
		}
		if meta != nil {
			summary.AssignedAgent = meta.AssignedAgent
			summary.AvatarURL = meta.AvatarURL
			summary.Tags = decodeTags(meta.Tags)
		}

		if filter.UnreadOnly && summary.UnreadCount == 0 {
			continue
		}
		if filter.UnrespondedOnly && summary.UnrespondedCount == 0 {
			continue
		}
		if filter.AssignedAgent != "" {
			if filter.AssignedAgent == "unassigned" {
				if summary.AssignedAgent != "" {
					continue
				}
			} else if summary.AssignedAgent != filter.AssignedAgent {
				continue
			}
		}
		if len(filter.Tags) > 0 && !hasAllTags(summary.Tags, filter.Tags) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(summary.Name), query) &&
			!strings.Contains(strings.ToLower(summary.UserID), query) {
			continue
		}
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *GormRepository) userIndex(ctx context.Context) (map[string]*domain.User, error) {
	var users []domain.User
	if err := r.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	idx := make(map[string]*domain.User, len(users))
	for i := range users {
		idx[users[i].UserID] = &users[i]
	}
	return idx, nil
}

func (r *GormRepository) metaIndex(ctx context.Context) (map[string]*domain.ConversationMeta, error) {
	var metas []domain.ConversationMeta
	if err := r.db.WithContext(ctx).Find(&metas).Error; err != nil {
		return nil, err
	}
	idx := make(map[string]*domain.ConversationMeta, len(metas))
	for i := range metas {
		idx[metas[i].UserID] = &metas[i]
	}
	return idx, nil
}

func (r *GormRepository) GetConversationMeta(ctx context.Context, userID string) (*domain.ConversationMeta, error) {
	var meta domain.ConversationMeta
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&meta).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *GormRepository) SetAssignedAgent(ctx context.Context, userID, agent string) error {
	return r.upsertMeta(ctx, userID, func(meta *domain.ConversationMeta) {
		meta.AssignedAgent = agent
	})
}

func (r *GormRepository) SetTags(ctx context.Context, userID string, tags []string) error {
	return r.upsertMeta(ctx, userID, func(meta *domain.ConversationMeta) {
		meta.Tags = encodeTags(tags)
	})
}

func (r *GormRepository) RemoveTag(ctx context.Context, userID, tag string) error {
	return r.upsertMeta(ctx, userID, func(meta *domain.ConversationMeta) {
		kept := make([]string, 0)
		for _, t := range decodeTags(meta.Tags) {
			if t != tag {
				kept = append(kept, t)
			}
		}
		meta.Tags = encodeTags(kept)
	})
}

func (r *GormRepository) upsertMeta(ctx context.Context, userID string, mutate func(*domain.ConversationMeta)) error {
	var meta domain.ConversationMeta
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&meta).Error
	if err == gorm.ErrRecordNotFound {
		meta = domain.ConversationMeta{UserID: userID, Tags: "[]"}
		mutate(&meta)
		return r.db.WithContext(ctx).Create(&meta).Error
	}
	if err != nil {
		return err
	}
	mutate(&meta)
	return r.db.WithContext(ctx).Save(&meta).Error
}

func decodeTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// previewBody renders the conversation-list snippet for the latest message.
func previewBody(body, kind string) string {
	if body != "" {
		return body
	}
	switch domain.MessageKind(kind) {
	case domain.KindImage:
		return "📷 Photo"
	case domain.KindAudio:
		return "🎤 Voice message"
	case domain.KindVideo:
		return "🎬 Video"
	case domain.KindDocument:
		return "📄 Document"
	case domain.KindSticker:
		return "Sticker"
	case domain.KindOrder:
		return "🛒 Order"
	default:
		return ""
	}
}
