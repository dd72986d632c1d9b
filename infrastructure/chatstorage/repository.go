package chatstorage

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// displayTS is the SQL expression for the timestamp conversations are
// ordered by. Empty strings are treated as absent so server_ts wins only
// when actually set.
const displayTS = "COALESCE(NULLIF(server_ts,''), client_ts)"

// statusRankSQL mirrors domain.StatusRank for in-database comparisons.
const statusRankSQL = `CASE status
	WHEN 'sending' THEN 0
	WHEN 'received' THEN 1
	WHEN 'sent' THEN 1
	WHEN 'delivered' THEN 2
	WHEN 'read' THEN 3
	ELSE 9 END`

// GormRepository implements domain.IChatStorageRepository over gorm, backed
// by either the embedded sqlite file or a networked postgres database.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Init creates the schema idempotently. AutoMigrate is additive only: it
// adds missing tables, columns and indexes and never drops or renames.
func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&domain.Message{},
		&domain.User{},
		&domain.Agent{},
		&domain.ConversationMeta{},
		&domain.Order{},
		&domain.Setting{},
	)
}

// UpsertMessage applies the idempotent merge:
//  1. locate by (user_id, upstream_id) then (user_id, temp_id);
//  2. if found and the incoming status ranks below the stored one, the
//     write is a no-op; otherwise non-empty fields of msg are merged over
//     the row;
//  3. if absent, insert; a unique violation from a concurrent insert is
//     retried as an update.
func (r *GormRepository) UpsertMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, fmt.Errorf("message rejected: user_id is required")
	}
	if msg.ServerTS == "" && msg.ClientTS == "" {
		msg.ServerTS = timeutils.NowISO()
	}

	existing, err := r.findExisting(ctx, msg)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.mergeInto(ctx, existing, msg)
	}

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Concurrent insert won the race; retry as an update.
		logrus.WithField("user_id", msg.UserID).Debug("[STORE] upsert retrying as update after unique violation")
		existing, err = r.findExisting(ctx, msg)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("unique violation but no matching row for user %s", msg.UserID)
		}
		return r.mergeInto(ctx, existing, msg)
	}
	return msg, nil
}

func (r *GormRepository) findExisting(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var row domain.Message
	if msg.UpstreamID != nil && *msg.UpstreamID != "" {
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND upstream_id = ?", msg.UserID, *msg.UpstreamID).
			First(&row).Error
		if err == nil {
			return &row, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	if msg.TempID != nil && *msg.TempID != "" {
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND temp_id = ?", msg.UserID, *msg.TempID).
			First(&row).Error
		if err == nil {
			return &row, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	return nil, nil
}

func (r *GormRepository) mergeInto(ctx context.Context, existing, msg *domain.Message) (*domain.Message, error) {
	newStatus := msg.Status
	if newStatus == "" {
		newStatus = existing.Status
	}
	if domain.StatusRank(newStatus) < domain.StatusRank(existing.Status) {
		return existing, nil
	}
	existing.Status = newStatus

	if msg.UpstreamID != nil && *msg.UpstreamID != "" {
		existing.UpstreamID = msg.UpstreamID
	}
	if msg.TempID != nil && *msg.TempID != "" {
		existing.TempID = msg.TempID
	}
	if msg.Body != "" {
		existing.Body = msg.Body
	}
	if msg.Kind != "" {
		existing.Kind = msg.Kind
	}
	if msg.Caption != "" {
		existing.Caption = msg.Caption
	}
	if msg.Price != "" {
		existing.Price = msg.Price
	}
	if msg.MediaLocalPath != "" {
		existing.MediaLocalPath = msg.MediaLocalPath
	}
	if msg.MediaPublicURL != "" {
		existing.MediaPublicURL = msg.MediaPublicURL
	}
	if msg.ReplyToUpstreamID != "" {
		existing.ReplyToUpstreamID = msg.ReplyToUpstreamID
	}
	if msg.QuotedSnippet != "" {
		existing.QuotedSnippet = msg.QuotedSnippet
	}
	if msg.ReactionTargetUpstreamID != "" {
		existing.ReactionTargetUpstreamID = msg.ReactionTargetUpstreamID
	}
	if msg.ReactionEmoji != "" {
		existing.ReactionEmoji = msg.ReactionEmoji
	}
	if msg.ReactionAction != "" {
		existing.ReactionAction = msg.ReactionAction
	}
	if msg.Waveform != "" {
		existing.Waveform = msg.Waveform
	}
	if msg.RetailerID != "" {
		existing.RetailerID = msg.RetailerID
	}
	if msg.ProductID != "" {
		existing.ProductID = msg.ProductID
	}
	if msg.VariantID != "" {
		existing.VariantID = msg.VariantID
	}
	if msg.ClientTS != "" {
		existing.ClientTS = msg.ClientTS
	}
	if msg.ServerTS != "" {
		existing.ServerTS = msg.ServerTS
	}
	existing.FromAgent = existing.FromAgent || msg.FromAgent

	if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

// GetMessages returns the `limit` most recent messages starting at
// `offset`, reordered ascending for display.
func (r *GormRepository) GetMessages(ctx context.Context, userID string, offset, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []domain.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(displayTS + " DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

// GetMessagesSince returns messages strictly newer than the cursor,
// ascending.
func (r *GormRepository) GetMessagesSince(ctx context.Context, userID, ts string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []domain.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND "+displayTS+" > ?", userID, ts).
		Order(displayTS + " ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GetMessagesBefore returns messages strictly older than the cursor,
// ascending.
func (r *GormRepository) GetMessagesBefore(ctx context.Context, userID, ts string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []domain.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND "+displayTS+" < ?", userID, ts).
		Order(displayTS + " DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

// UpdateStatus upgrades the status of the row owning upstreamID. Writes
// carrying a lower rank are silently ignored.
func (r *GormRepository) UpdateStatus(ctx context.Context, upstreamID string, status domain.MessageStatus) error {
	return r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("upstream_id = ? AND "+statusRankSQL+" < ?", upstreamID, domain.StatusRank(status)).
		Update("status", status).Error
}

func (r *GormRepository) GetUserForMessage(ctx context.Context, upstreamID string) (string, error) {
	var row domain.Message
	err := r.db.WithContext(ctx).
		Select("user_id").
		Where("upstream_id = ?", upstreamID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.UserID, nil
}

// MarkRead marks the given inbound messages read; with no ids, every
// inbound message in the conversation is marked.
func (r *GormRepository) MarkRead(ctx context.Context, userID string, upstreamIDs []string) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("user_id = ? AND from_agent = ? AND "+statusRankSQL+" < ?", userID, false, domain.StatusRank(domain.StatusRead))
	if len(upstreamIDs) > 0 {
		q = q.Where("upstream_id IN ?", upstreamIDs)
	}
	res := q.Update("status", domain.StatusRead)
	return res.RowsAffected, res.Error
}

func (r *GormRepository) UpsertUser(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	var existing domain.User
	err := r.db.WithContext(ctx).Where("user_id = ?", user.UserID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
			if isUniqueViolation(err) {
				return r.UpsertUser(ctx, user)
			}
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if user.Name != "" && user.Name != existing.Name {
		updates["name"] = user.Name
	}
	if user.Phone != "" && user.Phone != existing.Phone {
		updates["phone"] = user.Phone
	}
	if user.LastSeen != nil {
		updates["last_seen"] = user.LastSeen
	}
	if user.IsAdmin != existing.IsAdmin && user.IsAdmin {
		updates["is_admin"] = true
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.User{}).Where("user_id = ?", user.UserID).Updates(updates).Error
}

func (r *GormRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepository) ListAdmins(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).Where("is_admin = ?", true).Find(&users).Error
	return users, err
}

// HasOutboundImageCaption reports whether any outbound image in the
// conversation carries the substring in its caption.
func (r *GormRepository) HasOutboundImageCaption(ctx context.Context, userID, substr string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("user_id = ? AND from_agent = ? AND kind = ? AND caption LIKE ?",
			userID, true, domain.KindImage, "%"+substr+"%").
		Count(&count).Error
	return count > 0, err
}

func reverse(rows []domain.Message) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
