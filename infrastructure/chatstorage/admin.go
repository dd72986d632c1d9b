package chatstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"gorm.io/gorm"
)

func (r *GormRepository) CreateAgent(ctx context.Context, agent domain.Agent) error {
	agent.Username = strings.TrimSpace(agent.Username)
	if agent.Username == "" {
		return pkgError.ValidationError("username is required")
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&agent).Error; err != nil {
		if isUniqueViolation(err) {
			return pkgError.ValidationError(fmt.Sprintf("agent %s already exists", agent.Username))
		}
		return err
	}
	return nil
}

func (r *GormRepository) GetAgent(ctx context.Context, username string) (*domain.Agent, error) {
	var agent domain.Agent
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&agent).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *GormRepository) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	err := r.db.WithContext(ctx).Order("username ASC").Find(&agents).Error
	return agents, err
}

// UpdateAgent overwrites name, admin flag and, when non-empty, the
// password hash of an existing agent.
func (r *GormRepository) UpdateAgent(ctx context.Context, agent domain.Agent) error {
	existing, err := r.GetAgent(ctx, agent.Username)
	if err != nil {
		return err
	}
	if existing == nil {
		return pkgError.NotFoundError(fmt.Sprintf("agent %s not found", agent.Username))
	}
	updates := map[string]any{
		"name":     agent.Name,
		"is_admin": agent.IsAdmin,
	}
	if agent.PasswordHash != "" {
		updates["password_hash"] = agent.PasswordHash
	}
	return r.db.WithContext(ctx).
		Model(&domain.Agent{}).
		Where("username = ?", agent.Username).
		Updates(updates).Error
}

func (r *GormRepository) DeleteAgent(ctx context.Context, username string) error {
	res := r.db.WithContext(ctx).Where("username = ?", username).Delete(&domain.Agent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError(fmt.Sprintf("agent %s not found", username))
	}
	return nil
}

// GetSetting unmarshals the stored JSON value into out. A missing key
// leaves out untouched and returns nil.
func (r *GormRepository) GetSetting(ctx context.Context, key string, out any) error {
	var row domain.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(row.Value), out)
}

func (r *GormRepository) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	row := domain.Setting{Key: key, Value: string(raw)}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return r.db.WithContext(ctx).
				Model(&domain.Setting{}).
				Where("key = ?", key).
				Update("value", string(raw)).Error
		}
		return err
	}
	return nil
}

// UpsertOrder registers an order in the payout queue. Re-registering an
// already known order is a no-op.
func (r *GormRepository) UpsertOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return pkgError.ValidationError("order_id is required")
	}
	order := domain.Order{OrderID: orderID, Status: domain.OrderPayout, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (r *GormRepository) SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError(fmt.Sprintf("order %s not found", orderID))
	}
	return nil
}

func (r *GormRepository) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	var orders []domain.Order
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&orders).Error
	return orders, err
}
