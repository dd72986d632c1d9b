// Package workflow drives the automation layer: catalog auto-reply,
// the survey scheduler and reply state machine, and the order-status
// and buy flows. Every handler is failure-isolated: workflow errors are
// logged and never abort the inbound pipeline that dispatched them.
package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/integrations/shop"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sender is the outbound pipeline slice the workflows send through.
type Sender interface {
	ProcessOutgoing(ctx context.Context, out processor.OutgoingMessage) (*domain.Message, error)
}

// StateStore holds cooldown markers and survey state with TTLs.
// Satisfied by the valkey-backed cache and by the in-memory fallback.
type StateStore interface {
	TrySetCooldown(ctx context.Context, key string, ttl time.Duration) bool
	CooldownActive(ctx context.Context, key string) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	GetJSON(ctx context.Context, key string, out any) bool
	Delete(ctx context.Context, key string)
}

const catalogFreshness = 15 * time.Minute

type Engine struct {
	store  domain.IChatStorageRepository
	sender Sender
	state  StateStore
	shop   shop.IShopClient
	cron   *cron.Cron

	mu        sync.Mutex
	catalog   []shop.Product
	catalogAt time.Time

	now func() time.Time
}

func New(store domain.IChatStorageRepository, sender Sender, state StateStore, shopClient shop.IShopClient) *Engine {
	return &Engine{
		store:  store,
		sender: sender,
		state:  state,
		shop:   shopClient,
		now:    time.Now,
	}
}

// OnInboundText runs the catalog auto-reply against a customer text.
func (e *Engine) OnInboundText(ctx context.Context, userID, body string) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("[WORKFLOW] auto-reply panicked")
		}
	}()
	if IsInternal(userID) {
		return
	}
	if err := e.autoReply(ctx, userID, body); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("[WORKFLOW] auto-reply failed")
	}
}

// OnInteractiveReply routes a quick-reply or list selection into its
// workflow. Returns false for ids outside the workflow namespaces.
func (e *Engine) OnInteractiveReply(ctx context.Context, userID, replyID, title string) bool {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("[WORKFLOW] interactive reply panicked")
		}
	}()

	switch {
	case strings.HasPrefix(replyID, "survey_"):
		e.handleSurveyReply(ctx, userID, replyID)
		return true
	case replyID == "order_status":
		metrics.WorkflowRuns.WithLabelValues("order_status").Inc()
		e.handleOrderStatus(ctx, userID)
		return true
	case replyID == "buy_item":
		metrics.WorkflowRuns.WithLabelValues("buy").Inc()
		e.handleBuyItem(ctx, userID)
		return true
	case strings.HasPrefix(replyID, "gender_"):
		e.handleGender(ctx, userID, replyID)
		return true
	default:
		return false
	}
}

// IsInternal mirrors the processor's internal-channel rule.
func IsInternal(userID string) bool {
	return processor.IsInternalChannel(userID)
}

// products returns the catalog, refreshed at most every 15 minutes.
func (e *Engine) products(ctx context.Context) []shop.Product {
	if e.shop == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.catalog != nil && e.now().Sub(e.catalogAt) < catalogFreshness {
		return e.catalog
	}
	products, err := e.shop.ListProducts(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[WORKFLOW] catalog refresh failed")
		return e.catalog
	}
	e.catalog = products
	e.catalogAt = e.now()
	return e.catalog
}

// StartSurveyScheduler launches the 5-minute survey sweep and blocks
// its goroutines on ctx.
func (e *Engine) StartSurveyScheduler(ctx context.Context) error {
	e.cron = cron.New()
	if _, err := e.cron.AddFunc("@every 5m", func() {
		e.surveySweep(ctx)
	}); err != nil {
		return err
	}
	e.cron.Start()
	go func() {
		<-ctx.Done()
		e.cron.Stop()
	}()
	logrus.Info("[WORKFLOW] survey scheduler started")
	return nil
}
