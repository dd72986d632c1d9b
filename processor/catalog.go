package processor

import (
	"context"
	"fmt"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// catalogSetsKey is the settings entry mapping set name to retailer ids.
const catalogSetsKey = "catalog_sets"

const catalogSetsCacheTTL = 15 * time.Minute

// CatalogSets loads the configured product sets, serving from the cache
// tier within the freshness window when it is available.
func (p *Processor) CatalogSets(ctx context.Context) (map[string][]string, error) {
	sets := map[string][]string{}
	if p.cache.GetJSON(ctx, catalogSetsKey, &sets) {
		return sets, nil
	}
	if err := p.store.GetSetting(ctx, catalogSetsKey, &sets); err != nil {
		return nil, err
	}
	p.cache.SetJSON(ctx, catalogSetsKey, sets, catalogSetsCacheTTL)
	return sets, nil
}

// SendCatalogSet sends one named product set as a multi-product message
// and records a catalog_set row in the conversation.
func (p *Processor) SendCatalogSet(ctx context.Context, userID, setName string) error {
	sets, err := p.CatalogSets(ctx)
	if err != nil {
		return err
	}
	ids, ok := sets[setName]
	if !ok || len(ids) == 0 {
		return pkgError.NotFoundError(fmt.Sprintf("catalog set %s not found", setName))
	}

	body := "اختر المنتج الذي يعجبك 👇\nChoisissez le produit qui vous plaît 👇"
	envs, err := p.upstream.SendProductList(ctx, userID, setName, body, setName, ids)
	if err != nil {
		return err
	}

	upstreamID := ""
	if len(envs) > 0 {
		upstreamID = envs[0].FirstMessageID()
	}
	row := &domain.Message{
		UserID:     userID,
		UpstreamID: strPtrOrNil(upstreamID),
		Kind:       domain.KindCatalogSet,
		Body:       setName,
		FromAgent:  true,
		Status:     domain.StatusSent,
		ServerTS:   timeutils.NowISO(),
	}
	if _, err := p.store.UpsertMessage(ctx, row); err != nil {
		logrus.WithError(err).Warn("[CATALOG] failed to persist set send")
	}
	p.cache.PushRecent(ctx, userID, row)
	p.emit(ctx, userID, Event{Type: "message_sent", Data: row})
	return nil
}

// SendCatalogSetToAll dispatches a set to every listed user, returning
// the per-user failures without aborting the batch.
func (p *Processor) SendCatalogSetToAll(ctx context.Context, setName string, userIDs []string) map[string]string {
	failures := map[string]string{}
	for _, userID := range userIDs {
		if IsInternalChannel(userID) {
			continue
		}
		if err := p.SendCatalogSet(ctx, userID, setName); err != nil {
			failures[userID] = err.Error()
		}
	}
	return failures
}

// SendCatalogItem routes a single product through the outbound pipeline
// so it gets optimistic delivery and the card/image/text fallback chain.
func (p *Processor) SendCatalogItem(ctx context.Context, userID, retailerID, caption string) (*domain.Message, error) {
	return p.ProcessOutgoing(ctx, OutgoingMessage{
		UserID:     userID,
		Kind:       string(domain.KindCatalogItem),
		Caption:    caption,
		RetailerID: retailerID,
	})
}
