package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chafiq1992/wagateway/config"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	repo "github.com/chafiq1992/wagateway/infrastructure/chatstorage"
	"github.com/chafiq1992/wagateway/integrations/shop"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []processor.OutgoingMessage
	failAll bool
}

func (f *fakeSender) ProcessOutgoing(_ context.Context, out processor.OutgoingMessage) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("pipeline down")
	}
	f.sent = append(f.sent, out)
	return &domain.Message{UserID: out.UserID, Kind: domain.MessageKind(out.Kind)}, nil
}

func (f *fakeSender) all() []processor.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processor.OutgoingMessage(nil), f.sent...)
}

func (f *fakeSender) ofKind(kind domain.MessageKind) []processor.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []processor.OutgoingMessage
	for _, m := range f.sent {
		if m.Kind == string(kind) {
			out = append(out, m)
		}
	}
	return out
}

type fakeShop struct {
	variants map[string]*shop.Variant
	products []shop.Product
	customer *shop.Customer
	orders   []shop.Order
}

func (f *fakeShop) CustomerByPhone(context.Context, string) (*shop.Customer, error) {
	return f.customer, nil
}

func (f *fakeShop) RecentOrders(context.Context, string) ([]shop.Order, error) {
	return f.orders, nil
}

func (f *fakeShop) VariantByID(_ context.Context, id string) (*shop.Variant, error) {
	return f.variants[id], nil
}

func (f *fakeShop) ProductByID(context.Context, string) (*shop.Product, error) {
	return nil, nil
}

func (f *fakeShop) VariantImages(_ context.Context, id string) ([]string, error) {
	if v := f.variants[id]; v != nil {
		return v.ImageURLs, nil
	}
	return nil, nil
}

func (f *fakeShop) ListProducts(context.Context) ([]shop.Product, error) {
	return f.products, nil
}

func newTestEngine(t *testing.T, shopClient shop.IShopClient) (*Engine, *fakeSender, domain.IChatStorageRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := repo.NewGormRepository(db)
	require.NoError(t, store.Init(context.Background()))

	sender := &fakeSender{}
	engine := New(store, sender, NewMemoryState(), shopClient)
	return engine, sender, store
}

func strPtr(s string) *string { return &s }

func TestAutoReplyByExplicitID(t *testing.T) {
	config.AutoReplyCatalogMatch = true
	config.AutoReplyTestNumbers = nil
	t.Cleanup(func() { config.AutoReplyCatalogMatch = false })

	shopClient := &fakeShop{variants: map[string]*shop.Variant{
		"123456789": {ID: "123456789", Title: "Baskets roses", Price: "199 MAD"},
	}}
	engine, sender, _ := newTestEngine(t, shopClient)
	ctx := context.Background()

	engine.OnInboundText(ctx, "212600000001", "Je veux ce modèle ID: 123456789")

	items := sender.ofKind(domain.KindCatalogItem)
	require.Len(t, items, 1)
	assert.Equal(t, "123456789", items[0].RetailerID)
	assert.Contains(t, items[0].Caption, "Baskets roses")

	texts := sender.ofKind(domain.KindText)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Body, "Est-ce le produit")

	// 24h cooldown: the second inbound text changes nothing.
	engine.OnInboundText(ctx, "212600000001", "encore ID: 123456789")
	assert.Len(t, sender.all(), 2)
}

func TestAutoReplyQuickButtonsWhenNoHint(t *testing.T) {
	config.AutoReplyCatalogMatch = true
	config.AutoReplyTestNumbers = nil
	t.Cleanup(func() { config.AutoReplyCatalogMatch = false })

	engine, sender, _ := newTestEngine(t, &fakeShop{})
	engine.OnInboundText(context.Background(), "212600000002", "salam alaikum")

	buttons := sender.ofKind(domain.KindInteractiveButtons)
	require.Len(t, buttons, 1)
	ids := []string{buttons[0].Buttons[0].ID, buttons[0].Buttons[1].ID}
	assert.Contains(t, ids, "buy_item")
	assert.Contains(t, ids, "order_status")
}

func TestAutoReplyDisabledFlagAndWhitelist(t *testing.T) {
	config.AutoReplyCatalogMatch = false
	engine, sender, _ := newTestEngine(t, &fakeShop{})
	engine.OnInboundText(context.Background(), "212600000003", "hello")
	assert.Empty(t, sender.all())

	config.AutoReplyCatalogMatch = true
	config.AutoReplyTestNumbers = []string{"212699999999"}
	t.Cleanup(func() {
		config.AutoReplyCatalogMatch = false
		config.AutoReplyTestNumbers = nil
	})
	engine.OnInboundText(context.Background(), "212600000003", "hello")
	assert.Empty(t, sender.all())

	engine.OnInboundText(context.Background(), "212699999999", "hello")
	assert.Len(t, sender.all(), 1)
}

func TestAutoReplyFuzzyNameMatch(t *testing.T) {
	config.AutoReplyCatalogMatch = true
	config.AutoReplyTestNumbers = nil
	config.AutoReplyMinScore = 0.6
	t.Cleanup(func() { config.AutoReplyCatalogMatch = false })

	shopClient := &fakeShop{products: []shop.Product{
		{ID: "p1", Title: "Sandale Marina", Variants: []shop.Variant{
			{ID: "v1", Title: "Sandale Marina", Price: "149 MAD", ImageURLs: []string{"https://img/s1.jpg"}},
		}},
		{ID: "p2", Title: "Bottes hiver", Variants: []shop.Variant{
			{ID: "v2", Title: "Bottes hiver", Price: "299 MAD"},
		}},
	}}
	engine, sender, _ := newTestEngine(t, shopClient)

	// Digits present so the quick-button branch is skipped; name matches.
	engine.OnInboundText(context.Background(), "212600000004", "3andkom sandale marina 36 ?")

	images := sender.ofKind(domain.KindImage)
	require.Len(t, images, 1)
	assert.Equal(t, "https://img/s1.jpg", images[0].MediaPublicURL)
	assert.Equal(t, "Sandale Marina - 149 MAD", images[0].Caption)
}

func TestExtractProductIDPriority(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"ID: 42", "42"},
		{"https://boutique.ma/p?variant=123456789", "123456789"},
		{"https://boutique.ma/products/x/variants/987654321", "987654321"},
		{"ref 111222333 merci", "111222333"},
		{"ID: 7 et variant=123456789", "7"},
	}
	for _, tc := range cases {
		got, ok := ExtractProductID(tc.text)
		require.True(t, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}

	_, ok := ExtractProductID("aucun identifiant ici")
	assert.False(t, ok)
}

func seedOutbound(t *testing.T, store domain.IChatStorageRepository, userID, ts string, kind domain.MessageKind, caption string) {
	t.Helper()
	_, err := store.UpsertMessage(context.Background(), &domain.Message{
		UserID:     userID,
		UpstreamID: strPtr(fmt.Sprintf("wamid.%s.%s", userID, ts)),
		Kind:       kind,
		FromAgent:  true,
		Status:     domain.StatusSent,
		Caption:    caption,
		ServerTS:   ts,
	})
	require.NoError(t, err)
}

func TestSurveySweepInvitesQuietConversations(t *testing.T) {
	engine, sender, store := newTestEngine(t, &fakeShop{})
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	// Quiet for 5 hours: qualifies.
	seedOutbound(t, store, "212600000010", timeutils.FormatISO(now.Add(-5*time.Hour)), domain.KindText, "")
	// Too recent.
	seedOutbound(t, store, "212600000011", timeutils.FormatISO(now.Add(-1*time.Hour)), domain.KindText, "")
	// Already invoiced.
	seedOutbound(t, store, "212600000012", timeutils.FormatISO(now.Add(-6*time.Hour)), domain.KindImage, "هذه فاتورتك شكرا")
	// Internal channel.
	seedOutbound(t, store, "team:support", timeutils.FormatISO(now.Add(-6*time.Hour)), domain.KindText, "")

	engine.surveySweep(ctx)

	invites := sender.ofKind(domain.KindInteractiveButtons)
	require.Len(t, invites, 1)
	assert.Equal(t, "212600000010", invites[0].UserID)
	assert.Equal(t, "survey_start_ok", invites[0].Buttons[0].ID)

	// 30-day cooldown: a second sweep is silent.
	engine.surveySweep(ctx)
	assert.Len(t, sender.ofKind(domain.KindInteractiveButtons), 1)
}

func TestSurveyInviteFailureReleasesCooldown(t *testing.T) {
	engine, sender, store := newTestEngine(t, &fakeShop{})
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	seedOutbound(t, store, "212600000019", timeutils.FormatISO(now.Add(-5*time.Hour)), domain.KindText, "")

	sender.failAll = true
	engine.surveySweep(ctx)
	assert.Empty(t, sender.ofKind(domain.KindInteractiveButtons))
	assert.False(t, engine.state.CooldownActive(ctx, surveyInviteKey("212600000019")),
		"a failed invite must not burn the 30-day cooldown")

	// Next sweep retries and succeeds.
	sender.failAll = false
	engine.surveySweep(ctx)
	invites := sender.ofKind(domain.KindInteractiveButtons)
	require.Len(t, invites, 1)
	assert.Equal(t, "212600000019", invites[0].UserID)
	assert.True(t, engine.state.CooldownActive(ctx, surveyInviteKey("212600000019")))
}

func TestSurveyReplyStateMachine(t *testing.T) {
	engine, sender, _ := newTestEngine(t, &fakeShop{})
	ctx := context.Background()
	user := "212600000013"

	require.True(t, engine.OnInteractiveReply(ctx, user, "survey_start_ok", "نعم"))
	lists := sender.ofKind(domain.KindInteractiveList)
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Sections[0].Rows, 5)
	assert.Equal(t, "survey_rate_1", lists[0].Sections[0].Rows[0].ID)

	require.True(t, engine.OnInteractiveReply(ctx, user, "survey_rate_4", "⭐⭐⭐⭐"))
	lists = sender.ofKind(domain.KindInteractiveList)
	require.Len(t, lists, 2)
	require.Len(t, lists[1].Sections[0].Rows, 4)

	require.True(t, engine.OnInteractiveReply(ctx, user, "survey_improve_quality", "جودة"))
	texts := sender.ofKind(domain.KindText)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Body, "⭐⭐⭐⭐")
	assert.Contains(t, texts[0].Body, "منتجات ذات جودة أعلى")
	assert.Contains(t, texts[0].Body, "Produits de meilleure qualité")

	var state surveyState
	require.True(t, engine.state.GetJSON(ctx, surveyStateKey(user), &state))
	assert.Equal(t, "done", state.Stage)
	assert.Equal(t, 4, state.Rating)

	// Invite cooldown is set: the scheduler skips this user now.
	assert.True(t, engine.state.CooldownActive(ctx, surveyInviteKey(user)))
}

func TestSurveyDeclineClearsState(t *testing.T) {
	engine, sender, _ := newTestEngine(t, &fakeShop{})
	ctx := context.Background()
	user := "212600000014"

	require.True(t, engine.OnInteractiveReply(ctx, user, "survey_start_ok", ""))
	require.True(t, engine.OnInteractiveReply(ctx, user, "survey_decline", ""))

	var state surveyState
	assert.False(t, engine.state.GetJSON(ctx, surveyStateKey(user), &state))
	assert.True(t, engine.state.CooldownActive(ctx, surveyInviteKey(user)))
	require.NotEmpty(t, sender.ofKind(domain.KindText))
}

func TestOrderStatusComposesSummaryWithImages(t *testing.T) {
	shopClient := &fakeShop{
		customer: &shop.Customer{ID: "c1", Name: "Amina"},
		orders: []shop.Order{
			{
				Name: "#1001", Total: "350", Currency: "MAD", FulfillmentStatus: "shipped",
				LineItems: []shop.LineItem{
					{Title: "Sandale Marina", VariantTitle: "36 / rose", VariantID: "v1", Quantity: 2},
				},
			},
		},
		variants: map[string]*shop.Variant{
			"v1": {ID: "v1", Title: "Sandale Marina", Price: "149 MAD", ImageURLs: []string{"https://img/v1.jpg"}},
		},
	}
	engine, sender, _ := newTestEngine(t, shopClient)

	require.True(t, engine.OnInteractiveReply(context.Background(), "212600000015", "order_status", ""))

	texts := sender.ofKind(domain.KindText)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Body, "#1001")
	assert.Contains(t, texts[0].Body, "Sandale Marina")
	assert.Contains(t, texts[0].Body, "x2")
	assert.Contains(t, texts[0].Body, "En route")

	images := sender.ofKind(domain.KindImage)
	require.Len(t, images, 1)
	assert.Equal(t, "https://img/v1.jpg", images[0].MediaPublicURL)
}

func TestOrderStatusFallbackWhenUnknownCustomer(t *testing.T) {
	engine, sender, _ := newTestEngine(t, &fakeShop{})
	require.True(t, engine.OnInteractiveReply(context.Background(), "212600000016", "order_status", ""))

	texts := sender.ofKind(domain.KindText)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Body, "Nous n'avons pas trouvé")
}

func TestBuyFlowGenderPrompts(t *testing.T) {
	engine, sender, _ := newTestEngine(t, &fakeShop{})
	ctx := context.Background()
	user := "212600000017"

	require.True(t, engine.OnInteractiveReply(ctx, user, "buy_item", ""))
	lists := sender.ofKind(domain.KindInteractiveList)
	require.Len(t, lists, 1)
	assert.Equal(t, "gender_girls", lists[0].Sections[0].Rows[0].ID)

	require.True(t, engine.OnInteractiveReply(ctx, user, "gender_girls", ""))
	texts := sender.ofKind(domain.KindText)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Body, "16 à 38")
	assert.Contains(t, texts[0].Body, "7 ans")

	require.True(t, engine.OnInteractiveReply(ctx, user, "gender_boys", ""))
	texts = sender.ofKind(domain.KindText)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1].Body, "10 ans")
}

func TestUnknownReplyNamespaceNotHandled(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeShop{})
	assert.False(t, engine.OnInteractiveReply(context.Background(), "212600000018", "custom_button", ""))
}
