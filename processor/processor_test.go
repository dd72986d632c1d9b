package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	repo "github.com/chafiq1992/wagateway/infrastructure/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeUpstream struct {
	mu        sync.Mutex
	textSends []string
	nextID    string
	failSends bool
	downloads map[string][]byte
	readIDs   []string
	reactions []string
}

func (f *fakeUpstream) envelope() (*whatsapp.Envelope, error) {
	if f.failSends {
		return nil, errors.New("upstream down")
	}
	id := f.nextID
	if id == "" {
		id = "wamid.generated"
	}
	raw := []byte(`{"messaging_product":"whatsapp","messages":[{"id":"` + id + `"}]}`)
	var env whatsapp.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (f *fakeUpstream) SendText(_ context.Context, to, body, _ string) (*whatsapp.Envelope, error) {
	f.mu.Lock()
	f.textSends = append(f.textSends, to+"|"+body)
	f.mu.Unlock()
	return f.envelope()
}

func (f *fakeUpstream) SendMediaByID(context.Context, string, string, string, string) (*whatsapp.Envelope, error) {
	return f.envelope()
}

func (f *fakeUpstream) SendMediaByLink(context.Context, string, string, string, string) (*whatsapp.Envelope, error) {
	return f.envelope()
}

func (f *fakeUpstream) SendInteractiveProduct(context.Context, string, string, string) (*whatsapp.Envelope, error) {
	return f.envelope()
}

func (f *fakeUpstream) SendProductList(context.Context, string, string, string, string, []string) ([]*whatsapp.Envelope, error) {
	env, err := f.envelope()
	if err != nil {
		return nil, err
	}
	return []*whatsapp.Envelope{env}, nil
}

func (f *fakeUpstream) SendReplyButtons(context.Context, string, string, []whatsapp.Button) (*whatsapp.Envelope, error) {
	return f.envelope()
}

func (f *fakeUpstream) SendListMessage(context.Context, string, string, string, []whatsapp.ListSection) (*whatsapp.Envelope, error) {
	return f.envelope()
}

func (f *fakeUpstream) SendReaction(_ context.Context, _, targetID, emoji string) (*whatsapp.Envelope, error) {
	f.mu.Lock()
	f.reactions = append(f.reactions, targetID+"|"+emoji)
	f.mu.Unlock()
	return f.envelope()
}

func (f *fakeUpstream) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	f.readIDs = append(f.readIDs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) UploadMedia(context.Context, string, string) (string, error) {
	return "media-handle-1", nil
}

func (f *fakeUpstream) DownloadMedia(_ context.Context, mediaID string) ([]byte, string, error) {
	if data, ok := f.downloads[mediaID]; ok {
		return data, "image/webp", nil
	}
	return nil, "", errors.New("media gone")
}

type fakeFanout struct {
	mu       sync.Mutex
	events   map[string][]Event
	admins   []Event
	excluded []string
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{events: map[string][]Event{}}
}

func (f *fakeFanout) SendToUser(_ context.Context, userID string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[userID] = append(f.events[userID], payload.(Event))
}

func (f *fakeFanout) SendToUserExcept(_ context.Context, userID string, payload any, exceptSessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[userID] = append(f.events[userID], payload.(Event))
	f.excluded = append(f.excluded, exceptSessionID)
}

func (f *fakeFanout) BroadcastToAdmins(_ context.Context, payload any, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins = append(f.admins, payload.(Event))
}

func (f *fakeFanout) ofType(userID, typ string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events[userID] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestProcessor(t *testing.T) (*Processor, *fakeUpstream, *fakeFanout, domain.IChatStorageRepository) {
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

	up := &fakeUpstream{downloads: map[string][]byte{}}
	fan := newFakeFanout()
	p := New(store, up, fan, nil, nil, nil)
	return p, up, fan, store
}

func TestOutgoingTextReconciliation(t *testing.T) {
	p, up, fan, store := newTestProcessor(t)
	up.nextID = "wamid.X"
	ctx := context.Background()

	stored, err := p.ProcessOutgoing(ctx, OutgoingMessage{
		UserID: "212600000001",
		Kind:   "text",
		Body:   "hello",
		TempID: "t_a",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSending, stored.Status)
	require.NotNil(t, stored.TempID)
	assert.Equal(t, "t_a", *stored.TempID)

	sent := fan.ofType("212600000001", "message_sent")
	require.Len(t, sent, 1)

	require.Eventually(t, func() bool {
		rows, err := store.GetMessages(ctx, "212600000001", 0, 10)
		if err != nil || len(rows) != 1 {
			return false
		}
		return rows[0].Status == domain.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	rows, err := store.GetMessages(ctx, "212600000001", 0, 10)
	require.NoError(t, err)
	require.NotNil(t, rows[0].UpstreamID)
	assert.Equal(t, "wamid.X", *rows[0].UpstreamID)

	updates := fan.ofType("212600000001", "message_status_update")
	require.Len(t, updates, 1)
	data := updates[0].Data.(map[string]any)
	assert.Equal(t, "t_a", data["temp_id"])
	assert.Equal(t, "wamid.X", data["upstream_id"])
	assert.Equal(t, domain.StatusSent, data["status"])
}

func TestOutgoingFailureMarksFailed(t *testing.T) {
	p, up, fan, store := newTestProcessor(t)
	up.failSends = true
	ctx := context.Background()

	_, err := p.ProcessOutgoing(ctx, OutgoingMessage{
		UserID: "212600000002",
		Kind:   "text",
		Body:   "hello",
		TempID: "t_fail",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, err := store.GetMessages(ctx, "212600000002", 0, 10)
		return err == nil && len(rows) == 1 && rows[0].Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	updates := fan.ofType("212600000002", "message_status_update")
	require.Len(t, updates, 1)
	data := updates[0].Data.(map[string]any)
	assert.Equal(t, domain.StatusFailed, data["status"])
	assert.Contains(t, data["error"], "upstream down")
}

func TestInternalChannelNeverHitsUpstream(t *testing.T) {
	p, up, fan, store := newTestProcessor(t)
	ctx := context.Background()

	stored, err := p.ProcessOutgoing(ctx, OutgoingMessage{
		UserID: "team:support",
		Kind:   "text",
		Body:   "shift notes",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)

	time.Sleep(50 * time.Millisecond)
	up.mu.Lock()
	assert.Empty(t, up.textSends)
	up.mu.Unlock()

	require.Len(t, fan.ofType("team:support", "message_sent"), 1)
	rows, err := store.GetMessages(ctx, "team:support", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusSent, rows[0].Status)
}

func webhookWith(msg InboundMessage) WebhookPayload {
	var payload WebhookPayload
	raw := `{"entry":[{"changes":[{"value":{}}]}]}`
	_ = json.Unmarshal([]byte(raw), &payload)
	payload.Entry[0].Changes[0].Value.Messages = []InboundMessage{msg}
	return payload
}

func TestInboundReactionCreatesNoBubble(t *testing.T) {
	p, _, fan, store := newTestProcessor(t)
	ctx := context.Background()

	p.HandleWebhook(ctx, webhookWith(InboundMessage{
		ID:   "wamid.R",
		From: "212600000003",
		Type: "reaction",
		Reaction: &struct {
			MessageID string `json:"message_id"`
			Emoji     string `json:"emoji"`
		}{MessageID: "wamid.target", Emoji: "❤️"},
	}))

	assert.Empty(t, fan.ofType("212600000003", "message_received"))
	reactions := fan.ofType("212600000003", "reaction_update")
	require.Len(t, reactions, 1)
	data := reactions[0].Data.(map[string]any)
	assert.Equal(t, "wamid.target", data["target_upstream_id"])
	assert.Equal(t, false, data["from_agent"])

	rows, err := store.GetMessages(ctx, "212600000003", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.KindReaction, rows[0].Kind)
}

func TestInboundStickerDownloadFailureDegradesToText(t *testing.T) {
	p, _, fan, store := newTestProcessor(t)
	ctx := context.Background()

	p.HandleWebhook(ctx, webhookWith(InboundMessage{
		ID:      "wamid.S",
		From:    "212600000004",
		Type:    "sticker",
		Sticker: &InboundMedia{ID: "missing-media", MimeType: "image/webp"},
	}))

	rows, err := store.GetMessages(ctx, "212600000004", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.KindText, rows[0].Kind)
	assert.Equal(t, "[sticker]", rows[0].Body)
	require.Len(t, fan.ofType("212600000004", "message_received"), 1)
}

func TestInboundStatusUpgradesRow(t *testing.T) {
	p, up, fan, store := newTestProcessor(t)
	up.nextID = "wamid.ST"
	ctx := context.Background()

	_, err := p.ProcessOutgoing(ctx, OutgoingMessage{
		UserID: "212600000005",
		Kind:   "text",
		Body:   "hi",
		TempID: "t_st",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rows, _ := store.GetMessages(ctx, "212600000005", 0, 10)
		return len(rows) == 1 && rows[0].Status == domain.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	var payload WebhookPayload
	_ = json.Unmarshal([]byte(`{"entry":[{"changes":[{"value":{}}]}]}`), &payload)
	payload.Entry[0].Changes[0].Value.Statuses = []InboundStatus{
		{ID: "wamid.ST", Status: "read"},
		{ID: "wamid.ST", Status: "delivered"},
	}
	p.HandleWebhook(ctx, payload)

	rows, err := store.GetMessages(ctx, "212600000005", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rows[0].Status)
	assert.NotEmpty(t, fan.ofType("212600000005", "message_status_update"))
}

func TestInboundContextThreadsReply(t *testing.T) {
	p, _, _, store := newTestProcessor(t)
	ctx := context.Background()

	p.HandleWebhook(ctx, webhookWith(InboundMessage{
		ID:   "wamid.CTX",
		From: "212600000006",
		Type: "text",
		Text: &struct {
			Body string `json:"body"`
		}{Body: "replying"},
		Context: &struct {
			ID string `json:"id"`
		}{ID: "wamid.parent"},
	}))

	rows, err := store.GetMessages(ctx, "212600000006", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "wamid.parent", rows[0].ReplyToUpstreamID)
}

func TestTypingExcludesOriginSession(t *testing.T) {
	p, _, fan, _ := newTestProcessor(t)

	p.Typing(context.Background(), "212600000008", true, "sess-origin")

	events := fan.ofType("212600000008", "typing")
	require.Len(t, events, 1)
	data := events[0].Data.(map[string]any)
	assert.Equal(t, true, data["is_typing"])

	fan.mu.Lock()
	defer fan.mu.Unlock()
	require.Len(t, fan.excluded, 1)
	assert.Equal(t, "sess-origin", fan.excluded[0])
	require.Len(t, fan.admins, 1)
}

func TestMarkConversationReadForwardsReceipts(t *testing.T) {
	p, up, fan, store := newTestProcessor(t)
	ctx := context.Background()

	p.HandleWebhook(ctx, webhookWith(InboundMessage{
		ID:   "wamid.MR",
		From: "212600000007",
		Type: "text",
		Text: &struct {
			Body string `json:"body"`
		}{Body: "hello"},
	}))

	count, err := p.MarkConversationRead(ctx, "212600000007", []string{"wamid.MR"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.Eventually(t, func() bool {
		up.mu.Lock()
		defer up.mu.Unlock()
		return len(up.readIDs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rows, err := store.GetMessages(ctx, "212600000007", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rows[0].Status)
	require.Len(t, fan.ofType("212600000007", "messages_marked_read"), 1)
}
