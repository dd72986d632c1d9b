package chatstorage

import (
	"context"
	"fmt"
	"testing"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := NewGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func strPtr(s string) *string { return &s }

func TestUpsertMessageReconcilesTempID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Optimistic insert keyed by temp id only.
	first, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID:   "212600000001",
		TempID:   strPtr("temp-abc"),
		Body:     "hello",
		Kind:     domain.KindText,
		Status:   domain.StatusSending,
		ClientTS: "2026-08-24T10:00:00.000Z",
	})
	require.NoError(t, err)

	// Upstream ack arrives carrying both ids; must merge onto the same row.
	second, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID:     "212600000001",
		UpstreamID: strPtr("wamid.1"),
		TempID:     strPtr("temp-abc"),
		Status:     domain.StatusSent,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "wamid.1", *second.UpstreamID)
	assert.Equal(t, domain.StatusSent, second.Status)
	assert.Equal(t, "hello", second.Body)

	rows, err := repo.GetMessages(ctx, "212600000001", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestUpsertMessageStatusNeverDowngrades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID:     "212600000002",
		UpstreamID: strPtr("wamid.2"),
		Body:       "order shipped",
		Status:     domain.StatusRead,
		ServerTS:   "2026-08-24T10:00:00.000Z",
	})
	require.NoError(t, err)

	// Late delivery receipt for an already read message is ignored.
	row, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID:     "212600000002",
		UpstreamID: strPtr("wamid.2"),
		Status:     domain.StatusDelivered,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, row.Status)

	require.NoError(t, repo.UpdateStatus(ctx, "wamid.2", domain.StatusDelivered))
	rows, err := repo.GetMessages(ctx, "212600000002", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusRead, rows[0].Status)
}

func TestUpdateStatusWalksForward(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID:     "212600000003",
		UpstreamID: strPtr("wamid.3"),
		Status:     domain.StatusSent,
		ServerTS:   "2026-08-24T10:00:00.000Z",
	})
	require.NoError(t, err)

	for _, s := range []domain.MessageStatus{domain.StatusDelivered, domain.StatusRead} {
		require.NoError(t, repo.UpdateStatus(ctx, "wamid.3", s))
	}

	userID, err := repo.GetUserForMessage(ctx, "wamid.3")
	require.NoError(t, err)
	assert.Equal(t, "212600000003", userID)

	rows, err := repo.GetMessages(ctx, "212600000003", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rows[0].Status)
}

func TestCursorPaginationAscendingWindows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := repo.UpsertMessage(ctx, &domain.Message{
			UserID:     "212600000004",
			UpstreamID: strPtr(fmt.Sprintf("wamid.page.%d", i)),
			Body:       fmt.Sprintf("msg %d", i),
			Status:     domain.StatusReceived,
			ServerTS:   fmt.Sprintf("2026-08-24T10:00:0%d.000Z", i),
		})
		require.NoError(t, err)
	}

	recent, err := repo.GetMessages(ctx, "212600000004", 0, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "msg 7", recent[0].Body)
	assert.Equal(t, "msg 9", recent[2].Body)

	before, err := repo.GetMessagesBefore(ctx, "212600000004", recent[0].DisplayTS(), 3)
	require.NoError(t, err)
	require.Len(t, before, 3)
	assert.Equal(t, "msg 4", before[0].Body)
	assert.Equal(t, "msg 6", before[2].Body)

	since, err := repo.GetMessagesSince(ctx, "212600000004", "2026-08-24T10:00:07.000Z", 100)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "msg 8", since[0].Body)
	assert.Equal(t, "msg 9", since[1].Body)
}

func TestMarkReadInboundOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []struct {
		id        string
		fromAgent bool
		status    domain.MessageStatus
	}{
		{"wamid.in.1", false, domain.StatusReceived},
		{"wamid.in.2", false, domain.StatusReceived},
		{"wamid.out.1", true, domain.StatusSent},
	}
	for i, s := range seed {
		_, err := repo.UpsertMessage(ctx, &domain.Message{
			UserID:     "212600000005",
			UpstreamID: strPtr(s.id),
			FromAgent:  s.fromAgent,
			Status:     s.status,
			ServerTS:   fmt.Sprintf("2026-08-24T11:00:0%d.000Z", i),
		})
		require.NoError(t, err)
	}

	n, err := repo.MarkRead(ctx, "212600000005", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rows, err := repo.GetMessages(ctx, "212600000005", 0, 10)
	require.NoError(t, err)
	for _, row := range rows {
		if row.FromAgent {
			assert.Equal(t, domain.StatusSent, row.Status)
		} else {
			assert.Equal(t, domain.StatusRead, row.Status)
		}
	}

	// Second pass finds nothing left to mark.
	n, err = repo.MarkRead(ctx, "212600000005", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestListConversationsFiltersAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, domain.User{UserID: "212600000010", Name: "Amina"}))
	require.NoError(t, repo.UpsertUser(ctx, domain.User{UserID: "212600000011", Name: "Karim"}))

	_, err := repo.UpsertMessage(ctx, &domain.Message{
		UserID: "212600000010", UpstreamID: strPtr("wamid.c1"),
		Body: "salam", Status: domain.StatusReceived,
		ServerTS: "2026-08-24T12:00:00.000Z",
	})
	require.NoError(t, err)
	_, err = repo.UpsertMessage(ctx, &domain.Message{
		UserID: "212600000011", UpstreamID: strPtr("wamid.c2"),
		Body: "bonjour", Status: domain.StatusRead,
		ServerTS: "2026-08-24T12:05:00.000Z",
	})
	require.NoError(t, err)
	_, err = repo.UpsertMessage(ctx, &domain.Message{
		UserID: "212600000011", UpstreamID: strPtr("wamid.c3"),
		Body: "voici votre commande", FromAgent: true, Status: domain.StatusSent,
		ServerTS: "2026-08-24T12:06:00.000Z",
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetTags(ctx, "212600000010", []string{"vip"}))
	require.NoError(t, repo.SetAssignedAgent(ctx, "212600000011", "karima"))

	all, err := repo.ListConversations(ctx, domain.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Karim", all[0].Name)
	assert.Equal(t, "Amina", all[1].Name)
	assert.Equal(t, 1, all[1].UnreadCount)
	assert.Equal(t, 1, all[1].UnrespondedCount)
	assert.Equal(t, 0, all[0].UnrespondedCount)

	unread, err := repo.ListConversations(ctx, domain.ConversationFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "212600000010", unread[0].UserID)

	tagged, err := repo.ListConversations(ctx, domain.ConversationFilter{Tags: []string{"vip"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, []string{"vip"}, tagged[0].Tags)

	unassigned, err := repo.ListConversations(ctx, domain.ConversationFilter{AssignedAgent: "unassigned"})
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "212600000010", unassigned[0].UserID)

	named, err := repo.ListConversations(ctx, domain.ConversationFilter{Query: "kar"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "Karim", named[0].Name)
}

func TestAgentAndOrderLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateAgent(ctx, domain.Agent{Username: "karima", Name: "Karima", PasswordHash: "aa$bb"}))
	err := repo.CreateAgent(ctx, domain.Agent{Username: "karima"})
	require.Error(t, err)

	agent, err := repo.GetAgent(ctx, "karima")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "Karima", agent.Name)

	require.NoError(t, repo.UpdateAgent(ctx, domain.Agent{Username: "karima", Name: "Karima B", IsAdmin: true}))
	agent, err = repo.GetAgent(ctx, "karima")
	require.NoError(t, err)
	assert.True(t, agent.IsAdmin)
	assert.Equal(t, "aa$bb", agent.PasswordHash)

	require.NoError(t, repo.UpsertOrder(ctx, "1001"))
	require.NoError(t, repo.UpsertOrder(ctx, "1001"))
	open, err := repo.ListOrders(ctx, domain.OrderPayout)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, repo.SetOrderStatus(ctx, "1001", domain.OrderArchived))
	open, err = repo.ListOrders(ctx, domain.OrderPayout)
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, repo.DeleteAgent(ctx, "karima"))
	agent, err = repo.GetAgent(ctx, "karima")
	require.NoError(t, err)
	assert.Nil(t, agent)
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, "tag_options", []string{"vip", "retour"}))
	var tags []string
	require.NoError(t, repo.GetSetting(ctx, "tag_options", &tags))
	assert.Equal(t, []string{"vip", "retour"}, tags)

	// Missing keys leave the destination untouched.
	var missing []string
	require.NoError(t, repo.GetSetting(ctx, "nope", &missing))
	assert.Nil(t, missing)
}
