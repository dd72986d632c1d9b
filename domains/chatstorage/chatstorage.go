package chatstorage

import (
	"context"
	"database/sql"
	"time"
)

// MessageKind discriminates the tagged payload union carried by Message.
type MessageKind string

const (
	KindText               MessageKind = "text"
	KindImage              MessageKind = "image"
	KindAudio              MessageKind = "audio"
	KindVideo              MessageKind = "video"
	KindDocument           MessageKind = "document"
	KindSticker            MessageKind = "sticker"
	KindCatalogItem        MessageKind = "catalog_item"
	KindInteractiveProduct MessageKind = "interactive_product"
	KindInteractiveButtons MessageKind = "interactive_buttons"
	KindInteractiveList    MessageKind = "interactive_list"
	KindOrder              MessageKind = "order"
	KindReaction           MessageKind = "reaction"
	KindCatalogSet         MessageKind = "catalog_set"
)

// MessageStatus is the delivery state of a message. Outbound messages walk
// sending -> sent -> delivered -> read; inbound messages are created as
// received and only ever upgrade to read. failed is absorbing.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusReceived  MessageStatus = "received"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusReceived:  1,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusFailed:    9,
}

// StatusRank returns the monotonic rank of a status; unknown statuses rank
// lowest so they never overwrite a known state.
func StatusRank(s MessageStatus) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Message is the canonical conversational event. Timestamps are ISO-8601
// strings so lexicographic ordering matches chronology.
type Message struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	UpstreamID *string `gorm:"column:upstream_id;uniqueIndex:idx_msg_user_upstream" json:"upstream_id,omitempty"`
	TempID     *string `gorm:"column:temp_id;uniqueIndex:idx_msg_user_temp" json:"temp_id,omitempty"`
	UserID     string  `gorm:"column:user_id;not null;uniqueIndex:idx_msg_user_upstream;uniqueIndex:idx_msg_user_temp;index:idx_msg_user_server_ts,priority:1" json:"user_id"`

	Body      string        `gorm:"column:body" json:"body"`
	Kind      MessageKind   `gorm:"column:kind;default:'text'" json:"kind"`
	FromAgent bool          `gorm:"column:from_agent" json:"from_agent"`
	Status    MessageStatus `gorm:"column:status;default:'sending'" json:"status"`

	Caption string `gorm:"column:caption" json:"caption,omitempty"`
	Price   string `gorm:"column:price" json:"price,omitempty"`

	MediaLocalPath string `gorm:"column:media_local_path" json:"media_local_path,omitempty"`
	MediaPublicURL string `gorm:"column:media_public_url" json:"url,omitempty"`

	ReplyToUpstreamID string `gorm:"column:reply_to_upstream_id" json:"reply_to_upstream_id,omitempty"`
	QuotedSnippet     string `gorm:"column:quoted_snippet" json:"quoted_snippet,omitempty"`

	ReactionTargetUpstreamID string `gorm:"column:reaction_target_upstream_id" json:"reaction_target_upstream_id,omitempty"`
	ReactionEmoji            string `gorm:"column:reaction_emoji" json:"reaction_emoji,omitempty"`
	ReactionAction           string `gorm:"column:reaction_action" json:"reaction_action,omitempty"` // react | unreact

	// Waveform is a JSON array of 8..256 peaks in 0..100 for voice notes.
	Waveform string `gorm:"column:waveform" json:"waveform,omitempty"`

	RetailerID string `gorm:"column:retailer_id" json:"retailer_id,omitempty"`
	ProductID  string `gorm:"column:product_id" json:"product_id,omitempty"`
	VariantID  string `gorm:"column:variant_id" json:"variant_id,omitempty"`

	ClientTS string `gorm:"column:client_ts;index:idx_msg_user_client_ts" json:"client_ts,omitempty"`
	ServerTS string `gorm:"column:server_ts;index:idx_msg_user_server_ts,priority:2" json:"server_ts,omitempty"`
}

func (Message) TableName() string { return "messages" }

// DisplayTS is the timestamp the UI sorts by: server receive time when
// known, client time otherwise.
func (m *Message) DisplayTS() string {
	if m.ServerTS != "" {
		return m.ServerTS
	}
	return m.ClientTS
}

// User is a conversation participant keyed by phone number or internal
// channel id (team:/agent:/dm: prefixes).
type User struct {
	UserID    string     `gorm:"column:user_id;primaryKey" json:"user_id"`
	Name      string     `gorm:"column:name" json:"name"`
	Phone     string     `gorm:"column:phone" json:"phone"`
	IsAdmin   bool       `gorm:"column:is_admin" json:"is_admin"`
	LastSeen  *time.Time `gorm:"column:last_seen" json:"last_seen,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string { return "users" }

// Agent is an operator credential. PasswordHash is "salt$hex" produced by
// PBKDF2-SHA256.
type Agent struct {
	Username     string    `gorm:"column:username;primaryKey" json:"username"`
	Name         string    `gorm:"column:name" json:"name"`
	PasswordHash string    `gorm:"column:password_hash" json:"-"`
	IsAdmin      bool      `gorm:"column:is_admin" json:"is_admin"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Agent) TableName() string { return "agents" }

// ConversationMeta carries assignment, tags and avatar per conversation.
// Tags are stored as a JSON array of short labels.
type ConversationMeta struct {
	UserID        string `gorm:"column:user_id;primaryKey" json:"user_id"`
	AssignedAgent string `gorm:"column:assigned_agent" json:"assigned_agent,omitempty"`
	Tags          string `gorm:"column:tags;default:'[]'" json:"-"`
	AvatarURL     string `gorm:"column:avatar_url" json:"avatar_url,omitempty"`
}

func (ConversationMeta) TableName() string { return "conversation_meta" }

// OrderStatus is the payout lifecycle state of an order.
type OrderStatus string

const (
	OrderPayout   OrderStatus = "payout"
	OrderArchived OrderStatus = "archived"
)

type Order struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string      `gorm:"column:order_id;uniqueIndex" json:"order_id"`
	Status    OrderStatus `gorm:"column:status;default:'payout'" json:"status"`
	CreatedAt time.Time   `gorm:"column:created_at" json:"created_at"`
}

func (Order) TableName() string { return "orders" }

// Setting is a KV row with a JSON-serialized value.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey" json:"key"`
	Value string `gorm:"column:value" json:"value"`
}

func (Setting) TableName() string { return "settings" }

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	UserID           string         `json:"user_id"`
	Name             string         `json:"name"`
	AvatarURL        string         `json:"avatar_url,omitempty"`
	AssignedAgent    string         `json:"assigned_agent,omitempty"`
	Tags             []string       `json:"tags"`
	LastMessageBody  sql.NullString `json:"-"`
	LastMessage      string         `json:"last_message"`
	LastMessageTime  string         `json:"last_message_time"`
	LastOutboundTime string         `json:"last_outbound_time,omitempty"`
	UnreadCount      int            `json:"unread_count"`
	UnrespondedCount int            `json:"unresponded_count"`
}

// ConversationFilter narrows ListConversations. Zero values mean "no
// filter"; AssignedAgent accepts the sentinel "unassigned".
type ConversationFilter struct {
	Query           string
	UnreadOnly      bool
	UnrespondedOnly bool
	AssignedAgent   string
	Tags            []string
	Limit           int
}

// IChatStorageRepository is the single durable-store contract. Both the
// embedded sqlite backend and the networked postgres backend satisfy it.
type IChatStorageRepository interface {
	Init(ctx context.Context) error

	// Messages
	UpsertMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessages(ctx context.Context, userID string, offset, limit int) ([]Message, error)
	GetMessagesSince(ctx context.Context, userID, ts string, limit int) ([]Message, error)
	GetMessagesBefore(ctx context.Context, userID, ts string, limit int) ([]Message, error)
	UpdateStatus(ctx context.Context, upstreamID string, status MessageStatus) error
	GetUserForMessage(ctx context.Context, upstreamID string) (string, error)
	MarkRead(ctx context.Context, userID string, upstreamIDs []string) (int64, error)

	// Users and conversations
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	ListAdmins(ctx context.Context) ([]User, error)
	HasOutboundImageCaption(ctx context.Context, userID, substr string) (bool, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]ConversationSummary, error)
	GetConversationMeta(ctx context.Context, userID string) (*ConversationMeta, error)
	SetAssignedAgent(ctx context.Context, userID, agent string) error
	SetTags(ctx context.Context, userID string, tags []string) error
	RemoveTag(ctx context.Context, userID, tag string) error

	// Agents
	CreateAgent(ctx context.Context, agent Agent) error
	GetAgent(ctx context.Context, username string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	UpdateAgent(ctx context.Context, agent Agent) error
	DeleteAgent(ctx context.Context, username string) error

	// Settings KV
	GetSetting(ctx context.Context, key string, out any) error
	SetSetting(ctx context.Context, key string, value any) error

	// Order payout lifecycle
	UpsertOrder(ctx context.Context, orderID string) error
	SetOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	ListOrders(ctx context.Context, status OrderStatus) ([]Order, error)
}
