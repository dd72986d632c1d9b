// Package send holds the request types accepted by the REST send
// surface.
package send

// MessageRequest is the POST /send-message body.
type MessageRequest struct {
	UserID  string `json:"user_id" form:"user_id"`
	Message string `json:"message" form:"message"`
	Type    string `json:"type" form:"type"`
	ReplyTo string `json:"reply_to" form:"reply_to"`
	TempID  string `json:"temp_id" form:"temp_id"`
	AgentID string `json:"agent_id" form:"agent_id"`
}

// MediaRequest is the multipart form accompanying /send-media uploads.
type MediaRequest struct {
	UserID    string `json:"user_id" form:"user_id"`
	MediaType string `json:"media_type" form:"media_type"`
	Caption   string `json:"caption" form:"caption"`
	Price     string `json:"price" form:"price"`
	AgentID   string `json:"agent_id" form:"agent_id"`
}

// CatalogSetRequest dispatches a named product set to one conversation.
type CatalogSetRequest struct {
	UserID  string `json:"user_id"`
	SetName string `json:"set_name"`
}

// CatalogSetAllRequest dispatches a set to many conversations; an empty
// UserIDs means every known non-internal conversation.
type CatalogSetAllRequest struct {
	SetName string   `json:"set_name"`
	UserIDs []string `json:"user_ids"`
}

// CatalogItemRequest sends a single product card.
type CatalogItemRequest struct {
	UserID     string `json:"user_id"`
	RetailerID string `json:"retailer_id"`
	Caption    string `json:"caption"`
}

// CatalogItemAllRequest sends one product card to many conversations.
type CatalogItemAllRequest struct {
	RetailerID string   `json:"retailer_id"`
	Caption    string   `json:"caption"`
	UserIDs    []string `json:"user_ids"`
}

// LoginRequest is the minimal agent credential check.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AgentRequest creates or updates an operator account. Password is
// optional on update.
type AgentRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}
