// Package domain defines the persistence models for users, conversations,
// messages, receipt embeddings, and flow state. These types are mapped with
// GORM and form the core data layer of the webhook intake pipeline.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Ownership values for Conversation.OwnedBy.
const (
	OwnerAgent    = "agent"
	OwnerOperator = "operator"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender roles recorded on persisted messages.
const (
	RoleUser     = "user"
	RoleAgent    = "agent"
	RoleOperator = "operator"
)

// User represents a WhatsApp contact, keyed by the provider-assigned wa_id.
// Users are created on first contact and their display name is refreshed on
// later sightings; this pipeline never deletes them.
type User struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	WaID      string         `json:"wa_id"      gorm:"type:varchar(32);not null;uniqueIndex:ux_users_wa_id"`
	Name      string         `json:"name"       gorm:"type:varchar(255)"`
	Phone     string         `json:"phone"      gorm:"type:varchar(32)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Conversation is the single thread held with a user (1:1 in this design).
//
// OwnedBy decides which party is authoritative for replies: while "operator",
// inbound messages are persisted for audit but the automated agent never
// speaks. Transitions happen only through explicit takeover/hand-back actions.
// LastMessageAt and LastMessagePreview are denormalized for the operator inbox.
type Conversation struct {
	ID                 string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	UserID             string         `json:"user_id"              gorm:"type:char(36);not null;index:idx_conv_user"`
	OwnedBy            string         `json:"owned_by"             gorm:"type:varchar(16);not null;default:'agent';check:owned_by IN ('agent','operator')"`
	UnreadCount        int            `json:"unread_count"         gorm:"not null;default:0"`
	LastMessageAt      *time.Time     `json:"last_message_at,omitempty"`
	LastMessagePreview string         `json:"last_message_preview" gorm:"type:varchar(255)"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-"                    gorm:"index"`

	// User is the conversation owner.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is one inbound or outbound utterance that reached storage.
//
// ExternalID carries the provider-assigned message id; its unique index is
// the idempotency guard for the entire pipeline: a redelivered webhook hits
// the constraint and is short-circuited instead of processed twice.
//
// Ephemeral marks a non-durable stand-in synthesized when storage failed
// during intake so the pipeline can still answer the user. Stand-ins are
// never written to the database and must not be used as stable references.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ExternalID     string         `json:"external_id"     gorm:"type:varchar(128);not null;uniqueIndex:ux_messages_external_id"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	Direction      string         `json:"direction"       gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	SenderRole     string         `json:"sender_role"     gorm:"type:varchar(16);not null;check:sender_role IN ('user','agent','operator')"`
	SenderName     string         `json:"sender_name"     gorm:"type:varchar(255)"`
	Type           string         `json:"type"            gorm:"type:varchar(32);not null"`
	Content        string         `json:"content"         gorm:"type:text"`
	MediaURL       string         `json:"media_url,omitempty" gorm:"type:text"`
	Timestamp      time.Time      `json:"timestamp"       gorm:"index:idx_conv_msgs,priority:2"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Ephemeral bool `json:"-" gorm:"-"`

	// Conversation is the owning thread. Messages are cascade-deleted
	// if their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Durable reports whether the message is backed by a database row and can be
// used as a stable reference by downstream stages (media storage in particular).
func (m *Message) Durable() bool { return m != nil && !m.Ephemeral && m.ID != "" }

// ReceiptEmbedding stores the extracted text of an accepted receipt image
// together with its embedding vector (JSON-encoded []float32). Rows are
// written once when a receipt is judged novel and are read-only afterward.
type ReceiptEmbedding struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Text      string    `json:"text"       gorm:"type:text;not null"`
	Vector    []byte    `json:"-"          gorm:"type:blob;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ReceiptEmbedding.
func (ReceiptEmbedding) TableName() string { return "receipt_embeddings" }

// ConversationState is companion bookkeeping for a conversation's active flow.
// It is upserted on every flow transition; ExpiresAt lets an external job
// clean up stale rows, this pipeline only ever writes them.
type ConversationState struct {
	ConversationID   string     `json:"conversation_id" gorm:"type:char(36);primaryKey"`
	Flow             string     `json:"flow"            gorm:"type:varchar(64)"`
	AwaitingResponse bool       `json:"awaiting_response" gorm:"not null;default:false"`
	Context          string     `json:"context"         gorm:"type:text"`
	History          string     `json:"history"         gorm:"type:text"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" gorm:"index"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ConversationState.
func (ConversationState) TableName() string { return "conversation_states" }
