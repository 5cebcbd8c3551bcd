package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a backend API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic backend response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Model
// ============================================================================

// RoomType identifies what kind of conversation a room is.
type RoomType string

const (
	RoomDirect RoomType = "DIRECT"
	RoomGroup  RoomType = "GROUP"
	RoomLoad   RoomType = "LOAD" // tied to a shipment
)

// User is a denormalized user snapshot embedded in rooms and messages.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Role      string `json:"role,omitempty"` // "driver", "dispatcher", "admin"
}

// Participant joins a user to a chat room. It has no lifecycle of its own;
// it lives and dies with the room.
type Participant struct {
	UserID   string    `json:"userId"`
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

// Message is a single chat message. The client never fabricates server ids;
// Provisional messages carry a "local-" prefixed id until confirmed.
type Message struct {
	ID         string    `json:"id"`
	ChatRoomID string    `json:"chatRoomId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"` // DIRECT convenience
	Content    string    `json:"content"`
	FileURL    string    `json:"fileUrl,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
	Sender     *User     `json:"sender,omitempty"`

	// Provisional marks an optimistic local message awaiting server
	// confirmation. Never serialized.
	Provisional bool `json:"-"`
}

// ChatRoom is a conversation entity. LastMessage is denormalized by value.
type ChatRoom struct {
	ID           string        `json:"id"`
	Type         RoomType      `json:"type"`
	Name         string        `json:"name,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	AdminID      string        `json:"adminId,omitempty"` // owner for GROUP rooms
	LoadID       string        `json:"loadId,omitempty"`  // shipment for LOAD rooms
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
	IsMuted      bool          `json:"isMuted"`
	IsPinned     bool          `json:"isPinned"`
	IsArchived   bool          `json:"isArchived"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ============================================================================
// Partial updates
// ============================================================================

// RoomUpdate is a field-level merge for ChatRoom. Nil fields are left
// unchanged.
type RoomUpdate struct {
	Name         *string        `json:"name,omitempty"`
	Avatar       *string        `json:"avatar,omitempty"`
	Participants *[]Participant `json:"participants,omitempty"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	UnreadCount  *int           `json:"unreadCount,omitempty"`
	IsMuted      *bool          `json:"isMuted,omitempty"`
	IsPinned     *bool          `json:"isPinned,omitempty"`
	IsArchived   *bool          `json:"isArchived,omitempty"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
}

// Apply merges the update into the room.
func (u *RoomUpdate) Apply(room *ChatRoom) {
	if u.Name != nil {
		room.Name = *u.Name
	}
	if u.Avatar != nil {
		room.Avatar = *u.Avatar
	}
	if u.Participants != nil {
		room.Participants = *u.Participants
	}
	if u.LastMessage != nil {
		room.LastMessage = u.LastMessage
	}
	if u.UnreadCount != nil {
		room.UnreadCount = *u.UnreadCount
		if room.UnreadCount < 0 {
			room.UnreadCount = 0
		}
	}
	if u.IsMuted != nil {
		room.IsMuted = *u.IsMuted
	}
	if u.IsPinned != nil {
		room.IsPinned = *u.IsPinned
	}
	if u.IsArchived != nil {
		room.IsArchived = *u.IsArchived
	}
	if u.UpdatedAt != nil {
		room.UpdatedAt = *u.UpdatedAt
	}
}

// MessageUpdate is a field-level merge for Message.
type MessageUpdate struct {
	Content *string `json:"content,omitempty"`
	IsRead  *bool   `json:"isRead,omitempty"`
}

// Apply merges the update into the message.
func (u *MessageUpdate) Apply(msg *Message) {
	if u.Content != nil {
		msg.Content = *u.Content
	}
	if u.IsRead != nil {
		msg.IsRead = *u.IsRead
	}
}

// ============================================================================
// Backend request/response shapes
// ============================================================================

// SendMessageInput is the payload for sending a message.
type SendMessageInput struct {
	ChatRoomID string `json:"chatRoomId"`
	ReceiverID string `json:"receiverId,omitempty"`
	Content    string `json:"content"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
}

// MessagesPage is one page of room history, newest page first.
type MessagesPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Total    int       `json:"total"`
}

// DeleteRoomResult reports what the backend did with a delete-or-leave
// request: GROUP admins delete, GROUP members leave, DIRECT rooms are
// hidden per-user.
type DeleteRoomResult struct {
	Deleted bool `json:"deleted"`
	Hidden  bool `json:"hidden,omitempty"`
	Left    bool `json:"left,omitempty"`
}

// ============================================================================
// Push event contract
// ============================================================================

// Push event types delivered by the push channel. Delivery is at-least-once
// and unordered across rooms; the Coordinator's merge rules make redelivery
// safe.
const (
	EventMessageCreated     = "message.created"
	EventMessageRead        = "message.read"
	EventRoomMuted          = "room.muted"
	EventRoomPinned         = "room.pinned"
	EventParticipantRemoved = "participant.removed"
)

// PushEvent is the wire envelope for all push-channel events.
type PushEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageCreatedPayload carries a newly created message.
type MessageCreatedPayload struct {
	Message Message `json:"message"`
}

// MessageReadPayload marks one message read.
type MessageReadPayload struct {
	MessageID  string `json:"messageId"`
	ChatRoomID string `json:"chatRoomId"`
}

// RoomFlagPayload toggles a per-room boolean (mute, pin).
type RoomFlagPayload struct {
	RoomID string `json:"roomId"`
	On     bool   `json:"on"`
}

// ParticipantRemovedPayload removes a user from a room.
type ParticipantRemovedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}
