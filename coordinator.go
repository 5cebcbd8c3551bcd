package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Synchronization Coordinator
// ============================================================================

// DefaultPageSize is the message window size fetched per page.
const DefaultPageSize = 50

// seenLimit bounds the redelivery-dedup set; beyond it the set is dropped
// and rebuilt (the store and cache merges stay idempotent regardless).
const seenLimit = 4096

// Coordinator orchestrates initial load, room activation, pagination and
// the reconciliation of push-channel events against both the Store and the
// CacheStore. It is the only writer of the CacheStore besides the Store's
// own mirroring.
type Coordinator struct {
	client   *Client
	store    *Store
	cache    CacheStore // may be nil
	notifier *Notifier  // may be nil
	logger   *log.Logger

	userID          string
	isAuthenticated func() bool
	pageSize        int

	mu      sync.Mutex
	loaded  bool // one-shot guard for the initial room-list fetch
	loading bool
	seen    map[string]struct{} // push message ids already reconciled
}

type CoordinatorOption func(*Coordinator)

// WithSession tells the Coordinator who the current user is and how to ask
// whether a session exists. On public surfaces (no session) all initial
// loads are skipped.
func WithSession(userID string, isAuthenticated func() bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.userID = userID
		c.isAuthenticated = isAuthenticated
	}
}

func WithNotifier(n *Notifier) CoordinatorOption {
	return func(c *Coordinator) { c.notifier = n }
}

func WithPageSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

func WithLogger(logger *log.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator wires the engine together. cache may be nil for
// network-only operation.
func NewCoordinator(client *Client, store *Store, cache CacheStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client:   client,
		store:    store,
		cache:    cache,
		logger:   log.Default(),
		pageSize: DefaultPageSize,
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) logf(format string, v ...any) {
	c.logger.Printf(format, v...)
}

// markSeen reports whether the message id is new to this session. Redelivered
// push events are reconciled at most once per id.
func (c *Coordinator) markSeen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	if len(c.seen) >= seenLimit {
		c.seen = make(map[string]struct{})
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *Coordinator) cacheSaveMessages(roomID string, msgs []Message) {
	if c.cache == nil || len(msgs) == 0 {
		return
	}
	if err := c.cache.SaveMessages(context.Background(), roomID, msgs); err != nil {
		c.logf("chatsync: cache save for room %s failed: %v", roomID, err)
	}
}

func (c *Coordinator) cacheSaveRooms(rooms []ChatRoom) {
	if c.cache == nil || len(rooms) == 0 {
		return
	}
	if err := c.cache.SaveChatRooms(context.Background(), rooms); err != nil {
		c.logf("chatsync: cache save rooms failed: %v", err)
	}
}

// ── Initial load ─────────────────────────────────────────

// InitialLoad fetches the authoritative room list exactly once per
// authenticated session. A second call is a no-op; a failed call may be
// retried by explicit user action. The cache is consulted first so the UI
// has rooms to show before the network responds.
func (c *Coordinator) InitialLoad(ctx context.Context) error {
	if c.isAuthenticated == nil || !c.isAuthenticated() {
		c.logf("chatsync: no session, skipping initial load")
		return nil
	}

	c.mu.Lock()
	if c.loaded || c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	// Hydrate the list from cache for immediate display. A cache failure
	// degrades to network-only.
	if c.cache != nil && len(c.store.ChatRooms()) == 0 {
		if cached, err := c.cache.GetChatRooms(ctx); err != nil {
			c.logf("chatsync: room hydration failed: %v", err)
		} else if len(cached) > 0 {
			c.store.SetChatRooms(cached)
		}
	}

	c.store.SetLoading(true)
	rooms, err := c.client.ListChatRooms(ctx)
	c.store.SetLoading(false)
	if err != nil {
		c.store.SetError(fmt.Errorf("initial load: %w", err))
		c.logf("chatsync: initial load failed: %v", err)
		return err
	}

	c.store.SetChatRooms(rooms)
	c.store.SetError(nil)
	c.cacheSaveRooms(rooms)

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// ── Room activation & pagination ─────────────────────────

// ActivateRoom makes roomID the active room: the window is hydrated from
// cache first for immediate display, then the authoritative first page is
// fetched and merged. A response arriving after the user has switched rooms
// is still mirrored into the cache but never applied to the window.
func (c *Coordinator) ActivateRoom(ctx context.Context, roomID string) error {
	room, ok := c.store.ChatRoom(roomID)
	if !ok {
		return fmt.Errorf("activate room: unknown room %s", roomID)
	}
	c.store.SetCurrentRoom(&room)

	if c.cache != nil {
		if cached, err := c.cache.GetMessages(ctx, roomID); err != nil {
			c.logf("chatsync: hydration for room %s failed: %v", roomID, err)
		} else if len(cached) > 0 {
			c.store.PrependMessages(cached)
		}
	}

	c.store.SetLoading(true)
	page, err := c.client.GetMessages(ctx, roomID, 1, c.pageSize)
	c.store.SetLoading(false)
	if err != nil {
		c.store.SetError(fmt.Errorf("load messages: %w", err))
		c.logf("chatsync: message load for room %s failed: %v", roomID, err)
		return err
	}

	c.cacheSaveMessages(roomID, page.Messages)

	// Stale-response guard: the user may have moved on while the fetch was
	// in flight.
	if c.store.CurrentRoomID() != roomID {
		return nil
	}

	c.store.PrependMessages(page.Messages)
	c.store.SetHasMore(page.HasMore)
	c.store.SetPage(1)
	c.store.SetError(nil)
	return nil
}

// LoadOlder fetches the next older page for the active room and prepends
// it after dedup.
func (c *Coordinator) LoadOlder(ctx context.Context) error {
	roomID := c.store.CurrentRoomID()
	if roomID == "" {
		return fmt.Errorf("load older: no active room")
	}
	if !c.store.HasMore() || c.store.LoadingMore() {
		return nil
	}

	next := c.store.Page() + 1
	c.store.SetLoadingMore(true)
	page, err := c.client.GetMessages(ctx, roomID, next, c.pageSize)
	c.store.SetLoadingMore(false)
	if err != nil {
		c.store.SetError(fmt.Errorf("load older: %w", err))
		c.logf("chatsync: pagination for room %s failed: %v", roomID, err)
		return err
	}

	c.cacheSaveMessages(roomID, page.Messages)

	if c.store.CurrentRoomID() != roomID {
		return nil
	}

	c.store.PrependMessages(page.Messages)
	c.store.SetHasMore(page.HasMore)
	c.store.SetPage(next)
	c.store.SetError(nil)
	return nil
}

// ── Sending ──────────────────────────────────────────────

// SendMessage performs the two-phase optimistic send: a provisional message
// enters the window immediately, is replaced wholesale by the server copy on
// success, and is removed (with the error surfaced) on failure.
func (c *Coordinator) SendMessage(ctx context.Context, input SendMessageInput) (*Message, error) {
	provisional := Message{
		ID:          "local-" + uuid.NewString(),
		ChatRoomID:  input.ChatRoomID,
		SenderID:    c.userID,
		ReceiverID:  input.ReceiverID,
		Content:     input.Content,
		FileURL:     input.FileURL,
		FileName:    input.FileName,
		FileSize:    input.FileSize,
		IsRead:      false,
		CreatedAt:   time.Now().UTC(),
		Provisional: true,
	}

	active := c.store.CurrentRoomID() == input.ChatRoomID
	if active {
		c.store.AddMessage(provisional)
	}

	msg, err := c.client.SendMessage(ctx, input)
	if err != nil {
		if active {
			c.store.DropMessage(provisional.ID)
		}
		c.store.SetError(fmt.Errorf("send message: %w", err))
		return nil, err
	}

	c.markSeen(msg.ID) // the push echo of our own message is already applied
	if active {
		if !c.store.ReplaceMessage(provisional.ID, *msg) {
			c.store.AddMessage(*msg)
		}
	}
	c.store.UpdateChatRoom(input.ChatRoomID, RoomUpdate{
		LastMessage: msg,
		UpdatedAt:   &msg.CreatedAt,
	})
	c.cacheSaveMessages(input.ChatRoomID, []Message{*msg})
	return msg, nil
}

// ── Proxied writes ───────────────────────────────────────

// SetRoomMuted mutes or unmutes a room. Local state changes only after the
// backend confirms; failure leaves state untouched and surfaces an error.
func (c *Coordinator) SetRoomMuted(ctx context.Context, roomID string, muted bool) error {
	var err error
	if muted {
		err = c.client.MuteRoom(ctx, roomID)
	} else {
		err = c.client.UnmuteRoom(ctx, roomID)
	}
	if err != nil {
		c.store.SetError(fmt.Errorf("mute room: %w", err))
		return err
	}
	c.store.UpdateChatRoom(roomID, RoomUpdate{IsMuted: &muted})
	return nil
}

// SetRoomPinned pins or unpins a room, backend-first like SetRoomMuted.
func (c *Coordinator) SetRoomPinned(ctx context.Context, roomID string, pinned bool) error {
	var err error
	if pinned {
		err = c.client.PinRoom(ctx, roomID)
	} else {
		err = c.client.UnpinRoom(ctx, roomID)
	}
	if err != nil {
		c.store.SetError(fmt.Errorf("pin room: %w", err))
		return err
	}
	c.store.UpdateChatRoom(roomID, RoomUpdate{IsPinned: &pinned})
	return nil
}

// DeleteOrLeaveRoom deletes/hides/leaves the room server-side, then removes
// it locally (list, window if active, cache).
func (c *Coordinator) DeleteOrLeaveRoom(ctx context.Context, roomID string) (*DeleteRoomResult, error) {
	result, err := c.client.DeleteOrLeaveRoom(ctx, roomID)
	if err != nil {
		c.store.SetError(fmt.Errorf("delete room: %w", err))
		return nil, err
	}
	c.store.RemoveChatRoom(roomID)
	return result, nil
}

// MarkMessageRead marks one message read, backend-first; the unread counter
// moves in the same store transition.
func (c *Coordinator) MarkMessageRead(ctx context.Context, messageID string) error {
	if err := c.client.MarkMessageRead(ctx, messageID); err != nil {
		c.store.SetError(fmt.Errorf("mark read: %w", err))
		return err
	}
	isRead := true
	c.store.UpdateMessage(messageID, MessageUpdate{IsRead: &isRead})
	return nil
}

// MarkRoomRead clears a room's unread state, backend-first.
func (c *Coordinator) MarkRoomRead(ctx context.Context, roomID string) error {
	if err := c.client.MarkRoomRead(ctx, roomID); err != nil {
		c.store.SetError(fmt.Errorf("mark room read: %w", err))
		return err
	}
	c.store.MarkRoomRead(roomID)
	return nil
}

// ── Push event reconciliation ────────────────────────────

// HandlePushEvent is the single entry point for the push channel: whatever
// transport delivers events calls this with a well-typed envelope. Delivery
// is assumed at-least-once and unordered; an event referencing an unknown
// room or message is dropped with a log line, not retried.
func (c *Coordinator) HandlePushEvent(ev PushEvent) {
	switch ev.Type {
	case EventMessageCreated:
		var p MessageCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logf("chatsync: malformed %s event dropped: %v", ev.Type, err)
			return
		}
		c.applyMessageCreated(p.Message)

	case EventMessageRead:
		var p MessageReadPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logf("chatsync: malformed %s event dropped: %v", ev.Type, err)
			return
		}
		c.applyMessageRead(p)

	case EventRoomMuted:
		var p RoomFlagPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logf("chatsync: malformed %s event dropped: %v", ev.Type, err)
			return
		}
		if !c.store.UpdateChatRoom(p.RoomID, RoomUpdate{IsMuted: &p.On}) {
			c.logf("chatsync: %s for unknown room %s dropped", ev.Type, p.RoomID)
		}

	case EventRoomPinned:
		var p RoomFlagPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logf("chatsync: malformed %s event dropped: %v", ev.Type, err)
			return
		}
		if !c.store.UpdateChatRoom(p.RoomID, RoomUpdate{IsPinned: &p.On}) {
			c.logf("chatsync: %s for unknown room %s dropped", ev.Type, p.RoomID)
		}

	case EventParticipantRemoved:
		var p ParticipantRemovedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logf("chatsync: malformed %s event dropped: %v", ev.Type, err)
			return
		}
		c.applyParticipantRemoved(p)

	default:
		c.logf("chatsync: unknown push event %q dropped", ev.Type)
	}
}

func (c *Coordinator) applyMessageCreated(msg Message) {
	room, ok := c.store.ChatRoom(msg.ChatRoomID)
	if !ok {
		c.logf("chatsync: message %s for unknown room %s dropped", msg.ID, msg.ChatRoomID)
		return
	}

	// Cache merge is idempotent, safe before the redelivery check.
	c.cacheSaveMessages(msg.ChatRoomID, []Message{msg})

	if !c.markSeen(msg.ID) {
		return // redelivery
	}

	upd := RoomUpdate{UpdatedAt: &msg.CreatedAt}
	if room.LastMessage == nil || !msg.CreatedAt.Before(room.LastMessage.CreatedAt) {
		m := msg
		upd.LastMessage = &m
	}

	if c.store.CurrentRoomID() == msg.ChatRoomID {
		c.store.AddMessage(msg)
	} else if msg.SenderID != c.userID {
		c.store.AdjustUnread(msg.ChatRoomID, 1)
		if c.notifier != nil && !room.IsMuted {
			c.notifier.Notify(msg, room)
		}
	}

	c.store.UpdateChatRoom(msg.ChatRoomID, upd)
}

func (c *Coordinator) applyMessageRead(p MessageReadPayload) {
	isRead := true
	if c.store.UpdateMessage(p.MessageID, MessageUpdate{IsRead: &isRead}) {
		return // window hit: counter moved in the same transition
	}

	// Message outside the loaded window: move the room counter alone.
	if !c.store.AdjustUnread(p.ChatRoomID, -1) {
		c.logf("chatsync: read receipt for unknown room %s dropped", p.ChatRoomID)
	}
}

func (c *Coordinator) applyParticipantRemoved(p ParticipantRemovedPayload) {
	if p.UserID == c.userID {
		// We were removed: the room disappears from our view entirely.
		c.store.RemoveChatRoom(p.RoomID)
		return
	}

	room, ok := c.store.ChatRoom(p.RoomID)
	if !ok {
		c.logf("chatsync: participant removal for unknown room %s dropped", p.RoomID)
		return
	}
	filtered := make([]Participant, 0, len(room.Participants))
	for _, part := range room.Participants {
		if part.UserID != p.UserID {
			filtered = append(filtered, part)
		}
	}
	c.store.UpdateChatRoom(p.RoomID, RoomUpdate{Participants: &filtered})
}

// ── Resync & session ─────────────────────────────────────

// Resync heals state after a push-channel reconnect: the room list is
// refetched wholesale (one request fixes every room's counters and last
// message) and the active room's first page is re-merged.
func (c *Coordinator) Resync(ctx context.Context) error {
	if c.isAuthenticated == nil || !c.isAuthenticated() {
		return nil
	}

	rooms, err := c.client.ListChatRooms(ctx)
	if err != nil {
		c.store.SetError(fmt.Errorf("resync: %w", err))
		c.logf("chatsync: resync failed: %v", err)
		return err
	}
	c.store.SetChatRooms(rooms)
	c.cacheSaveRooms(rooms)

	roomID := c.store.CurrentRoomID()
	if roomID == "" {
		return nil
	}
	page, err := c.client.GetMessages(ctx, roomID, 1, c.pageSize)
	if err != nil {
		c.store.SetError(fmt.Errorf("resync messages: %w", err))
		c.logf("chatsync: resync for room %s failed: %v", roomID, err)
		return err
	}
	c.cacheSaveMessages(roomID, page.Messages)
	if c.store.CurrentRoomID() == roomID {
		c.store.PrependMessages(page.Messages)
	}
	c.store.SetError(nil)
	return nil
}

// SignOut resets the session: in-memory state is cleared and the cache is
// wiped. The next authenticated session starts with a fresh initial load.
func (c *Coordinator) SignOut(ctx context.Context) {
	c.store.Reset()
	if c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			c.logf("chatsync: cache clear failed: %v", err)
		}
	}
	c.mu.Lock()
	c.loaded = false
	c.seen = make(map[string]struct{})
	c.mu.Unlock()
}

// TotalUnread is the badge total over non-archived rooms.
func (c *Coordinator) TotalUnread() int {
	return c.store.TotalUnread()
}
