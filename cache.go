package chatsync

import (
	"context"
	"sort"
	"sync"
)

// ============================================================================
// Persistent Cache Store
// ============================================================================

// CacheStore is the durable local cache for chat rooms and message history.
// It is written by the Coordinator and the Store's mirroring side-effects,
// never by UI code. A failing cache degrades to network-only operation:
// callers log errors and carry on.
type CacheStore interface {
	// GetMessages returns a room's cached history ascending by CreatedAt.
	// Unknown rooms yield an empty slice, not an error.
	GetMessages(ctx context.Context, roomID string) ([]Message, error)

	// SaveMessages merges messages into the room's stored set, deduplicating
	// by id and preserving ascending order. Idempotent.
	SaveMessages(ctx context.Context, roomID string, msgs []Message) error

	// GetChatRooms returns all cached room metadata, most recently updated
	// first.
	GetChatRooms(ctx context.Context) ([]ChatRoom, error)

	// SaveChatRooms upserts room metadata wholesale. This is the first-write
	// path; UpdateChatRoom deliberately is not.
	SaveChatRooms(ctx context.Context, rooms []ChatRoom) error

	// UpdateChatRoom applies a field-level merge to cached room metadata.
	// Silently no-ops when the room is not cached yet.
	UpdateChatRoom(ctx context.Context, roomID string, upd RoomUpdate) error

	// DeleteChatRoom removes all cached messages and metadata for the room.
	DeleteChatRoom(ctx context.Context, roomID string) error

	// Clear wipes all rooms and messages. Used on sign-out.
	Clear(ctx context.Context) error
}

// mergeMessages merges incoming into existing: dedup by id (incoming wins),
// ascending by CreatedAt, ties broken by arrival order. Shared by the cache
// backends and the Store's window operations.
func mergeMessages(existing, incoming []Message) []Message {
	index := make(map[string]int, len(existing))
	merged := make([]Message, len(existing))
	copy(merged, existing)
	for i, m := range merged {
		index[m.ID] = i
	}

	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	// Stable sort keeps arrival order for equal timestamps.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// ============================================================================
// MemoryCache
// ============================================================================

// MemoryCache is a goroutine-safe in-memory CacheStore. It backs tests and
// ephemeral sessions; nothing survives a restart.
type MemoryCache struct {
	mu       sync.RWMutex
	rooms    map[string]ChatRoom
	messages map[string][]Message // per room, ascending
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		rooms:    make(map[string]ChatRoom),
		messages: make(map[string][]Message),
	}
}

func (c *MemoryCache) GetMessages(ctx context.Context, roomID string) ([]Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[roomID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *MemoryCache) SaveMessages(ctx context.Context, roomID string, msgs []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[roomID] = mergeMessages(c.messages[roomID], msgs)
	return nil
}

func (c *MemoryCache) GetChatRooms(ctx context.Context) ([]ChatRoom, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]ChatRoom, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return rooms, nil
}

func (c *MemoryCache) SaveChatRooms(ctx context.Context, rooms []ChatRoom) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rooms {
		c.rooms[r.ID] = r
	}
	return nil
}

func (c *MemoryCache) UpdateChatRoom(ctx context.Context, roomID string, upd RoomUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	upd.Apply(&room)
	c.rooms[roomID] = room
	return nil
}

func (c *MemoryCache) DeleteChatRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
	delete(c.messages, roomID)
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string]ChatRoom)
	c.messages = make(map[string][]Message)
	return nil
}
