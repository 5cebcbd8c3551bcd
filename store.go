package chatsync

import (
	"context"
	"log"
	"sync"
)

// ============================================================================
// Chat State Store
// ============================================================================

// Store is the in-memory authoritative view for the current session: the
// room list, the active room and its loaded message window, and the
// loading/error flags. Every mutation runs under one mutex so interleaved
// async callers never observe a half-applied update.
//
// The Store mirrors room metadata changes into the CacheStore
// asynchronously; a mirror failure is logged and never rolls back the
// in-memory state.
type Store struct {
	mu sync.Mutex

	cache  CacheStore // may be nil (network-only mode)
	logger *log.Logger

	current     *ChatRoom
	messages    []Message // window for the active room only, ascending
	rooms       []ChatRoom
	loading     bool
	loadingMore bool
	err         error
	hasMore     bool
	page        int
}

// NewStore creates a Store. cache may be nil; logger defaults to the
// standard logger.
func NewStore(cache CacheStore, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{cache: cache, logger: logger}
}

func (s *Store) logf(format string, v ...any) {
	s.logger.Printf(format, v...)
}

// mirrorRoom pushes a room metadata update into the cache off the hot path.
func (s *Store) mirrorRoom(roomID string, upd RoomUpdate) {
	if s.cache == nil {
		return
	}
	go func() {
		if err := s.cache.UpdateChatRoom(context.Background(), roomID, upd); err != nil {
			s.logf("chatsync: cache mirror for room %s failed: %v", roomID, err)
		}
	}()
}

// ── Room list ────────────────────────────────────────────

// SetChatRooms replaces the room list wholesale. Only used after an
// authoritative fetch.
func (s *Store) SetChatRooms(rooms []ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make([]ChatRoom, len(rooms))
	copy(s.rooms, rooms)
}

// AddChatRoom upserts a room by id: a known room is replaced in place
// (stable position), an unknown one is inserted at the head to keep the
// most-recent-first list contract.
func (s *Store) AddChatRoom(room ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			if s.current != nil && s.current.ID == room.ID {
				cp := room
				s.current = &cp
			}
			return
		}
	}
	s.rooms = append([]ChatRoom{room}, s.rooms...)
}

// UpdateChatRoom merges upd into the room. If the room is active, the
// active view is updated in the same critical section so list and view
// never disagree. The update is mirrored into the cache asynchronously.
func (s *Store) UpdateChatRoom(roomID string, upd RoomUpdate) bool {
	s.mu.Lock()
	found := false
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			upd.Apply(&s.rooms[i])
			if s.current != nil && s.current.ID == roomID {
				cp := s.rooms[i]
				s.current = &cp
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.mirrorRoom(roomID, upd)
	}
	return found
}

// RemoveChatRoom drops the room from the list and the cache. If it was
// active, the active view and message window are cleared too.
func (s *Store) RemoveChatRoom(roomID string) {
	s.mu.Lock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			break
		}
	}
	if s.current != nil && s.current.ID == roomID {
		s.current = nil
		s.messages = nil
		s.hasMore = false
		s.page = 0
	}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteChatRoom(context.Background(), roomID); err != nil {
			s.logf("chatsync: cache delete for room %s failed: %v", roomID, err)
		}
	}
}

// ── Active room & window ─────────────────────────────────

// SetCurrentRoom activates a room (or deactivates with nil) and empties the
// window for the incoming room.
func (s *Store) SetCurrentRoom(room *ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room == nil {
		s.current = nil
	} else {
		cp := *room
		s.current = &cp
	}
	s.messages = nil
	s.hasMore = false
	s.page = 0
}

// CurrentRoom returns a copy of the active room, or nil.
func (s *Store) CurrentRoom() *ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// CurrentRoomID returns the active room's id, or "". Used as the
// stale-response guard by the Coordinator.
func (s *Store) CurrentRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// AddMessage appends a message to the window unless one with the same id is
// already present. This is the single dedup checkpoint for push-delivered
// messages racing optimistic or paginated inserts. The window stays
// ascending by CreatedAt.
func (s *Store) AddMessage(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			return false
		}
	}
	s.messages = mergeMessages(s.messages, []Message{msg})
	return true
}

// UpdateMessage merges upd into one message. When isRead transitions
// false→true, the owning room's UnreadCount is decremented by exactly one
// (never below zero) in the same transition and the decremented room is
// mirrored into the cache.
func (s *Store) UpdateMessage(messageID string, upd MessageUpdate) bool {
	s.mu.Lock()

	var msg *Message
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			msg = &s.messages[i]
			break
		}
	}
	if msg == nil {
		s.mu.Unlock()
		return false
	}

	becameRead := upd.IsRead != nil && *upd.IsRead && !msg.IsRead
	upd.Apply(msg)

	var mirror *RoomUpdate
	var roomID string
	if becameRead {
		for i := range s.rooms {
			if s.rooms[i].ID == msg.ChatRoomID && s.rooms[i].UnreadCount > 0 {
				s.rooms[i].UnreadCount--
				count := s.rooms[i].UnreadCount
				roomID = s.rooms[i].ID
				mirror = &RoomUpdate{UnreadCount: &count}
				if s.current != nil && s.current.ID == roomID {
					cp := s.rooms[i]
					s.current = &cp
				}
				break
			}
		}
	}
	s.mu.Unlock()

	if mirror != nil {
		s.mirrorRoom(roomID, *mirror)
	}
	return true
}

// AdjustUnread moves a room's UnreadCount by delta in one transition,
// never below zero, and mirrors the new counter into the cache. The
// read-modify-write stays inside the lock so concurrent adjustments cannot
// clobber each other. It reports whether the room is known.
func (s *Store) AdjustUnread(roomID string, delta int) bool {
	s.mu.Lock()

	var mirror *RoomUpdate
	found := false
	for i := range s.rooms {
		if s.rooms[i].ID != roomID {
			continue
		}
		found = true
		count := s.rooms[i].UnreadCount + delta
		if count < 0 {
			count = 0
		}
		if count != s.rooms[i].UnreadCount {
			s.rooms[i].UnreadCount = count
			if s.current != nil && s.current.ID == roomID {
				cp := s.rooms[i]
				s.current = &cp
			}
			c := count
			mirror = &RoomUpdate{UnreadCount: &c}
		}
		break
	}
	s.mu.Unlock()

	if mirror != nil {
		s.mirrorRoom(roomID, *mirror)
	}
	return found
}

// MarkRoomRead flags every window message of the room read and zeroes the
// room's UnreadCount in one transition, mirroring the zeroed counter into
// the cache.
func (s *Store) MarkRoomRead(roomID string) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ChatRoomID == roomID {
			s.messages[i].IsRead = true
		}
	}
	found := false
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms[i].UnreadCount = 0
			if s.current != nil && s.current.ID == roomID {
				cp := s.rooms[i]
				s.current = &cp
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		zero := 0
		s.mirrorRoom(roomID, RoomUpdate{UnreadCount: &zero})
	}
}

// ReplaceMessage swaps the message with oldID for the server-confirmed
// replacement, wholesale. Used when an optimistic send is confirmed.
func (s *Store) ReplaceMessage(oldID string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == oldID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.messages = mergeMessages(s.messages, []Message{msg})
			return true
		}
	}
	return false
}

// DropMessage removes a message from the window (failed optimistic send).
func (s *Store) DropMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// PrependMessages merges an older page into the window, filtering ids
// already present and preserving ascending order overall.
func (s *Store) PrependMessages(older []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := older[:0:0]
	for _, m := range older {
		known := false
		for i := range s.messages {
			if s.messages[i].ID == m.ID {
				known = true
				break
			}
		}
		if !known {
			fresh = append(fresh, m)
		}
	}
	s.messages = mergeMessages(fresh, s.messages)
}

// ClearMessages empties the active window only; the cache keeps its copy.
func (s *Store) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.hasMore = false
	s.page = 0
}

// ── Reads ────────────────────────────────────────────────

// ChatRooms returns a copy of the room list.
func (s *Store) ChatRooms() []ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRoom, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// ChatRoom returns a copy of one room by id.
func (s *Store) ChatRoom(roomID string) (ChatRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			return s.rooms[i], true
		}
	}
	return ChatRoom{}, false
}

// Messages returns a copy of the active window, ascending by CreatedAt.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TotalUnread is the badge total: the sum of UnreadCount over non-archived
// rooms. Counters are maintained incrementally, so this never rescans
// messages.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for i := range s.rooms {
		if !s.rooms[i].IsArchived {
			total += s.rooms[i].UnreadCount
		}
	}
	return total
}

// ── Flags ────────────────────────────────────────────────

func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) SetLoadingMore(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingMore = v
}

func (s *Store) LoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}

// SetError records the last error for UI rendering. Loading flags clear
// elsewhere; previously loaded data stays visible.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) SetHasMore(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasMore = v
}

func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Store) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
}

func (s *Store) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Reset clears everything. Used at sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.messages = nil
	s.rooms = nil
	s.loading = false
	s.loadingMore = false
	s.err = nil
	s.hasMore = false
	s.page = 0
}
