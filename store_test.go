package chatsync_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
)

// helpers ---------------------------------------------------------------

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func makeMessage(id, roomID string, offset time.Duration) chatsync.Message {
	return chatsync.Message{
		ID:         id,
		ChatRoomID: roomID,
		SenderID:   "user-2",
		Content:    "message " + id,
		CreatedAt:  testBase.Add(offset),
	}
}

func makeRoom(id string, unread int) chatsync.ChatRoom {
	return chatsync.ChatRoom{
		ID:          id,
		Type:        chatsync.RoomDirect,
		Name:        "room " + id,
		UnreadCount: unread,
		UpdatedAt:   testBase,
	}
}

func newTestStore() *chatsync.Store {
	return chatsync.NewStore(chatsync.NewMemoryCache(), nil)
}

func activateRoom(t *testing.T, s *chatsync.Store, room chatsync.ChatRoom) {
	t.Helper()
	s.SetChatRooms([]chatsync.ChatRoom{room})
	s.SetCurrentRoom(&room)
}

// =======================================================================
// Message window
// =======================================================================

func TestStore_AddMessage_Dedup(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	msg := makeMessage("m1", "r1", 0)
	if !s.AddMessage(msg) {
		t.Fatal("first AddMessage should report a new message")
	}
	if s.AddMessage(msg) {
		t.Error("second AddMessage of the same id should report a duplicate")
	}
	if got := len(s.Messages()); got != 1 {
		t.Errorf("expected 1 message, got %d", got)
	}
}

func TestStore_AddMessage_OrderedByCreatedAt(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	// Arrive out of order.
	s.AddMessage(makeMessage("m3", "r1", 3*time.Minute))
	s.AddMessage(makeMessage("m1", "r1", 1*time.Minute))
	s.AddMessage(makeMessage("m2", "r1", 2*time.Minute))

	msgs := s.Messages()
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestStore_AddMessage_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	s.AddMessage(makeMessage("first", "r1", 0))
	s.AddMessage(makeMessage("second", "r1", 0))
	s.AddMessage(makeMessage("third", "r1", 0))

	msgs := s.Messages()
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestStore_PrependMessages_SkipsKnownIDs(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	s.AddMessage(makeMessage("m2", "r1", 2*time.Minute))

	s.PrependMessages([]chatsync.Message{
		makeMessage("m1", "r1", 1*time.Minute),
		makeMessage("m2", "r1", 2*time.Minute), // already in the window
	})

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("unexpected order: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestStore_ReplaceMessage(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	prov := makeMessage("local-abc", "r1", 0)
	prov.Provisional = true
	s.AddMessage(prov)

	confirmed := makeMessage("srv-1", "r1", 0)
	if !s.ReplaceMessage("local-abc", confirmed) {
		t.Fatal("ReplaceMessage should find the provisional message")
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Provisional {
		t.Errorf("expected confirmed server message, got %+v", msgs[0])
	}

	if s.ReplaceMessage("local-abc", confirmed) {
		t.Error("replacing an absent id should report false")
	}
}

func TestStore_DropMessage(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))

	s.AddMessage(makeMessage("m1", "r1", 0))
	if !s.DropMessage("m1") {
		t.Fatal("DropMessage should find the message")
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("expected empty window, got %d messages", got)
	}
	if s.DropMessage("m1") {
		t.Error("dropping twice should report false")
	}
}

// =======================================================================
// Read receipts & unread counters
// =======================================================================

func TestStore_UpdateMessage_ReadDecrementsUnreadOnce(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 2))
	s.AddMessage(makeMessage("m1", "r1", 0))

	isRead := true
	upd := chatsync.MessageUpdate{IsRead: &isRead}

	if !s.UpdateMessage("m1", upd) {
		t.Fatal("UpdateMessage should find the message")
	}
	room, _ := s.ChatRoom("r1")
	if room.UnreadCount != 1 {
		t.Fatalf("expected unread 1 after first read, got %d", room.UnreadCount)
	}

	// Redelivered receipt: message already read, counter must not move.
	s.UpdateMessage("m1", upd)
	room, _ = s.ChatRoom("r1")
	if room.UnreadCount != 1 {
		t.Errorf("expected unread to stay 1 after redelivery, got %d", room.UnreadCount)
	}
}

func TestStore_UpdateMessage_ReadNeverGoesNegative(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))
	s.AddMessage(makeMessage("m1", "r1", 0))

	isRead := true
	s.UpdateMessage("m1", chatsync.MessageUpdate{IsRead: &isRead})

	room, _ := s.ChatRoom("r1")
	if room.UnreadCount != 0 {
		t.Errorf("expected unread to stay 0, got %d", room.UnreadCount)
	}
}

func TestStore_MarkRoomRead(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 5))
	s.AddMessage(makeMessage("m1", "r1", 0))
	s.AddMessage(makeMessage("m2", "r1", time.Minute))

	s.MarkRoomRead("r1")

	room, _ := s.ChatRoom("r1")
	if room.UnreadCount != 0 {
		t.Errorf("expected unread 0, got %d", room.UnreadCount)
	}
	for _, m := range s.Messages() {
		if !m.IsRead {
			t.Errorf("message %s should be read", m.ID)
		}
	}
}

func TestStore_AdjustUnread(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 1))

	if !s.AdjustUnread("r1", 1) {
		t.Fatal("AdjustUnread should find the room")
	}
	room, _ := s.ChatRoom("r1")
	if room.UnreadCount != 2 {
		t.Fatalf("expected unread 2, got %d", room.UnreadCount)
	}

	// The counter clamps at zero.
	s.AdjustUnread("r1", -5)
	room, _ = s.ChatRoom("r1")
	if room.UnreadCount != 0 {
		t.Errorf("expected unread clamped at 0, got %d", room.UnreadCount)
	}

	// The active room copy moves in the same transition.
	s.AdjustUnread("r1", 1)
	if current := s.CurrentRoom(); current == nil || current.UnreadCount != 1 {
		t.Error("active room copy should reflect the adjustment")
	}

	if s.AdjustUnread("ghost", 1) {
		t.Error("adjusting an unknown room should report false")
	}
}

func TestStore_AdjustUnread_ConcurrentIncrements(t *testing.T) {
	s := newTestStore()
	s.SetChatRooms([]chatsync.ChatRoom{makeRoom("r1", 0)})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AdjustUnread("r1", 1)
		}()
	}
	wg.Wait()

	room, _ := s.ChatRoom("r1")
	if room.UnreadCount != 50 {
		t.Errorf("expected unread 50 after concurrent increments, got %d", room.UnreadCount)
	}
}

func TestStore_TotalUnread_SkipsArchivedRooms(t *testing.T) {
	s := newTestStore()
	archived := makeRoom("r2", 7)
	archived.IsArchived = true
	s.SetChatRooms([]chatsync.ChatRoom{makeRoom("r1", 3), archived, makeRoom("r3", 2)})

	if got := s.TotalUnread(); got != 5 {
		t.Errorf("expected total unread 5, got %d", got)
	}
}

// =======================================================================
// Room list
// =======================================================================

func TestStore_AddChatRoom_UpsertsInPlace(t *testing.T) {
	s := newTestStore()
	s.SetChatRooms([]chatsync.ChatRoom{makeRoom("r1", 0), makeRoom("r2", 0)})

	updated := makeRoom("r2", 4)
	updated.Name = "renamed"
	s.AddChatRoom(updated)

	rooms := s.ChatRooms()
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[1].ID != "r2" || rooms[1].Name != "renamed" || rooms[1].UnreadCount != 4 {
		t.Errorf("upsert should replace in place: %+v", rooms[1])
	}

	s.AddChatRoom(makeRoom("r0", 0))
	rooms = s.ChatRooms()
	if rooms[0].ID != "r0" {
		t.Errorf("new room should be inserted at the head, got %s first", rooms[0].ID)
	}
}

func TestStore_UpdateChatRoom_SyncsCurrentRoom(t *testing.T) {
	s := newTestStore()
	room := makeRoom("r1", 0)
	activateRoom(t, s, room)

	muted := true
	if !s.UpdateChatRoom("r1", chatsync.RoomUpdate{IsMuted: &muted}) {
		t.Fatal("UpdateChatRoom should find the room")
	}

	current := s.CurrentRoom()
	if current == nil || !current.IsMuted {
		t.Error("active room copy should reflect the update")
	}
}

func TestStore_UpdateChatRoom_UnknownRoom(t *testing.T) {
	s := newTestStore()
	muted := true
	if s.UpdateChatRoom("ghost", chatsync.RoomUpdate{IsMuted: &muted}) {
		t.Error("updating an unknown room should report false")
	}
}

func TestStore_RemoveChatRoom_ClearsActiveState(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 0))
	s.AddMessage(makeMessage("m1", "r1", 0))
	s.SetHasMore(true)
	s.SetPage(3)

	s.RemoveChatRoom("r1")

	if s.CurrentRoom() != nil {
		t.Error("active room should be cleared")
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("window should be empty, got %d messages", got)
	}
	if s.HasMore() || s.Page() != 0 {
		t.Error("pagination state should reset")
	}
	if _, ok := s.ChatRoom("r1"); ok {
		t.Error("room should be gone from the list")
	}
}

func TestStore_SetCurrentRoom_EmptiesWindow(t *testing.T) {
	s := newTestStore()
	r1, r2 := makeRoom("r1", 0), makeRoom("r2", 0)
	s.SetChatRooms([]chatsync.ChatRoom{r1, r2})

	s.SetCurrentRoom(&r1)
	s.AddMessage(makeMessage("m1", "r1", 0))

	s.SetCurrentRoom(&r2)
	if got := len(s.Messages()); got != 0 {
		t.Errorf("switching rooms should empty the window, got %d messages", got)
	}
	if s.CurrentRoomID() != "r2" {
		t.Errorf("expected active room r2, got %s", s.CurrentRoomID())
	}
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore()
	activateRoom(t, s, makeRoom("r1", 3))
	s.AddMessage(makeMessage("m1", "r1", 0))
	s.SetError(fmt.Errorf("boom"))

	s.Reset()

	if len(s.ChatRooms()) != 0 || len(s.Messages()) != 0 {
		t.Error("reset should clear rooms and messages")
	}
	if s.CurrentRoom() != nil || s.Error() != nil {
		t.Error("reset should clear the active room and error")
	}
}
