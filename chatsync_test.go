package chatsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
)

func TestClient_ListChatRooms(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/rooms" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeOK(w, []chatsync.ChatRoom{makeRoom("r1", 2)})
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("secret"))
	rooms, err := client.ListChatRooms(context.Background())
	if err != nil {
		t.Fatalf("ListChatRooms returned error: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" || rooms[0].UnreadCount != 2 {
		t.Errorf("unexpected rooms: %+v", rooms)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
}

func TestClient_GetMessages_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "3" || q.Get("limit") != "25" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		writeOK(w, chatsync.MessagesPage{
			Messages: []chatsync.Message{makeMessage("m1", "r1", 0)},
			HasMore:  true,
			Total:    120,
		})
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("x"))
	page, err := client.GetMessages(context.Background(), "r1", 3, 25)
	if err != nil {
		t.Fatalf("GetMessages returned error: %v", err)
	}
	if len(page.Messages) != 1 || !page.HasMore || page.Total != 120 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestClient_GetMessages_Defaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "1" || q.Get("limit") != "50" {
			t.Errorf("expected defaulted paging, got %s", r.URL.RawQuery)
		}
		writeOK(w, chatsync.MessagesPage{})
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("x"))
	if _, err := client.GetMessages(context.Background(), "r1", 0, -5); err != nil {
		t.Fatalf("GetMessages returned error: %v", err)
	}
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var input chatsync.SendMessageInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("cannot decode body: %v", err)
		}
		writeOK(w, chatsync.Message{
			ID:         "srv-1",
			ChatRoomID: input.ChatRoomID,
			Content:    input.Content,
			CreatedAt:  time.Now().UTC(),
		})
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("x"))
	msg, err := client.SendMessage(context.Background(), chatsync.SendMessageInput{
		ChatRoomID: "r1",
		Content:    "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if msg.ID != "srv-1" || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, "ROOM_NOT_FOUND", "no such room")
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("x"))
	_, err := client.ListChatRooms(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *chatsync.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "ROOM_NOT_FOUND" {
		t.Errorf("unexpected code %q", apiErr.Code)
	}
}

func TestClient_DeleteOrLeaveRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		writeOK(w, chatsync.DeleteRoomResult{Hidden: true})
	}))
	defer srv.Close()

	client := chatsync.NewClient(srv.URL, chatsync.WithToken("x"))
	result, err := client.DeleteOrLeaveRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("DeleteOrLeaveRoom returned error: %v", err)
	}
	if !result.Hidden || result.Deleted || result.Left {
		t.Errorf("unexpected result: %+v", result)
	}
}
