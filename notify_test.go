package chatsync_test

import (
	"testing"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
)

func TestNotifier_Notify(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(0))

	msg := makeMessage("m1", "r1", 0)
	msg.Sender = &chatsync.User{FirstName: "Olena", LastName: "K"}
	room := makeRoom("r1", 0)

	var received []chatsync.Toast
	n.OnToast(func(toast chatsync.Toast) { received = append(received, toast) })

	n.Notify(msg, room)

	toasts := n.Toasts()
	if len(toasts) != 1 {
		t.Fatalf("expected 1 toast, got %d", len(toasts))
	}
	toast := toasts[0]
	if toast.MessageID != "m1" || toast.RoomID != "r1" {
		t.Errorf("unexpected toast: %+v", toast)
	}
	if toast.Sender != "Olena K" {
		t.Errorf("expected sender name, got %q", toast.Sender)
	}
	if toast.Body != msg.Content {
		t.Errorf("expected message content as body, got %q", toast.Body)
	}
	if len(received) != 1 {
		t.Errorf("handler should fire once, fired %d times", len(received))
	}
}

func TestNotifier_DedupWhileVisible(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(0))

	msg := makeMessage("m1", "r1", 0)
	room := makeRoom("r1", 0)

	n.Notify(msg, room)
	n.Notify(msg, room)

	if got := len(n.Toasts()); got != 1 {
		t.Fatalf("a visible message must not toast twice, got %d", got)
	}

	// Once dismissed, the same message may toast again.
	n.Dismiss(n.Toasts()[0].ID)
	n.Notify(msg, room)
	if got := len(n.Toasts()); got != 1 {
		t.Errorf("expected a fresh toast after dismissal, got %d", got)
	}
}

func TestNotifier_Dismiss(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(0))
	room := makeRoom("r1", 0)

	n.Notify(makeMessage("m1", "r1", 0), room)
	n.Notify(makeMessage("m2", "r1", 0), room)

	toasts := n.Toasts()
	n.Dismiss(toasts[0].ID)

	remaining := n.Toasts()
	if len(remaining) != 1 || remaining[0].MessageID != "m2" {
		t.Errorf("expected only the second toast to remain: %+v", remaining)
	}

	// Dismissing an unknown id is harmless.
	n.Dismiss("no-such-toast")
	if got := len(n.Toasts()); got != 1 {
		t.Errorf("unknown dismiss must not remove anything, got %d", got)
	}
}

func TestNotifier_DismissAll(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(0))
	room := makeRoom("r1", 0)

	n.Notify(makeMessage("m1", "r1", 0), room)
	n.Notify(makeMessage("m2", "r1", 0), room)

	n.DismissAll()
	if got := len(n.Toasts()); got != 0 {
		t.Errorf("expected no toasts, got %d", got)
	}
}

func TestNotifier_AutoDismiss(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(20 * time.Millisecond))
	n.Notify(makeMessage("m1", "r1", 0), makeRoom("r1", 0))

	if got := len(n.Toasts()); got != 1 {
		t.Fatalf("expected 1 visible toast, got %d", got)
	}

	deadline := time.After(2 * time.Second)
	for len(n.Toasts()) > 0 {
		select {
		case <-deadline:
			t.Fatal("toast was not auto-dismissed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNotifier_FileMessageBody(t *testing.T) {
	n := chatsync.NewNotifier(chatsync.WithToastTTL(0))

	msg := makeMessage("m1", "r1", 0)
	msg.Content = ""
	msg.FileName = "manifest.pdf"
	n.Notify(msg, makeRoom("r1", 0))

	toasts := n.Toasts()
	if len(toasts) != 1 || toasts[0].Body != "manifest.pdf" {
		t.Errorf("file-only messages should fall back to the file name: %+v", toasts)
	}
	// Messages delivered without an embedded sender toast with no name.
	if toasts[0].Sender != "" {
		t.Errorf("expected empty sender name, got %q", toasts[0].Sender)
	}
}
