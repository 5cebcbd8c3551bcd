package chatsync

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ============================================================================
// Notification surface
// ============================================================================

// DefaultToastTTL is how long a toast stays visible before auto-dismissal.
const DefaultToastTTL = 5 * time.Second

// Toast is one visible notification for a message that arrived in an
// inactive room.
type Toast struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ToastHandler receives each toast as it becomes visible.
type ToastHandler func(Toast)

// Notifier keeps the set of currently visible toasts. At most one toast is
// visible per message id; importantly the dedup window is the visible set,
// so a message can toast again after its earlier toast was dismissed.
type Notifier struct {
	ttl    time.Duration
	logger *log.Logger

	mu       sync.Mutex
	toasts   []Toast
	byMsg    map[string]string // message id -> visible toast id
	timers   map[string]*time.Timer
	handlers []ToastHandler
}

type NotifierOption func(*Notifier)

// WithToastTTL overrides the auto-dismiss delay. A zero or negative TTL
// disables auto-dismissal entirely.
func WithToastTTL(ttl time.Duration) NotifierOption {
	return func(n *Notifier) { n.ttl = ttl }
}

func WithNotifierLogger(logger *log.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		ttl:    DefaultToastTTL,
		logger: log.Default(),
		byMsg:  make(map[string]string),
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// OnToast registers a handler invoked for every new toast. Handlers run
// synchronously inside Notify; keep them fast.
func (n *Notifier) OnToast(h ToastHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Notify raises a toast for msg unless one for the same message is already
// visible.
func (n *Notifier) Notify(msg Message, room ChatRoom) {
	n.mu.Lock()
	if _, visible := n.byMsg[msg.ID]; visible {
		n.mu.Unlock()
		return
	}

	now := time.Now()
	t := Toast{
		ID:        fmt.Sprintf("%s-%d", msg.ID, now.UnixNano()),
		MessageID: msg.ID,
		RoomID:    room.ID,
		RoomName:  room.Name,
		Body:      msg.Content,
		CreatedAt: now,
	}
	if msg.Sender != nil {
		t.Sender = msg.Sender.FirstName + " " + msg.Sender.LastName
	}
	if t.Body == "" && msg.FileName != "" {
		t.Body = msg.FileName
	}

	n.toasts = append(n.toasts, t)
	n.byMsg[msg.ID] = t.ID
	if n.ttl > 0 {
		id := t.ID
		n.timers[id] = time.AfterFunc(n.ttl, func() { n.Dismiss(id) })
	}
	handlers := append([]ToastHandler(nil), n.handlers...)
	n.mu.Unlock()

	for _, h := range handlers {
		h(t)
	}
}

// Dismiss removes a toast by id. Unknown ids are a no-op so that a manual
// dismissal racing the auto-dismiss timer is harmless.
func (n *Notifier) Dismiss(toastID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, t := range n.toasts {
		if t.ID != toastID {
			continue
		}
		n.toasts = append(n.toasts[:i], n.toasts[i+1:]...)
		delete(n.byMsg, t.MessageID)
		if timer, ok := n.timers[toastID]; ok {
			timer.Stop()
			delete(n.timers, toastID)
		}
		return
	}
}

// DismissAll clears every visible toast.
func (n *Notifier) DismissAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	n.toasts = nil
	n.byMsg = make(map[string]string)
}

// Toasts returns a copy of the visible toasts in arrival order.
func (n *Notifier) Toasts() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Toast, len(n.toasts))
	copy(out, n.toasts)
	return out
}
