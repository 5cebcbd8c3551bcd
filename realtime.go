package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Push channel
// ============================================================================

// PushState represents the push connection state.
type PushState string

const (
	StateDisconnected PushState = "disconnected"
	StateConnecting   PushState = "connecting"
	StateConnected    PushState = "connected"
	StateReconnecting PushState = "reconnecting"
)

// PushConfig configures the push channel.
type PushConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int // 0 means unlimited
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *PushConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// PushHandler consumes every decoded push event. Coordinator.HandlePushEvent
// satisfies it directly.
type PushHandler func(PushEvent)

// ── Dispatcher ───────────────────────────────────────────

type pushDispatcher struct {
	mu             sync.RWMutex
	handlers       []PushHandler
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func (d *pushDispatcher) dispatch(ev PushEvent) {
	d.mu.RLock()
	handlers := append([]PushHandler(nil), d.handlers...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (d *pushDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *pushDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (d *pushDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ── Reconnector ──────────────────────────────────────────

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *PushConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns the attempt number alongside the delay so callers never
// re-read the mutable attempt counter.
func (r *reconnector) nextDelay() (int, time.Duration) {
	// A connection that held for a minute earns a fresh backoff ladder.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return r.attempt, delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ── PushClient ───────────────────────────────────────────

// PushClient is the WebSocket push channel with auto-reconnect and
// heartbeat. It is receive-only: the backend pushes event envelopes, the
// client never sends application messages.
type PushClient struct {
	baseURL string
	config  *PushConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            PushState
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *pushDispatcher
	recon      *reconnector
}

// NewPushClient creates a push channel client for the given backend base
// URL. Connect must be called before events flow.
func NewPushClient(baseURL string, config PushConfig) *PushClient {
	config.defaults()
	return &PushClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		config:     &config,
		state:      StateDisconnected,
		dispatcher: &pushDispatcher{},
		recon:      newReconnector(&config),
	}
}

// OnEvent registers a handler for every decoded push event.
func (pc *PushClient) OnEvent(h PushHandler) {
	pc.dispatcher.mu.Lock()
	pc.dispatcher.handlers = append(pc.dispatcher.handlers, h)
	pc.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event. This is
// where a Coordinator's Resync belongs: it fires on every (re)connect.
func (pc *PushClient) OnConnected(h func()) {
	pc.dispatcher.mu.Lock()
	pc.dispatcher.onConnected = append(pc.dispatcher.onConnected, h)
	pc.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (pc *PushClient) OnDisconnected(h func(reason string)) {
	pc.dispatcher.mu.Lock()
	pc.dispatcher.onDisconnected = append(pc.dispatcher.onDisconnected, h)
	pc.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (pc *PushClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	pc.dispatcher.mu.Lock()
	pc.dispatcher.onReconnecting = append(pc.dispatcher.onReconnecting, h)
	pc.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (pc *PushClient) State() PushState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// Connect establishes the WebSocket connection and starts the read and
// heartbeat loops. Calling Connect while connected or connecting is a no-op.
func (pc *PushClient) Connect(ctx context.Context) error {
	pc.mu.Lock()
	if pc.state == StateConnected || pc.state == StateConnecting {
		pc.mu.Unlock()
		return nil
	}
	pc.state = StateConnecting
	pc.intentionalClose = false
	pc.mu.Unlock()

	wsURL := strings.Replace(pc.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v1/chat/ws?token=" + pc.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		pc.mu.Lock()
		pc.state = StateDisconnected
		pc.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	pc.mu.Lock()
	pc.conn = conn
	pc.state = StateConnected
	pc.cancelFn = cancel
	pc.mu.Unlock()
	pc.recon.markConnected()

	pc.dispatcher.emitConnected()

	go pc.readLoop(connCtx, conn)
	go pc.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect gracefully closes the connection and disables reconnection.
func (pc *PushClient) Disconnect() error {
	pc.mu.Lock()
	pc.intentionalClose = true
	if pc.cancelFn != nil {
		pc.cancelFn()
		pc.cancelFn = nil
	}
	conn := pc.conn
	pc.conn = nil
	pc.state = StateDisconnected
	pc.mu.Unlock()

	pc.recon.reset()

	var err error
	if conn != nil {
		// The read loop returns silently on an intentional close, so the
		// meta-event is emitted here for both branches.
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	pc.dispatcher.emitDisconnected("client disconnect")
	return err
}

func (pc *PushClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			pc.mu.Lock()
			intentional := pc.intentionalClose
			pc.state = StateDisconnected
			pc.conn = nil
			pc.mu.Unlock()
			if intentional {
				return
			}

			pc.dispatcher.emitDisconnected(err.Error())

			if pc.config.AutoReconnect && pc.recon.shouldReconnect() {
				pc.scheduleReconnect()
			}
			return
		}

		var ev PushEvent
		if json.Unmarshal(data, &ev) != nil || ev.Type == "" {
			continue
		}
		pc.dispatcher.dispatch(ev)
	}
}

func (pc *PushClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Dead connection; closing it unblocks the read loop, which
				// owns the reconnect decision.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (pc *PushClient) scheduleReconnect() {
	attempt, delay := pc.recon.nextDelay()
	pc.mu.Lock()
	pc.state = StateReconnecting
	pc.mu.Unlock()

	pc.dispatcher.emitReconnecting(attempt, delay)

	time.Sleep(delay)

	pc.mu.Lock()
	if pc.intentionalClose {
		pc.mu.Unlock()
		return
	}
	pc.state = StateDisconnected
	pc.mu.Unlock()

	if err := pc.Connect(context.Background()); err != nil {
		if pc.config.AutoReconnect && pc.recon.shouldReconnect() {
			pc.scheduleReconnect()
		} else {
			pc.mu.Lock()
			pc.state = StateDisconnected
			pc.mu.Unlock()
		}
	}
}
