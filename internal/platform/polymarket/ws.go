package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polycopy/polycopy/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TradeHandler is called for every trade event received on the user channel.
type TradeHandler func(WSTradeMessage)

// UserWSClient is a WebSocket client for the Polymarket CLOB user channel,
// which streams the authenticated account's trades in real time. It manages
// the connection lifecycle, re-authenticates on reconnect, and dispatches
// trade events to registered handlers.
type UserWSClient struct {
	wsURL string
	auth  WSAuth
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	handlers  []TradeHandler
	handlerMu sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewUserWSClient creates a WebSocket client for the user channel.
//
// wsURL is the CLOB WebSocket endpoint root, e.g.
// "wss://ws-subscriptions-clob.polymarket.com"; the "/ws/user" path is
// appended automatically.
func NewUserWSClient(wsURL string, auth WSAuth) *UserWSClient {
	return &UserWSClient{
		wsURL: wsURL + "/ws/user",
		auth:  auth,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and sends the authenticated
// user-channel subscription.
func (w *UserWSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Authenticate and subscribe. The subscription must be re-sent after
	// every reconnect.
	sub := WSSubscribe{
		Auth: w.auth,
		Type: "user",
	}
	if err := w.sendJSON(sub); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe user channel: %w", err)
	}

	return nil
}

// OnTrade registers a handler that is called for every trade event received
// on the user channel.
func (w *UserWSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *UserWSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendJSON sends a JSON payload to the WebSocket. Caller must hold w.mu.
func (w *UserWSClient) sendJSON(v any) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to handlers. It runs in its own goroutine. On disconnect, it
// attempts to reconnect with exponential backoff.
func (w *UserWSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *UserWSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and dispatches trade events. The user
// channel delivers either a single event object or an array of events.
func (w *UserWSClient) handleMessage(raw []byte) {
	var msgs []WSTradeMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		var single WSTradeMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return // Silently drop unparseable messages.
		}
		msgs = []WSTradeMessage{single}
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, m := range msgs {
		if m.EventType != "trade" {
			continue
		}
		for _, h := range handlers {
			h(m)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *UserWSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
