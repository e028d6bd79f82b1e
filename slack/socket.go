package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	parley "github.com/ostramo/parley"
)

// Transport states.
const (
	StateDisconnected = "disconnected"
	StateFetchingURL  = "fetching_url"
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateClosing      = "closing"
)

// Defaults for the socket loop.
const (
	DefaultPingInterval      = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultReconnectAttempts = 5

	// readTimeout keeps the receive loop responsive to pings and
	// shutdown.
	readTimeout = 5 * time.Second

	// eventQueueSize bounds the dispatch backlog before reception
	// blocks.
	eventQueueSize = 256
)

// EventHandler consumes decoded chat events. Handlers run serially on a
// dispatch goroutine, so events are delivered in arrival order; the
// receive loop only queues and never waits for a handler to finish.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev parley.Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev parley.Event)

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev parley.Event) { f(ctx, ev) }

// Socket runs the Socket Mode connection: URL acquisition, the
// WebSocket receive loop, ACKs, keepalive pings, and reconnects. The
// socket is single-owner; all frame writes go through one mutex.
type Socket struct {
	api     *Client
	handler EventHandler
	logger  *slog.Logger
	dialer  *websocket.Dialer

	pingInterval   time.Duration
	reconnectDelay time.Duration
	maxAttempts    int

	state   atomic.Value // string
	writeMu sync.Mutex
	pingID  atomic.Int64

	envelopes atomic.Int64
	acks      atomic.Int64
}

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// SocketLogger sets the logger. Defaults to a discarding logger.
func SocketLogger(l *slog.Logger) SocketOption {
	return func(s *Socket) { s.logger = l }
}

// SocketPingInterval overrides the keepalive interval.
func SocketPingInterval(d time.Duration) SocketOption {
	return func(s *Socket) { s.pingInterval = d }
}

// SocketReconnect overrides the reconnect delay and attempt limit.
func SocketReconnect(delay time.Duration, attempts int) SocketOption {
	return func(s *Socket) {
		s.reconnectDelay = delay
		s.maxAttempts = attempts
	}
}

// SocketDialer replaces the WebSocket dialer, typically for tests.
func SocketDialer(d *websocket.Dialer) SocketOption {
	return func(s *Socket) { s.dialer = d }
}

// NewSocket creates a Socket Mode transport over the REST client.
func NewSocket(api *Client, handler EventHandler, opts ...SocketOption) *Socket {
	s := &Socket{
		api:            api,
		handler:        handler,
		logger:         slog.New(slog.DiscardHandler),
		dialer:         websocket.DefaultDialer,
		pingInterval:   DefaultPingInterval,
		reconnectDelay: DefaultReconnectDelay,
		maxAttempts:    DefaultReconnectAttempts,
	}
	s.state.Store(StateDisconnected)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current transport state.
func (s *Socket) State() string {
	return s.state.Load().(string)
}

// Counters returns envelope and ACK counts.
func (s *Socket) Counters() (envelopes, acks int64) {
	return s.envelopes.Load(), s.acks.Load()
}

func (s *Socket) setState(state string) {
	s.state.Store(state)
	s.logger.Debug("transport state", "state", state)
}

// Run drives the connect/receive/reconnect cycle until ctx is cancelled
// or the attempt budget is exhausted. Only a session that stays up for
// at least one keepalive interval resets the attempt counter; a server
// that accepts each handshake and immediately drops the connection
// still exhausts the budget.
func (s *Socket) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	// One dispatch goroutine delivers events in arrival order, so
	// per-channel ingest order downstream matches the wire.
	events := make(chan parley.Event, eventQueueSize)
	var dispatchDone sync.WaitGroup
	dispatchDone.Add(1)
	go func() {
		defer dispatchDone.Done()
		for ev := range events {
			s.handler.HandleEvent(ctx, ev)
		}
	}()
	defer func() {
		close(events)
		dispatchDone.Wait()
	}()

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		connected, err := s.connectOnce(ctx, events)
		if connected && time.Since(start) >= s.pingInterval {
			attempts = 0
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("socket connection ended", "error", err)
		}

		attempts++
		if attempts >= s.maxAttempts {
			return fmt.Errorf("socket: giving up after %d attempts", attempts)
		}

		s.setState(StateDisconnected)
		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectOnce performs one fetch-dial-receive cycle. The first return
// reports whether the WebSocket handshake succeeded.
func (s *Socket) connectOnce(ctx context.Context, events chan<- parley.Event) (bool, error) {
	s.setState(StateFetchingURL)
	url, err := s.api.ConnectionsOpen(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch socket url: %w", err)
	}

	s.setState(StateConnecting)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial socket: %w", err)
	}

	s.setState(StateOpen)
	s.logger.Info("socket connected")
	err = s.receiveLoop(ctx, conn, events)

	s.setState(StateClosing)
	_ = conn.Close()
	return true, err
}

// receiveLoop reads frames until the socket fails, the service asks for
// a disconnect, or ctx is cancelled. Reads use a short deadline so the
// loop can emit pings and notice shutdown between frames.
func (s *Socket) receiveLoop(ctx context.Context, conn *websocket.Conn, events chan<- parley.Event) error {
	lastPing := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if time.Since(lastPing) >= s.pingInterval {
			if err := s.writeJSON(conn, pingFrame{ID: s.pingID.Add(1), Type: "ping"}); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
			lastPing = time.Now()
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("socket read: %w", err)
		}

		env, err := DecodeEnvelope(raw)
		if err != nil {
			// Try to ACK even frames we cannot fully decode.
			s.logger.Warn("undecodable frame", "error", err)
			var partial struct {
				EnvelopeID string `json:"envelope_id"`
			}
			if json.Unmarshal(raw, &partial) == nil && partial.EnvelopeID != "" {
				s.sendAck(conn, partial.EnvelopeID)
			}
			continue
		}

		switch env.Type {
		case TypeHello:
			s.logger.Info("socket ready")
		case TypePong:
			// Keepalive answered; nothing to do.
		case TypeDisconnect:
			s.logger.Info("service requested disconnect", "reason", env.Reason)
			return nil
		case TypeEventsAPI:
			s.envelopes.Add(1)
			// ACK first; downstream failures must not block reception.
			s.sendAck(conn, env.EnvelopeID)
			select {
			case events <- env.Payload.Event:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			s.logger.Debug("ignoring frame", "type", env.Type)
		}
	}
}

// sendAck acknowledges an envelope best-effort.
func (s *Socket) sendAck(conn *websocket.Conn, envelopeID string) {
	if envelopeID == "" {
		return
	}
	if err := s.writeJSON(conn, ack{EnvelopeID: envelopeID}); err != nil {
		s.logger.Warn("ack send failed", "envelope_id", envelopeID, "error", err)
		return
	}
	s.acks.Add(1)
}

// writeJSON serialises writes so only one goroutine touches the socket.
func (s *Socket) writeJSON(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}
