// Package ws implements C4, the durable per-venue WebSocket collector:
// connect, subscribe, stream confirmed candles/trades/liquidations,
// reconnect on failure, and emit a per-minute pull-complete heartbeat.
//
// Grounded on the teacher's internal/providers/kraken WebSocketClient
// (connect/messageLoop/pingLoop/reconnect shape), generalized from one
// venue to a venue-parametrized Decoder and from order-book/trade
// channels to the candle/trade/liquidation channels this domain needs.
package ws

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the session lifecycle (§4.4).
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Streaming
	Draining
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is one decoded, already-filtered payload handed to the bucket
// aggregator / row merger. Kind distinguishes candle vs trade vs
// liquidation so the caller can route it.
type Event struct {
	Kind    EventKind
	Symbol  string
	Payload any
}

type EventKind int

const (
	KindCandle EventKind = iota
	KindTrade
	KindLiquidation
)

// Decoder is venue-specific: builds subscribe frames and decodes raw
// WebSocket text frames into zero or more Events. Confirmed-candle
// filtering happens inside Decode (§4.4: "Filter each data frame to
// closed/confirmed candles only").
type Decoder interface {
	// SubscribeFrames returns the JSON messages to send after connecting,
	// already chunked per venue rules (Bybit: <=200 topic args per frame);
	// Session.subscribe staggers the sends.
	SubscribeFrames(symbols []string) [][]byte
	// Decode parses one raw frame. ok=false means the frame carried no
	// event worth forwarding (ack, pong, unconfirmed candle).
	Decode(raw []byte) (ev Event, ok bool, err error)
	// IsPing reports whether raw is an application-level ping needing a
	// pong reply (OKX sends a literal "ping" text frame).
	IsPing(raw []byte) bool
}

// Heartbeat is emitted once per venue per minute, after every canonical
// symbol has delivered at least one confirmed sample for that minute.
type Heartbeat struct {
	Venue      string
	MinuteTS   int64
	SymbolsSet int
}

// Session runs one logical (venue, channel-set) WebSocket connection.
type Session struct {
	Venue   string
	URL     string
	Symbols []string
	Dec     Decoder
	Events  chan<- Event
	Heartbeats chan<- Heartbeat

	log zerolog.Logger

	mu    sync.Mutex
	state State

	seenThisMinute map[string]struct{}
	currentMinute  int64

	// OnConnect and OnReconnect are optional metrics hooks, nil-safe.
	OnConnect   func(venue string)
	OnReconnect func(venue string)
}

// NewSession constructs a collector session. events and heartbeats may be
// shared across sessions of the same venue; callers are expected to drain
// them promptly. Event sends block (bounded channels apply backpressure);
// heartbeat sends do not block, and a heartbeat is dropped when the
// heartbeats channel is full.
func NewSession(venue, url string, symbols []string, dec Decoder, events chan<- Event, heartbeats chan<- Heartbeat, log zerolog.Logger) *Session {
	return &Session{
		Venue:          venue,
		URL:            url,
		Symbols:        symbols,
		Dec:            dec,
		Events:         events,
		Heartbeats:     heartbeats,
		log:            log.With().Str("venue", venue).Str("component", "ws").Logger(),
		seenThisMinute: make(map[string]struct{}),
		state:          Disconnected,
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state (safe for concurrent reads).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the full lifecycle until ctx is cancelled, reconnecting after
// every failure with a 5s delay (§4.4). It returns only when ctx is done,
// leaving the session Disconnected; the Draining state is never entered.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket session failed, reconnecting")
			if s.OnReconnect != nil {
				s.OnReconnect(s.Venue)
			}
		}
		s.setState(Reconnecting)
		// Outstanding per-symbol activeness is cleared on reconnect (§4.4).
		s.mu.Lock()
		s.seenThisMinute = make(map[string]struct{})
		s.mu.Unlock()
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			s.setState(Disconnected)
			return
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(Connecting)

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, s.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	s.log.Info().Str("url", s.URL).Msg("websocket connected")
	if s.OnConnect != nil {
		s.OnConnect(s.Venue)
	}

	s.setState(Subscribing)
	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("ws: subscribe: %w", err)
	}

	s.setState(Streaming)
	return s.stream(ctx, conn)
}

// subscribe sends every chunked/staggered subscribe frame (§4.4: Bybit
// staggers at ~50ms between sends; OKX/Binance send one frame).
func (s *Session) subscribe(conn *websocket.Conn) error {
	frames := s.Dec.SubscribeFrames(s.Symbols)
	for i, f := range frames {
		if i > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) stream(ctx context.Context, conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if s.Dec.IsPing(raw) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			continue
		}

		ev, ok, err := s.Dec.Decode(raw)
		if err != nil {
			s.log.Debug().Err(err).Msg("failed to decode frame")
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.Events <- ev:
		case <-ctx.Done():
			return nil
		}

		if ev.Kind == KindCandle {
			s.markSeen(ev.Symbol)
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// markSeen records a confirmed sample for symbol in the current minute
// and emits a heartbeat once every canonical symbol has been seen, then
// resets the seen set (§4.4).
func (s *Session) markSeen(symbol string) {
	minute := time.Now().UnixMilli() / 60_000 * 60_000

	s.mu.Lock()
	if minute != s.currentMinute {
		s.currentMinute = minute
		s.seenThisMinute = make(map[string]struct{})
	}
	s.seenThisMinute[symbol] = struct{}{}
	complete := len(s.seenThisMinute) >= len(s.Symbols)
	count := len(s.seenThisMinute)
	if complete {
		s.seenThisMinute = make(map[string]struct{})
	}
	s.mu.Unlock()

	if complete && s.Heartbeats != nil {
		select {
		case s.Heartbeats <- Heartbeat{Venue: s.Venue, MinuteTS: minute, SymbolsSet: count}:
		default:
		}
	}
}

// jitter returns a random duration in [0, d), used by callers that want to
// stagger session startup across venues to avoid a thundering herd.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
