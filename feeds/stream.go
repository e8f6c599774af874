package feeds

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LTP STREAM - WebSocket tick source
// ═══════════════════════════════════════════════════════════════════════════════
//
// Protocol:
//   → {"action":"subscribe","mode":"ltp","symbols":[...]}
//   → {"action":"unsubscribe","mode":"ltp","symbols":[...]}
//   ← {"symbol":"...","ltp":123.45}
//   ← {"type":"ticks","ticks":[{...},...]}
//
// Ticks land in the PriceCache. The subscription set survives reconnects
// and is replayed on every new connection.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultFeedURL = "wss://socket-api.groww.in/v1/feed"
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// ErrNotConnected is returned when writing to a closed stream
var ErrNotConnected = errors.New("stream not connected")

// TokenSource supplies the bearer token for the feed handshake
type TokenSource interface {
	AccessToken() string
}

// Stream manages the WebSocket connection and subscription set
type Stream struct {
	mu sync.RWMutex

	url       string
	tokens    TokenSource
	cache     *PriceCache
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}
	done      chan struct{}

	writeMu sync.Mutex

	subscribed map[string]bool

	now            func() time.Time
	reconnectDelay time.Duration
}

// NewStream creates a stream writing into cache. tokens may be nil.
func NewStream(url string, tokens TokenSource, cache *PriceCache) *Stream {
	if url == "" {
		url = DefaultFeedURL
	}
	return &Stream{
		url:            url,
		tokens:         tokens,
		cache:          cache,
		subscribed:     make(map[string]bool),
		now:            time.Now,
		reconnectDelay: reconnectDelay,
	}
}

// Cache returns the price cache the stream writes to
func (s *Stream) Cache() *PriceCache {
	return s.cache
}

// Connect dials the feed and starts the read loop. The first dial is
// synchronous so callers see handshake failures; the reconnect loop runs
// either way and keeps redialing until Disconnect.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stop
	s.done = done
	s.mu.Unlock()

	err := s.dial(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.connectionLoop(stop)
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(stop)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	if err != nil {
		log.Warn().Err(err).Dur("retry", s.reconnectDelay).Msg("⚠️ Feed dial failed, reconnecting in background")
		return err
	}
	log.Info().Str("url", s.url).Msg("📡 Feed connected")
	return nil
}

// Disconnect stops the loops and closes the socket
func (s *Stream) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	s.conn = nil
	s.connected = false
	done := s.done
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	<-done

	log.Info().
		Int64("ticks", s.cache.Accepted()).
		Int64("malformed", s.cache.Malformed()).
		Msg("Feed disconnected")
}

// Connected reports whether a socket is currently up
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Subscribe adds symbols to the subscription set and sends the request
// when connected. Symbols are remembered even if the send fails.
func (s *Stream) Subscribe(symbols []string) error {
	added := s.updateSet(symbols, true)
	if len(added) == 0 {
		return nil
	}
	log.Info().Strs("symbols", added).Msg("🔔 Subscribing")
	return s.send("subscribe", added)
}

// Unsubscribe removes symbols from the set and forgets their prices
func (s *Stream) Unsubscribe(symbols []string) error {
	removed := s.updateSet(symbols, false)
	if len(removed) == 0 {
		return nil
	}
	s.cache.Delete(removed...)
	log.Info().Strs("symbols", removed).Msg("🔕 Unsubscribing")
	return s.send("unsubscribe", removed)
}

// Subscriptions returns the current subscription set, sorted
func (s *Stream) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Stream) updateSet(symbols []string, add bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for _, sym := range symbols {
		if sym == "" || s.subscribed[sym] == add {
			continue
		}
		if add {
			s.subscribed[sym] = true
		} else {
			delete(s.subscribed, sym)
		}
		changed = append(changed, sym)
	}
	return changed
}

type subscription struct {
	Action  string   `json:"action"`
	Mode    string   `json:"mode"`
	Symbols []string `json:"symbols"`
}

func (s *Stream) send(action string, symbols []string) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(subscription{Action: action, Mode: "ltp", Symbols: symbols})
}

// dial opens a socket and replays the subscription set
func (s *Stream) dial(ctx context.Context) error {
	header := http.Header{}
	if s.tokens != nil {
		if tok := s.tokens.AccessToken(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if subs := s.Subscriptions(); len(subs) > 0 {
		if err := s.send("subscribe", subs); err != nil {
			log.Warn().Err(err).Msg("Resubscribe failed")
		}
	}
	return nil
}

// connectionLoop keeps a socket open until stop is closed
func (s *Stream) connectionLoop(stop <-chan struct{}) {
	for {
		s.readLoop(stop)

		select {
		case <-stop:
			return
		case <-time.After(s.reconnectDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.dial(ctx)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("Feed reconnect failed, retrying...")
			continue
		}

		select {
		case <-stop:
			s.mu.Lock()
			conn := s.conn
			s.conn = nil
			s.connected = false
			s.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		default:
		}
		log.Info().Msg("🔌 Feed reconnected")
	}
}

// pingLoop sends periodic pings to keep the connection alive
func (s *Stream) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			connected := s.connected
			s.mu.RUnlock()

			if connected && conn != nil {
				s.writeMu.Lock()
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				s.writeMu.Unlock()
			}
		}
	}
}

// readLoop reads frames until the socket fails
func (s *Stream) readLoop(stop <-chan struct{}) {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				log.Warn().Err(err).Msg("Feed read error")
			}
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connected = false
			}
			s.mu.Unlock()
			conn.Close()
			return
		}

		s.processMessage(message)
	}
}

// processMessage parses a frame and applies every tick to the cache
func (s *Stream) processMessage(data []byte) {
	for _, r := range ParseTickMessage(data, s.now()) {
		if !s.cache.Apply(r) {
			log.Debug().Str("reason", r.Reason).Str("symbol", r.Tick.Symbol).Msg("Tick skipped")
		}
	}
}
