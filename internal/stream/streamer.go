// Package stream maintains the market-channel WebSocket feed: one
// connection, batched subscriptions, automatic resubscription after
// reconnect, and a silence watchdog that forces a fresh connection when the
// feed goes quiet.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/types"
)

// SubscribeBatchSize caps how many token ids go into one subscribe frame.
const SubscribeBatchSize = 100

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives best-quote updates for subscribed tokens.
type Handler func(update types.PriceUpdate)

// Config holds streamer configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PingInterval          time.Duration
	MaxSilence            time.Duration
	WatchdogInterval      time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// Streamer manages a single market-channel WebSocket connection.
type Streamer struct {
	url     string
	config  Config
	logger  *zap.Logger
	reconn  *reconnector
	updates chan types.PriceUpdate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	conn       *websocket.Conn
	subscribed map[string]bool
	handlers   []Handler
	quotes     map[string]*types.PriceUpdate

	state       atomic.Int32
	lastMessage atomic.Int64
}

// New creates a streamer. Call Start to connect.
func New(cfg Config) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.MaxSilence == 0 {
		cfg.MaxSilence = 90 * time.Second
	}
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = 30 * time.Second
	}
	if cfg.MessageBufferSize == 0 {
		cfg.MessageBufferSize = 1024
	}

	return &Streamer{
		url:    cfg.URL,
		config: cfg,
		logger: cfg.Logger,
		reconn: newReconnector(ReconnectConfig{
			InitialDelay:      cfg.ReconnectInitialDelay,
			MaxDelay:          cfg.ReconnectMaxDelay,
			BackoffMultiplier: cfg.ReconnectBackoffMult,
			JitterPercent:     0.2,
		}, cfg.Logger),
		updates:    make(chan types.PriceUpdate, cfg.MessageBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		subscribed: make(map[string]bool),
		quotes:     make(map[string]*types.PriceUpdate),
	}
}

// State returns the current lifecycle state.
func (s *Streamer) State() State {
	return State(s.state.Load())
}

func (s *Streamer) setState(st State) {
	s.state.Store(int32(st))
	StreamState.Set(float64(st))
}

// RegisterHandler adds a callback for every quote update. Handlers must not
// block; slow consumers should hand off to their own channel.
func (s *Streamer) RegisterHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start dials the feed and launches the read, ping, watchdog, reconnect and
// dispatch loops.
func (s *Streamer) Start() error {
	s.logger.Info("streamer-starting", zap.String("url", s.url))
	s.setState(StateConnecting)

	if err := s.connect(s.ctx); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("initial connection: %w", err)
	}

	s.wg.Add(4)
	go s.readLoop()
	go s.pingLoop()
	go s.watchdogLoop()
	go s.reconnectLoop()

	go s.dispatchLoop()

	return nil
}

func (s *Streamer) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		s.lastMessage.Store(time.Now().UnixNano())
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.lastMessage.Store(time.Now().UnixNano())
	s.setState(StateConnected)
	ActiveConnections.Set(1)

	s.logger.Info("streamer-connected")
	return nil
}

// Subscribe adds token ids to the live subscription, batching the frames.
// Already subscribed tokens are skipped.
func (s *Streamer) Subscribe(ctx context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	newTokens := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if !s.subscribed[id] {
			newTokens = append(newTokens, id)
			s.subscribed[id] = true
		}
	}
	initial := len(s.subscribed) == len(newTokens)
	total := len(s.subscribed)
	conn := s.conn
	s.mu.Unlock()

	if len(newTokens) == 0 {
		return nil
	}
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	for start := 0; start < len(newTokens); start += SubscribeBatchSize {
		end := min(start+SubscribeBatchSize, len(newTokens))
		batch := newTokens[start:end]

		msg := map[string]interface{}{"assets_ids": batch}
		if initial && start == 0 {
			msg["type"] = "market"
		} else {
			msg["operation"] = "subscribe"
		}

		if err := conn.WriteJSON(msg); err != nil {
			s.mu.Lock()
			for _, id := range newTokens[start:] {
				delete(s.subscribed, id)
			}
			total = len(s.subscribed)
			s.mu.Unlock()
			SubscriptionCount.Set(float64(total))
			return fmt.Errorf("write subscribe frame: %w", err)
		}
	}

	SubscriptionCount.Set(float64(total))
	s.logger.Info("subscribed-to-tokens",
		zap.Int("new_count", len(newTokens)),
		zap.Int("total_count", total))
	return nil
}

// Unsubscribe removes token ids from the subscription.
func (s *Streamer) Unsubscribe(ctx context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	toRemove := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if s.subscribed[id] {
			toRemove = append(toRemove, id)
			delete(s.subscribed, id)
			delete(s.quotes, id)
		}
	}
	total := len(s.subscribed)
	conn := s.conn
	s.mu.Unlock()

	if len(toRemove) == 0 {
		return nil
	}
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := map[string]interface{}{
		"assets_ids": toRemove,
		"operation":  "unsubscribe",
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.mu.Lock()
		for _, id := range toRemove {
			s.subscribed[id] = true
		}
		total = len(s.subscribed)
		s.mu.Unlock()
		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write unsubscribe frame: %w", err)
	}

	SubscriptionCount.Set(float64(total))
	s.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(toRemove)),
		zap.Int("remaining", total))
	return nil
}

// Subscribed returns a snapshot of currently subscribed token ids.
func (s *Streamer) Subscribed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		out = append(out, id)
	}
	return out
}

// BestQuote returns the last observed best bid/ask for a token.
func (s *Streamer) BestQuote(tokenID string) (types.PriceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[tokenID]
	if !ok {
		return types.PriceUpdate{}, false
	}
	return *q, true
}

// wireLevel is one price level on the feed, quoted as strings.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wireEvent is one market-channel event. "book" carries full ladders,
// "price_change" carries deltas.
type wireEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
}

func (s *Streamer) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.State() == StateClosed {
				return
			}
			s.logger.Warn("read-error", zap.Error(err))
			s.setState(StateDisconnected)
			ActiveConnections.Set(0)
			return
		}

		s.lastMessage.Store(time.Now().UnixNano())

		var events []wireEvent
		if err := json.Unmarshal(message, &events); err != nil {
			// Heartbeats and control frames are not event arrays.
			if len(message) < 10 {
				continue
			}
			s.logger.Debug("unparseable-frame",
				zap.Error(err),
				zap.Int("bytes", len(message)))
			continue
		}

		for i := range events {
			s.handleEvent(&events[i])
		}
	}
}

func (s *Streamer) handleEvent(ev *wireEvent) {
	MessagesReceivedTotal.WithLabelValues(ev.EventType).Inc()

	switch ev.EventType {
	case "book":
		update := types.PriceUpdate{
			TokenID:   ev.AssetID,
			Timestamp: time.Now(),
		}
		if len(ev.Bids) > 0 {
			update.BestBid = parseTopOfBook(ev.Bids, true)
		}
		if len(ev.Asks) > 0 {
			update.BestAsk = parseTopOfBook(ev.Asks, false)
		}
		s.publish(update)

	case "price_change":
		s.mu.RLock()
		prev, ok := s.quotes[ev.AssetID]
		s.mu.RUnlock()

		update := types.PriceUpdate{
			TokenID:   ev.AssetID,
			Timestamp: time.Now(),
		}
		if ok {
			update.BestBid = prev.BestBid
			update.BestAsk = prev.BestAsk
		}
		changed := false
		for _, ch := range ev.Changes {
			price, err := strconv.ParseFloat(ch.Price, 64)
			if err != nil {
				continue
			}
			size, err := strconv.ParseFloat(ch.Size, 64)
			if err != nil || size == 0 {
				continue
			}
			switch ch.Side {
			case "BUY":
				if price > update.BestBid {
					update.BestBid = price
					changed = true
				}
			case "SELL":
				if update.BestAsk == 0 || price < update.BestAsk {
					update.BestAsk = price
					changed = true
				}
			}
		}
		if changed {
			s.publish(update)
		}
	}
}

// parseTopOfBook returns the best price on a ladder whose ordering is not
// guaranteed by the feed.
func parseTopOfBook(levels []wireLevel, wantMax bool) float64 {
	best := 0.0
	found := false
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if !found || (wantMax && p > best) || (!wantMax && p < best) {
			best = p
			found = true
		}
	}
	if !found {
		return 0
	}
	return best
}

func (s *Streamer) publish(update types.PriceUpdate) {
	s.mu.Lock()
	cp := update
	s.quotes[update.TokenID] = &cp
	s.mu.Unlock()

	select {
	case s.updates <- update:
	default:
		MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
	}
}

func (s *Streamer) dispatchLoop() {
	for update := range s.updates {
		s.mu.RLock()
		handlers := s.handlers
		s.mu.RUnlock()
		for _, h := range handlers {
			h(update)
		}
	}
}

func (s *Streamer) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateConnected && s.State() != StateDegraded {
				continue
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				s.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// watchdogLoop forces a reconnect when the feed has been silent too long.
func (s *Streamer) watchdogLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateConnected {
				continue
			}
			silence := time.Since(time.Unix(0, s.lastMessage.Load()))
			if silence > s.config.MaxSilence {
				s.logger.Warn("feed-silent-forcing-reconnect",
					zap.Duration("silence", silence),
					zap.Duration("max_silence", s.config.MaxSilence))
				WatchdogTripsTotal.Inc()
				s.setState(StateDegraded)
				s.mu.RLock()
				conn := s.conn
				s.mu.RUnlock()
				if conn != nil {
					conn.Close()
				}
				s.setState(StateDisconnected)
			}
		}
	}
}

func (s *Streamer) reconnectLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.State() != StateDisconnected {
			time.Sleep(time.Second)
			continue
		}

		s.logger.Warn("connection-lost-initiating-reconnect")
		s.setState(StateConnecting)

		err := s.reconn.reconnect(s.ctx, s.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			s.logger.Error("reconnection-failed", zap.Error(err))
			s.setState(StateDisconnected)
			continue
		}

		if err := s.resubscribeAll(); err != nil {
			s.logger.Error("resubscribe-failed", zap.Error(err))
			s.setState(StateDisconnected)
			continue
		}

		s.wg.Add(1)
		go s.readLoop()
	}
}

// resubscribeAll replays the full subscription set on a fresh connection.
func (s *Streamer) resubscribeAll() error {
	s.mu.RLock()
	tokenIDs := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		tokenIDs = append(tokenIDs, id)
	}
	conn := s.conn
	s.mu.RUnlock()

	if len(tokenIDs) == 0 {
		return nil
	}

	for start := 0; start < len(tokenIDs); start += SubscribeBatchSize {
		end := min(start+SubscribeBatchSize, len(tokenIDs))
		msg := map[string]interface{}{
			"assets_ids": tokenIDs[start:end],
		}
		if start == 0 {
			msg["type"] = "market"
		} else {
			msg["operation"] = "subscribe"
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("write resubscribe frame: %w", err)
		}
	}

	s.logger.Info("resubscribed-to-all-tokens", zap.Int("count", len(tokenIDs)))
	return nil
}

// Close shuts the streamer down and stops all loops.
func (s *Streamer) Close() error {
	s.logger.Info("streamer-closing")
	s.setState(StateClosed)
	s.cancel()

	s.mu.RLock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.RUnlock()

	s.wg.Wait()
	close(s.updates)

	ActiveConnections.Set(0)
	s.logger.Info("streamer-closed")
	return nil
}
