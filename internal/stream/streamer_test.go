package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/pkg/types"
)

// feedServer is a scriptable WebSocket endpoint. It records every frame the
// client writes and can push event frames or kill the connection.
type feedServer struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []map[string]interface{}
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{t: t}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, frame)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *feedServer) latestConn() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

func (fs *feedServer) push(payload string) {
	conn := fs.latestConn()
	require.NotNil(fs.t, conn)
	require.NoError(fs.t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (fs *feedServer) dropConnection() {
	conn := fs.latestConn()
	require.NotNil(fs.t, conn)
	_ = conn.Close()
}

func (fs *feedServer) receivedFrames() []map[string]interface{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]map[string]interface{}, len(fs.frames))
	copy(out, fs.frames)
	return out
}

func newTestStreamer(t *testing.T, url string) *Streamer {
	t.Helper()
	s := New(Config{
		URL:                   url,
		DialTimeout:           2 * time.Second,
		PingInterval:          50 * time.Millisecond,
		MaxSilence:            time.Minute,
		WatchdogInterval:      time.Minute,
		ReconnectInitialDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:     100 * time.Millisecond,
		ReconnectBackoffMult:  2.0,
		Logger:                zaptest.NewLogger(t),
	})
	t.Cleanup(func() {
		if s.State() != StateClosed {
			_ = s.Close()
		}
	})
	return s
}

func TestStreamer_ConnectAndSubscribe(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())

	require.NoError(t, s.Start())
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Subscribe(context.Background(), []string{"tok-a", "tok-b"}))
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, s.Subscribed())

	require.Eventually(t, func() bool {
		return len(fs.receivedFrames()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	frames := fs.receivedFrames()
	// The first subscription uses the channel-opening frame shape.
	assert.Equal(t, "market", frames[0]["type"])
	assert.Len(t, frames[0]["assets_ids"], 2)

	// Re-subscribing a known token writes nothing new.
	require.NoError(t, s.Subscribe(context.Background(), []string{"tok-a"}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, fs.receivedFrames(), len(frames))
}

func TestStreamer_BookEventUpdatesQuote(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())
	require.NoError(t, s.Start())

	got := make(chan types.PriceUpdate, 16)
	s.RegisterHandler(func(u types.PriceUpdate) { got <- u })

	// Ladders arrive unordered; the best prices must still win.
	fs.push(`[{
		"event_type": "book",
		"asset_id": "tok-a",
		"bids": [
			{"price": "0.40", "size": "10"},
			{"price": "0.45", "size": "5"},
			{"price": "0.42", "size": "7"}
		],
		"asks": [
			{"price": "0.55", "size": "3"},
			{"price": "0.48", "size": "9"}
		]
	}]`)

	select {
	case u := <-got:
		assert.Equal(t, "tok-a", u.TokenID)
		assert.InDelta(t, 0.45, u.BestBid, 1e-9)
		assert.InDelta(t, 0.48, u.BestAsk, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	quote, ok := s.BestQuote("tok-a")
	require.True(t, ok)
	assert.InDelta(t, 0.45, quote.BestBid, 1e-9)

	_, ok = s.BestQuote("tok-unknown")
	assert.False(t, ok)
}

func TestStreamer_PriceChangeMergesIntoQuote(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())
	require.NoError(t, s.Start())

	got := make(chan types.PriceUpdate, 16)
	s.RegisterHandler(func(u types.PriceUpdate) { got <- u })

	fs.push(`[{
		"event_type": "book",
		"asset_id": "tok-a",
		"bids": [{"price": "0.40", "size": "10"}],
		"asks": [{"price": "0.50", "size": "10"}]
	}]`)
	<-got

	// A better bid arrives as a delta.
	fs.push(`[{
		"event_type": "price_change",
		"asset_id": "tok-a",
		"changes": [{"price": "0.43", "side": "BUY", "size": "5"}]
	}]`)

	select {
	case u := <-got:
		assert.InDelta(t, 0.43, u.BestBid, 1e-9)
		assert.InDelta(t, 0.50, u.BestAsk, 1e-9, "untouched side carries over")
	case <-time.After(2 * time.Second):
		t.Fatal("no merged update delivered")
	}
}

func TestStreamer_ReconnectResubscribes(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())
	require.NoError(t, s.Start())

	require.NoError(t, s.Subscribe(context.Background(), []string{"tok-a", "tok-b"}))
	require.Eventually(t, func() bool {
		return len(fs.receivedFrames()) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	before := len(fs.receivedFrames())

	fs.dropConnection()

	// A fresh connection comes up and replays the full subscription set.
	require.Eventually(t, func() bool {
		return fs.connCount() >= 2 && s.State() == StateConnected
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(fs.receivedFrames()) > before
	}, 5*time.Second, 20*time.Millisecond)

	frames := fs.receivedFrames()
	resub := frames[len(frames)-1]
	assert.Equal(t, "market", resub["type"])
	assert.Len(t, resub["assets_ids"], 2)

	// Subscription intent survived the drop.
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, s.Subscribed())
}

func TestStreamer_Unsubscribe(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())
	require.NoError(t, s.Start())

	require.NoError(t, s.Subscribe(context.Background(), []string{"tok-a", "tok-b"}))
	require.NoError(t, s.Unsubscribe(context.Background(), []string{"tok-a"}))
	assert.ElementsMatch(t, []string{"tok-b"}, s.Subscribed())

	// Unknown tokens are a no-op.
	require.NoError(t, s.Unsubscribe(context.Background(), []string{"tok-zzz"}))

	require.Eventually(t, func() bool {
		frames := fs.receivedFrames()
		if len(frames) < 2 {
			return false
		}
		last := frames[len(frames)-1]
		return last["operation"] == "unsubscribe"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamer_CloseIsTerminal(t *testing.T) {
	fs := newFeedServer(t)
	s := newTestStreamer(t, fs.wsURL())
	require.NoError(t, s.Start())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestParseTopOfBook(t *testing.T) {
	t.Parallel()

	levels := []wireLevel{
		{Price: "0.40", Size: "1"},
		{Price: "bogus", Size: "1"},
		{Price: "0.45", Size: "1"},
		{Price: "0.42", Size: "1"},
	}

	assert.InDelta(t, 0.45, parseTopOfBook(levels, true), 1e-9)
	assert.InDelta(t, 0.40, parseTopOfBook(levels, false), 1e-9)
	assert.InDelta(t, 0, parseTopOfBook(nil, true), 1e-9)
	assert.InDelta(t, 0, parseTopOfBook([]wireLevel{{Price: "x", Size: "1"}}, true), 1e-9)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
