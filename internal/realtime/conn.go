package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"carenav/internal/metrics"
	"carenav/internal/model"
)

// Status is the connection state visible to dependents.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrNoToken is returned by Connect when no auth token is supplied.
// A missing token is a precondition failure, never retried.
var ErrNoToken = errors.New("no auth token available")

// state machine event names
const (
	evConnect = "connect"
	evOpen    = "open"
	evDrop    = "drop"
	evFail    = "fail"
)

// StatusConsumer observes connection state changes.
type StatusConsumer func(Status)

// Config carries the connection manager's injected knobs.
type Config struct {
	// URL is the stream endpoint (ws:// or wss://).
	URL string

	// Reconnection policy: exponential backoff from Floor, doubling per
	// attempt, capped at Ceiling, at most MaxAttempts scheduled attempts.
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	MaxAttempts    int

	DialTimeout time.Duration

	// LivenessInterval drives the local timer that refreshes perceived
	// liveness for polling dependents. The client never probes the server.
	LivenessInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = time.Second
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 30 * time.Second
	}
	return c
}

// Client owns one persistent WebSocket connection to the monitoring stream:
// its authentication, keep-alive, reconnection policy, and subscription
// replay. Construct isolated instances with NewClient; there is no shared
// singleton state.
type Client struct {
	cfg        Config
	log        *zap.Logger
	registry   *Registry
	dispatcher *Dispatcher

	mu        sync.Mutex
	machine   *fsm.FSM
	conn      *websocket.Conn
	gen       uint64 // connection generation; stale pumps see a mismatch and exit
	token     string
	attempts  int
	exhausted bool
	reconnect *time.Timer
	lastFrame time.Time

	writeMu sync.Mutex // gorilla allows one concurrent writer

	statusMu    sync.Mutex
	statusSubs  map[string]StatusConsumer
	statusOrder []string

	alive atomic.Bool
}

// NewClient constructs a Client over the given registry and dispatcher.
func NewClient(cfg Config, reg *Registry, disp *Dispatcher, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg.withDefaults(),
		log:        log.Named("realtime.conn"),
		registry:   reg,
		dispatcher: disp,
		statusSubs: map[string]StatusConsumer{},
	}
	c.machine = fsm.NewFSM(
		string(StatusDisconnected),
		fsm.Events{
			{Name: evConnect, Src: []string{string(StatusDisconnected), string(StatusError)}, Dst: string(StatusConnecting)},
			{Name: evOpen, Src: []string{string(StatusConnecting)}, Dst: string(StatusConnected)},
			{Name: evDrop, Src: []string{string(StatusConnecting), string(StatusConnected), string(StatusError)}, Dst: string(StatusDisconnected)},
			{Name: evFail, Src: []string{string(StatusDisconnected), string(StatusConnecting), string(StatusConnected)}, Dst: string(StatusError)},
		},
		fsm.Callbacks{},
	)
	disp.OnPing = c.sendPong
	return c
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status(c.machine.Current())
}

// Alive reports perceived stream liveness as judged by the local timer.
func (c *Client) Alive() bool { return c.alive.Load() }

// OnStatus registers a status-change consumer and returns its disposer.
func (c *Client) OnStatus(fn StatusConsumer) func() {
	id := uuid.NewString()
	c.statusMu.Lock()
	c.statusSubs[id] = fn
	c.statusOrder = append(c.statusOrder, id)
	c.statusMu.Unlock()
	return func() {
		c.statusMu.Lock()
		defer c.statusMu.Unlock()
		if _, ok := c.statusSubs[id]; !ok {
			return
		}
		delete(c.statusSubs, id)
		for i, v := range c.statusOrder {
			if v == id {
				c.statusOrder = append(c.statusOrder[:i], c.statusOrder[i+1:]...)
				break
			}
		}
	}
}

// OnEvent registers a stream event consumer on the dispatcher.
func (c *Client) OnEvent(fn Consumer) func() {
	return c.dispatcher.AddConsumer(fn)
}

// Connect opens the stream using the given auth token. A no-op while
// connected or connecting. An empty token fails fast into the error state.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	switch Status(c.machine.Current()) {
	case StatusConnected, StatusConnecting:
		c.mu.Unlock()
		return nil
	}
	if token == "" {
		_ = c.machine.Event(context.Background(), evFail)
		c.mu.Unlock()
		c.log.Error("connect refused: no token")
		c.notifyStatus(StatusError)
		return ErrNoToken
	}
	c.token = token
	c.attempts = 0
	c.exhausted = false
	c.cancelReconnectLocked()
	_ = c.machine.Event(context.Background(), evConnect)
	c.mu.Unlock()

	c.notifyStatus(StatusConnecting)
	go c.dial(token)
	return nil
}

// Disconnect tears the connection down with a normal close code, cancels any
// pending reconnect timer, and settles in the disconnected state. Idempotent;
// the only path that suppresses auto-reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.gen++ // invalidate read pump and liveness watch
	c.attempts = 0
	c.exhausted = false
	changed := Status(c.machine.Current()) != StatusDisconnected
	if changed {
		_ = c.machine.Event(context.Background(), evDrop)
	}
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.alive.Store(false)
	if changed {
		c.notifyStatus(StatusDisconnected)
	}
}

// Subscribe adds a channel to the held set and, if connected, sends the
// subscribe frame immediately. Subscribing twice is a no-op. While a
// reconnect is in flight the frame is deferred to the next replay rather
// than written to a dead socket.
func (c *Client) Subscribe(kind model.ChannelKind, id int64) {
	if !c.registry.Add(kind, id) {
		return
	}
	c.sendIfConnected(controlFrame{Action: "subscribe", Type: string(kind), ID: id})
}

// Unsubscribe removes a channel from the held set and, if connected, sends
// the unsubscribe frame. Removing a non-member is a no-op.
func (c *Client) Unsubscribe(kind model.ChannelKind, id int64) {
	if !c.registry.Remove(kind, id) {
		return
	}
	c.sendIfConnected(controlFrame{Action: "unsubscribe", Type: string(kind), ID: id})
}

// controlFrame is an outbound protocol frame.
type controlFrame struct {
	Action string `json:"action"`
	Type   string `json:"type,omitempty"`
	ID     int64  `json:"id,omitempty"`
}

func (c *Client) sendIfConnected(f controlFrame) {
	c.mu.Lock()
	conn := c.conn
	connected := Status(c.machine.Current()) == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	c.writeFrame(conn, f)
}

func (c *Client) writeFrame(conn *websocket.Conn, f controlFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		c.log.Warn("write failed", zap.String("action", f.Action), zap.Error(err))
	}
}

func (c *Client) sendPong() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeFrame(conn, controlFrame{Action: "pong"})
}

// dial opens the transport with the token embedded in the connection request.
func (c *Client) dial(token string) {
	target, err := streamURL(c.cfg.URL, token)
	if err != nil {
		c.mu.Lock()
		_ = c.machine.Event(context.Background(), evFail)
		c.mu.Unlock()
		c.log.Error("bad stream URL", zap.Error(err))
		c.notifyStatus(StatusError)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, resp, err := dialer.Dial(target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if Status(c.machine.Current()) != StatusConnecting {
			// Torn down while dialing; nothing to do.
			c.mu.Unlock()
			return
		}
		_ = c.machine.Event(context.Background(), evFail)
		c.mu.Unlock()
		c.log.Warn("dial failed", zap.Error(err))
		c.notifyStatus(StatusError)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if Status(c.machine.Current()) != StatusConnecting {
		// Disconnect won the race; drop the fresh socket.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.gen++
	gen := c.gen
	_ = c.machine.Event(context.Background(), evOpen)
	c.attempts = 0
	c.exhausted = false
	c.lastFrame = time.Now()
	subs := c.registry.Snapshot()
	c.mu.Unlock()

	c.alive.Store(true)
	c.notifyStatus(StatusConnected)

	// Resubscribe protocol: replay the full held set, one frame per entry.
	for _, s := range subs {
		c.writeFrame(conn, controlFrame{Action: "subscribe", Type: string(s.Kind), ID: s.ID})
	}
	c.log.Info("connected", zap.Int("resubscribed", len(subs)))

	go c.readPump(conn, gen)
	go c.livenessWatch(gen)
}

func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.lastFrame = time.Now()
		c.mu.Unlock()
		c.dispatcher.Dispatch(raw)
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		// Superseded by Disconnect or a newer connection.
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	// Only a normal close (1000) ends the session for good; going-away (1001)
	// is what restarting servers send and must trigger reconnection.
	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	_ = c.machine.Event(context.Background(), evDrop)
	c.mu.Unlock()

	c.alive.Store(false)
	c.log.Info("stream closed", zap.Bool("normal", normal), zap.Error(err))
	c.notifyStatus(StatusDisconnected)
	if !normal {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt, replacing
// any previously armed timer. Exceeding the attempt cap settles the client
// in the error state until an explicit Connect, reported exactly once.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		if c.exhausted {
			c.mu.Unlock()
			return
		}
		c.exhausted = true
		if Status(c.machine.Current()) != StatusError {
			_ = c.machine.Event(context.Background(), evFail)
		}
		c.mu.Unlock()
		c.log.Error("reconnect attempts exhausted", zap.Int("attempts", c.cfg.MaxAttempts))
		c.notifyStatus(StatusError)
		return
	}
	delay := backoffDelay(c.cfg.BackoffFloor, c.cfg.BackoffCeiling, c.attempts)
	attempt := c.attempts
	c.cancelReconnectLocked()
	c.reconnect = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()

	metrics.Reconnects.Inc()
	c.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

func (c *Client) reconnectNow() {
	c.mu.Lock()
	switch Status(c.machine.Current()) {
	case StatusConnected, StatusConnecting:
		c.mu.Unlock()
		return
	}
	token := c.token
	_ = c.machine.Event(context.Background(), evConnect)
	c.mu.Unlock()

	c.notifyStatus(StatusConnecting)
	go c.dial(token)
}

// cancelReconnectLocked stops any pending reconnect timer. Caller holds c.mu,
// which is what makes Disconnect's cancellation atomic: a timer that already
// fired blocks on c.mu in reconnectNow and then sees the disconnected state.
func (c *Client) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// livenessWatch periodically refreshes perceived liveness so dependents can
// poll Alive without touching transport internals.
func (c *Client) livenessWatch(gen uint64) {
	t := time.NewTicker(c.cfg.LivenessInterval)
	defer t.Stop()
	for range t.C {
		c.mu.Lock()
		if c.gen != gen || c.conn == nil {
			c.mu.Unlock()
			return
		}
		stale := time.Since(c.lastFrame)
		c.mu.Unlock()
		c.alive.Store(stale < 3*c.cfg.LivenessInterval)
	}
}

func (c *Client) notifyStatus(st Status) {
	metrics.ConnectionState.Set(stateGaugeValue(st))
	c.statusMu.Lock()
	ids := make([]string, len(c.statusOrder))
	copy(ids, c.statusOrder)
	c.statusMu.Unlock()
	for _, id := range ids {
		c.statusMu.Lock()
		fn, ok := c.statusSubs[id]
		c.statusMu.Unlock()
		if !ok {
			continue
		}
		c.notifyOne(fn, st)
	}
}

func (c *Client) notifyOne(fn StatusConsumer, st Status) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("status consumer panicked", zap.Any("panic", r))
		}
	}()
	fn(st)
}

func stateGaugeValue(st Status) float64 {
	switch st {
	case StatusConnecting:
		return 1
	case StatusConnected:
		return 2
	case StatusError:
		return 3
	default:
		return 0
	}
}

// backoffDelay returns the delay before the given 1-based attempt:
// floor doubling per attempt, clamped to ceiling.
func backoffDelay(floor, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	d := floor << uint(attempt-1)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

func streamURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
