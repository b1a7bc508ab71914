package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/locagent/internal/gps/stat"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("channel not connected")

type Config struct {
	URL         string
	DialTimeout time.Duration
	// Reconnection backoff: delay = BaseDelay * attempt, clamped to
	// [BaseDelay, MaxDelay]. After MaxAttempts the channel stays down
	// until Reconnect() is called.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Channel is the persistent duplex connection to the backend. Samples go
// out, commands and navigation updates come in. Reconnection with backoff
// is owned here; whether a *session* survives an outage is the agent's
// policy, not the channel's.
type Channel struct {
	conf Config
	log  log.Logger
	stat *stat.Stat

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	attempt  int
	retry    *time.Timer
	manual   bool
	dropped  uint64
	lastRecv int64

	cmds   chan Command
	navs   chan NavigationUpdate
	states chan State
}

func NewChannel(conf Config, logger log.Logger, st *stat.Stat) *Channel {
	o := &Channel{conf: conf, stat: st}
	if o.conf.DialTimeout == 0 {
		o.conf.DialTimeout = 10 * time.Second
	}
	if o.conf.BaseDelay == 0 {
		o.conf.BaseDelay = 2 * time.Second
	}
	if o.conf.MaxDelay == 0 {
		o.conf.MaxDelay = 30 * time.Second
	}
	if o.conf.MaxAttempts == 0 {
		o.conf.MaxAttempts = 5
	}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "channel").Str("url", conf.URL).Value()
	o.cmds = make(chan Command, 16)
	o.navs = make(chan NavigationUpdate, 16)
	o.states = make(chan State, 8)
	return o
}

// Commands delivers decoded inbound commands, ping excluded.
func (c *Channel) Commands() <-chan Command {
	return c.cmds
}

// Navigation delivers decoded navigation updates for the UI layer.
func (c *Channel) Navigation() <-chan NavigationUpdate {
	return c.navs
}

// States delivers connection-state transitions. Slow consumers lose
// intermediate transitions, never the latest one relative to what they
// have already read.
func (c *Channel) States() <-chan State {
	return c.states
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastInbound is the receive time of the most recent inbound frame,
// zero before the first one. The watchdog reads this.
func (c *Channel) LastInbound() time.Time {
	n := atomic.LoadInt64(&c.lastRecv)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connect dials the backend. No-op unless currently disconnected.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.manual = false
	c.mu.Unlock()
	c.notify(Connecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.conf.DialTimeout)
	conn, _, err := websocket.Dial(ctx, c.conf.URL, nil)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		attempt := c.attempt
		c.mu.Unlock()
		c.log.Error().Err(err).Int("attempt", attempt).Msg("dial failed")
		c.notify(Disconnected)
		c.scheduleReconnect()
		return
	}
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	if c.manual {
		// Disconnect() raced the dial, drop the fresh socket
		c.state = Disconnected
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.notify(Disconnected)
		return
	}
	c.conn = conn
	c.state = Connected
	c.attempt = 0
	c.mu.Unlock()
	c.stat.ConnectEv(time.Now().UTC())
	c.log.Info().Str("event", "connected").Msg("")
	c.notify(Connected)
	go c.readLoop(conn)
}

// Disconnect closes deliberately: pending retry is cancelled and no new
// one is scheduled.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Reconnect is the manual kick used by the watchdog and by the failure
// counter: it resets the attempt counter, tears down any current socket
// and dials again.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	c.attempt = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		// readLoop notices the close and handles the state transition,
		// reconnection follows from there with the counter reset
		conn.Close(websocket.StatusGoingAway, "forced reconnect")
		return
	}
	c.Connect()
}

// Send marshals v and writes it. Not-connected is a checked state, not a
// fault: the caller is expected to have queued already.
func (c *Channel) Send(v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(d)
}

func (c *Channel) SendRaw(d []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.log.Warn().Str("event", "send_skipped").Msg("send while not connected")
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, d)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.connLost(conn, err)
			return
		}
		atomic.StoreInt64(&c.lastRecv, time.Now().UnixNano())
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	env := envelope{}
	err := json.Unmarshal(data, &env)
	if err != nil {
		// malformed inbound frames are dropped, they never kill the link
		c.log.Error().Err(err).Str("event", "malformed_message").Msg("dropping inbound frame")
		return
	}
	switch {
	case env.Command == CmdPing:
		// answered at the channel layer to keep the link warm, the
		// processor never sees it
		err := c.Send(pongReply{Type: "pong", RequestID: env.RequestID})
		if err != nil {
			c.log.Warn().Err(err).Msg("unable to answer ping")
		}
	case env.Command != "":
		c.deliverCommand(Command{Name: env.Command, RequestID: env.RequestID})
	case env.Type == "navigation_update":
		nav := NavigationUpdate{}
		err := json.Unmarshal(env.Data, &nav)
		if err != nil {
			c.log.Error().Err(err).Str("event", "malformed_message").Msg("dropping navigation update")
			return
		}
		select {
		case c.navs <- nav:
		default:
			atomic.AddUint64(&c.dropped, 1)
		}
	default:
		c.log.Debug().Str("type", env.Type).Msg("ignoring inbound frame")
	}
}

func (c *Channel) deliverCommand(cmd Command) {
	select {
	case c.cmds <- cmd:
	default:
		atomic.AddUint64(&c.dropped, 1)
		c.log.Warn().Str("command", cmd.Name).Msg("command buffer full, dropping")
	}
}

func (c *Channel) connLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	manual := c.manual
	c.mu.Unlock()
	conn.Close(websocket.StatusAbnormalClosure, "read failed")
	c.stat.DisconnectEv(time.Now().UTC())
	c.log.Info().Err(err).Str("event", "disconnected").Bool("deliberate", manual).Msg("")
	c.notify(Disconnected)
	if !manual {
		c.scheduleReconnect()
	}
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manual || c.retry != nil {
		return
	}
	if c.attempt >= c.conf.MaxAttempts {
		c.log.Error().Int("attempts", c.attempt).Msg("reconnect attempts exhausted, waiting for manual kick")
		return
	}
	c.attempt++
	delay := backoffDelay(c.conf.BaseDelay, c.conf.MaxDelay, c.attempt)
	c.log.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("scheduling reconnect")
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		c.Connect()
	})
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt)
	if d < base {
		d = base
	}
	if d > max {
		d = max
	}
	return d
}

func (c *Channel) notify(s State) {
	for {
		select {
		case c.states <- s:
			return
		default:
			// consumer is behind, shed the oldest transition so the
			// latest is never the one lost
			select {
			case <-c.states:
			default:
			}
		}
	}
}

// Stalled reports that the channel is down with its reconnect attempts
// exhausted; only a manual Reconnect gets it moving again.
func (c *Channel) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Disconnected && c.retry == nil && c.attempt >= c.conf.MaxAttempts
}

func (c *Channel) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}
