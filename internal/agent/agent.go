package agent

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/channel"
	"nuha.dev/locagent/internal/command"
	"nuha.dev/locagent/internal/fallback"
	"nuha.dev/locagent/internal/gps"
	"nuha.dev/locagent/internal/gps/stat"
	"nuha.dev/locagent/internal/location"
	"nuha.dev/locagent/internal/queue"
	"nuha.dev/locagent/internal/session"
	"nuha.dev/locagent/internal/store"
)

// Mode selects the one retained delivery path; the agent never mixes
// primary and HTTP fallback per sample.
type Mode int

const (
	ModePrimary Mode = iota
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "primary"
}

type DrainStrategy int

const (
	DrainOneByOne DrainStrategy = iota
	DrainBatch
)

type Config struct {
	Mode             Mode
	DrainStrategy    DrainStrategy
	BatchSize        int
	QueueCapacity    int
	FailureThreshold int
	WatchdogPeriod   time.Duration
	// WatchdogTimeout is the inbound-silence window after which an active
	// session is stopped: prolonged backend silence is treated like an
	// explicit stop.
	WatchdogTimeout time.Duration
	CallTimeout     time.Duration
}

// Agent is the delivery coordinator. All mutation of the queue, the filter
// history and the failure counter happens on its single event loop
// goroutine; samples, inbound commands, connection transitions and watchdog
// ticks all arrive there as discrete events.
type Agent struct {
	conf   Config
	log    log.Logger
	src    *gps.Source
	ch     *channel.Channel
	fb     *fallback.Client
	q      *queue.Queue
	filter *location.Filter
	stat   *stat.Stat
	arch   store.Store
	proc   *command.Processor

	samples chan location.Sample
	stopped chan struct{}
	done    chan struct{}

	sub      *sampleSub
	prev     *location.Sample
	failures int
	qlen     int64
}

func New(conf Config, src *gps.Source, ch *channel.Channel, fb *fallback.Client, filter *location.Filter, arch store.Store, st *stat.Stat, logger log.Logger) *Agent {
	if conf.QueueCapacity == 0 {
		conf.QueueCapacity = 500
	}
	if conf.FailureThreshold == 0 {
		conf.FailureThreshold = 5
	}
	if conf.BatchSize == 0 {
		conf.BatchSize = 25
	}
	if conf.WatchdogPeriod == 0 {
		conf.WatchdogPeriod = 30 * time.Second
	}
	if conf.WatchdogTimeout == 0 {
		conf.WatchdogTimeout = 2 * time.Minute
	}
	if conf.CallTimeout == 0 {
		conf.CallTimeout = 5 * time.Second
	}
	o := &Agent{conf: conf, src: src, ch: ch, fb: fb, filter: filter, arch: arch, stat: st}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "agent").Str("mode", conf.Mode.String()).Value()
	o.q = queue.New(conf.QueueCapacity)
	o.samples = make(chan location.Sample, 256)
	o.stopped = make(chan struct{})
	o.done = make(chan struct{})
	return o
}

// SetProcessor wires the command processor after construction; the
// processor needs the agent as its pipeline and vice versa.
func (a *Agent) SetProcessor(p *command.Processor) {
	a.proc = p
}

func (a *Agent) Run() {
	if a.conf.Mode == ModePrimary {
		a.ch.Connect()
	}
	go a.loop()
}

func (a *Agent) Close() {
	close(a.stopped)
	<-a.done
	a.ch.Disconnect()
	a.src.Stop()
}

func (a *Agent) loop() {
	defer close(a.done)
	wd := time.NewTicker(a.conf.WatchdogPeriod)
	defer wd.Stop()
	for {
		select {
		case smp := <-a.samples:
			a.handleSample(smp)
		case st := <-a.ch.States():
			if st == channel.Connected {
				a.drain()
			}
		case cmd := <-a.ch.Commands():
			a.proc.Handle(cmd)
		case <-wd.C:
			a.watchdog()
		case <-a.stopped:
			return
		}
	}
}

// StartSharing implements command.Pipeline: turn the source on in
// navigation profile and attach the sample subscription.
func (a *Agent) StartSharing() bool {
	if !a.src.StartNavigationProfile() {
		return false
	}
	if a.sub == nil {
		a.sub = &sampleSub{a: a}
		a.src.Subscribe(a.sub)
	}
	if a.conf.Mode == ModePrimary {
		// no-op when already up
		a.ch.Connect()
	}
	return true
}

// StopSharing implements command.Pipeline: detach, stop the source and
// drop everything still queued. The channel stays up for future sessions.
func (a *Agent) StopSharing() {
	if a.sub != nil {
		a.sub.close()
		a.src.Unsubscribe(a.sub)
		a.sub = nil
	}
	a.src.Stop()
	// fixes that were buffered before the stop die with the session
	for {
		select {
		case <-a.samples:
		default:
			a.q.Clear()
			atomic.StoreInt64(&a.qlen, 0)
			a.prev = nil
			return
		}
	}
}

func (a *Agent) handleSample(smp location.Sample) {
	if a.sub == nil {
		// stopped after this fix was buffered
		return
	}
	if !a.filter.Accept(smp, a.prev) {
		return
	}
	cp := smp
	a.prev = &cp
	if a.arch != nil {
		a.arch.Put(smp)
	}
	a.deliver(smp)
	atomic.StoreInt64(&a.qlen, int64(a.q.Len()))
}

func (a *Agent) deliver(smp location.Sample) {
	if a.conf.Mode == ModePrimary && a.ch.State() != channel.Connected {
		a.enqueue(smp)
		return
	}
	// strict FIFO: anything still queued goes out first
	if a.q.Len() > 0 {
		a.drain()
	}
	if a.q.Len() > 0 {
		// drain stalled, the fresh sample lines up behind
		a.enqueue(smp)
		return
	}
	a.account(a.sendOne(smp), smp)
}

func (a *Agent) enqueue(smp location.Sample) {
	before := a.q.Evicted()
	a.q.Push(smp)
	a.stat.QueuedEv()
	if a.q.Evicted() != before {
		a.stat.DroppedEv()
	}
}

func (a *Agent) account(err error, smp location.Sample) {
	if err == nil {
		a.stat.SentEv(time.Now())
		a.failures = 0
		return
	}
	a.stat.FailedEv()
	a.enqueue(smp)
	a.deliveryFailed()
}

func (a *Agent) deliveryFailed() {
	a.failures++
	if a.failures < a.conf.FailureThreshold {
		return
	}
	a.failures = 0
	if a.conf.Mode == ModePrimary {
		// repeated send failures mean the "connected" state is stale
		a.log.Warn().Str("event", "forced_reconnect").Int("threshold", a.conf.FailureThreshold).Msg("consecutive delivery failures")
		a.ch.Reconnect()
	}
}

// drain pushes queued samples out in FIFO order through the mode's
// preferred transport. It stops at the first failure, leaving the
// remainder (order intact) for the next opportunity.
func (a *Agent) drain() {
	for a.q.Len() > 0 {
		var n int
		var err error
		if a.conf.DrainStrategy == DrainBatch {
			n, err = a.sendBatch(a.q.PeekBatch(a.conf.BatchSize))
		} else {
			smp, _ := a.q.Peek()
			n, err = 1, a.sendOne(smp)
		}
		if err != nil {
			a.stat.FailedEv()
			a.deliveryFailed()
			break
		}
		a.q.Discard(n)
		for i := 0; i < n; i++ {
			a.stat.SentEv(time.Now())
		}
		a.failures = 0
	}
	atomic.StoreInt64(&a.qlen, int64(a.q.Len()))
}

func (a *Agent) sendOne(smp location.Sample) error {
	if a.conf.Mode == ModeFallback {
		ctx, cancel := context.WithTimeout(context.Background(), a.conf.CallTimeout)
		defer cancel()
		return a.fb.PostSample(ctx, smp)
	}
	d, err := smp.MarshalCompact()
	if err != nil {
		return err
	}
	return a.ch.SendRaw(d)
}

func (a *Agent) sendBatch(batch []location.Sample) (int, error) {
	if a.conf.Mode == ModeFallback {
		ctx, cancel := context.WithTimeout(context.Background(), a.conf.CallTimeout)
		defer cancel()
		return len(batch), a.fb.PostBatch(ctx, batch)
	}
	locs := make([]json.RawMessage, 0, len(batch))
	for _, smp := range batch {
		d, err := smp.MarshalCompact()
		if err != nil {
			return 0, err
		}
		locs = append(locs, d)
	}
	return len(batch), a.ch.Send(channel.NewBatchMessage(locs))
}

// watchdog governs the session, not the socket: prolonged backend silence
// while sharing stops the session, and a channel with its reconnect
// attempts exhausted gets one manual kick per tick while a session still
// wants it.
func (a *Agent) watchdog() {
	if a.proc == nil || !a.proc.Sharing() {
		return
	}
	if a.conf.Mode == ModeFallback {
		// the HTTP path has no connection events to drain on, retry on
		// the watchdog cadence instead
		if a.q.Len() > 0 {
			a.drain()
		}
		return
	}
	if a.conf.Mode == ModePrimary {
		if a.ch.Stalled() {
			a.log.Info().Str("event", "watchdog_reconnect").Msg("kicking stalled channel")
			a.ch.Reconnect()
		}
		last := a.ch.LastInbound()
		if last.IsZero() {
			if s := a.proc.Session().StartedAt; s != nil {
				last = *s
			} else {
				return
			}
		}
		if time.Since(last) > a.conf.WatchdogTimeout {
			a.log.Warn().Str("event", "watchdog_stop").Time("last_inbound", last).Msg("backend silent, stopping session")
			a.proc.StopLocal("watchdog timeout")
		}
	}
}

// Status is the monitoring view of the agent.
type Status struct {
	Mode         string          `json:"mode"`
	ChannelState string          `json:"channel_state"`
	Sharing      bool            `json:"is_sharing"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	QueueLen     int64           `json:"queue_len"`
	QueueCap     int             `json:"queue_cap"`
	Stats        stat.Snapshot   `json:"stats"`
}

func (a *Agent) Status() Status {
	s := Status{
		Mode:         a.conf.Mode.String(),
		ChannelState: a.ch.State().String(),
		QueueLen:     atomic.LoadInt64(&a.qlen),
		QueueCap:     a.conf.QueueCapacity,
		Stats:        a.stat.Snapshot(),
	}
	if a.proc != nil {
		sess := a.proc.Session()
		s.Sharing = sess.Active
		s.StartedAt = sess.StartedAt
	}
	return s
}

// Navigation exposes the backend's navigation updates to the UI layer.
func (a *Agent) Navigation() <-chan channel.NavigationUpdate {
	return a.ch.Navigation()
}

// Resume applies persisted session state at boot, staleness already
// filtered by session.Resume.
func (a *Agent) Resume(st session.Store, staleness time.Duration) error {
	s, err := session.Resume(st, staleness, time.Now())
	if err != nil {
		return err
	}
	a.proc.Restore(s)
	return nil
}

// sampleSub feeds the source's fixes into the coordinator loop. Push never
// blocks: if the loop is saturated the fix is counted as dropped, the
// bounded queue's eviction policy is the only other sanctioned loss.
type sampleSub struct {
	a      *Agent
	closed uint32
}

func (s *sampleSub) Push(smp location.Sample) error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return nil
	}
	select {
	case s.a.samples <- smp:
	default:
		s.a.stat.DroppedEv()
	}
	return nil
}

func (s *sampleSub) close() {
	atomic.StoreUint32(&s.closed, 1)
}

func (s *sampleSub) Closed() bool {
	return atomic.LoadUint32(&s.closed) == 1
}

func (s *sampleSub) Name() string {
	return "agent"
}
