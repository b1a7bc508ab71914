package stat

import (
	"sync"
	"sync/atomic"
	"time"
)

type counter struct {
	base time.Time
	cnt  uint64
}

type time_event struct {
	list [10]time.Time
	idx  int
	mu   sync.Mutex
}

func (l *time_event) log(t time.Time) {
	l.mu.Lock()
	l.list[l.idx] = t
	l.idx = l.idx + 1
	if l.idx == len(l.list) {
		l.idx = 0
	}
	l.mu.Unlock()
}

func (l *time_event) last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.idx - 1
	if i < 0 {
		i = len(l.list) - 1
	}
	return l.list[i]
}

// Stat tracks delivery and connection statistics for the telemetry
// pipeline: rolling per-minute sent counters plus rings of the most recent
// connect/disconnect times.
type Stat struct {
	connect    time_event
	disconnect time_event

	sent    uint64
	queued  uint64
	failed  uint64
	dropped uint64

	mu    sync.Mutex
	buf   [100]counter
	phead int
	dur   time.Duration

	created time.Time
}

func NewStat() *Stat {
	o := &Stat{}
	o.dur = time.Minute
	o.created = time.Now()
	return o
}

func (s *Stat) ConnectEv(t time.Time)    { s.connect.log(t) }
func (s *Stat) DisconnectEv(t time.Time) { s.disconnect.log(t) }

func (s *Stat) SentEv(t time.Time) {
	atomic.AddUint64(&s.sent, 1)
	s.counterIncr(1, t)
}

func (s *Stat) QueuedEv()  { atomic.AddUint64(&s.queued, 1) }
func (s *Stat) FailedEv()  { atomic.AddUint64(&s.failed, 1) }
func (s *Stat) DroppedEv() { atomic.AddUint64(&s.dropped, 1) }

func (s *Stat) counterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = s.phead + 1
			if s.phead == len(s.buf) {
				s.phead = 0
			}
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else if f.Equal(last.base) {
		last.cnt = last.cnt + amt
	}
	s.mu.Unlock()
}

// Snapshot is the monitoring view of the counters.
type Snapshot struct {
	Sent           uint64    `json:"sent"`
	Queued         uint64    `json:"queued"`
	Failed         uint64    `json:"failed"`
	Dropped        uint64    `json:"dropped"`
	SentLastMinute uint64    `json:"sent_last_minute"`
	LastConnect    time.Time `json:"last_connect"`
	LastDisconnect time.Time `json:"last_disconnect"`
	Since          time.Time `json:"since"`
}

func (s *Stat) Snapshot() Snapshot {
	snap := Snapshot{
		Sent:           atomic.LoadUint64(&s.sent),
		Queued:         atomic.LoadUint64(&s.queued),
		Failed:         atomic.LoadUint64(&s.failed),
		Dropped:        atomic.LoadUint64(&s.dropped),
		LastConnect:    s.connect.last(),
		LastDisconnect: s.disconnect.last(),
		Since:          s.created,
	}
	s.mu.Lock()
	cur := time.Now().Truncate(s.dur)
	if s.buf[s.phead].base.Equal(cur) {
		snap.SentLastMinute = s.buf[s.phead].cnt
	}
	s.mu.Unlock()
	return snap
}
