package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"

	"nuha.dev/locagent/internal/location"
)

// Store archives samples into postgres. Writes are buffered and flushed
// with CopyFrom either when the buffer fills or when its oldest entry
// exceeds MaxAgeFlush, so a slow trickle of fixes still reaches the table.
type Store struct {
	config *StoreConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	rbuf   buffer
	wbuf   buffer
	dbp    *pgxpool.Pool
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []location.Sample
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]location.Sample, 0, len)}
}

func NewStore(db *pgxpool.Pool, table string, config *StoreConfig) *Store {
	o := &Store{}
	if config == nil {
		config = &StoreConfig{}
	}
	if config.BufSize == 0 {
		config.BufSize = 50
	}
	if config.TickerDur == 0 {
		config.TickerDur = 10 * time.Second
	}
	if config.MaxAgeFlush == 0 {
		config.MaxAgeFlush = 30 * time.Second
	}
	o.config = config
	o.table = table
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Str("table", table).Value()
	o.wbuf = new_buffer(1, o.config.BufSize)
	o.wlock = &sync.Mutex{}
	o.cond = sync.NewCond(&sync.Mutex{})
	return o
}

func (st *Store) Run() {
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	for t := range ticker.C {
		st.wlock.Lock()
		if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
			st.flush()
		}
		st.wlock.Unlock()
	}
}

func (st *Store) Put(s location.Sample) {
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, s)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.cond.L.Lock()
	st.rbuf = st.wbuf
	st.cond.L.Unlock()
	st.cond.Signal()
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	var seq uint64
	for {
		st.cond.L.Lock()
		for st.rbuf.seq == seq {
			st.cond.Wait()
		}
		buf := st.rbuf
		st.cond.L.Unlock()
		seq = buf.seq
		st.write(buf.buf)
	}
}

func (st *Store) write(data []location.Sample) {
	t0 := time.Now()
	recorded := t0.UTC()
	_, err := st.dbp.CopyFrom(context.Background(),
		pgx.Identifier{st.table},
		[]string{"latitude", "longitude", "accuracy", "altitude", "speed", "heading", "sample_time", "recorded_time"},
		pgx.CopyFromSlice(len(data), func(i int) ([]interface{}, error) {
			d := data[i]
			return []interface{}{d.Latitude, d.Longitude, d.Accuracy, d.Altitude, d.Speed, d.Heading, d.Timestamp, recorded}, nil
		}))
	if err != nil {
		st.log.Error().Err(err).Int("rows", len(data)).Msg("error flushing samples")
		return
	}
	st.log.Debug().Int("rows", len(data)).Dur("took", time.Since(t0)).Msg("samples flushed")
}
