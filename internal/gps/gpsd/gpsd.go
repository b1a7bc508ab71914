package gpsd

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/gps"
	"nuha.dev/locagent/internal/location"
)

// Client is a positioning Provider backed by a gpsd daemon. It dials the
// gpsd socket, enables JSON watch mode and converts TPV reports into
// samples. There is no permission prompt on a gpsd host so
// RequestPermission always succeeds; ServiceEnabled probes the socket.
type Client struct {
	mu      sync.Mutex
	conf    Config
	log     log.Logger
	conn    net.Conn
	running bool

	last_mu  sync.Mutex
	last     location.Sample
	has_last bool
}

type Config struct {
	Addr        string
	DialTimeout time.Duration
	// DistFilter is applied in ProfileNormal: fixes closer than this many
	// meters to the previously delivered fix are not forwarded.
	DistFilter float64
}

const watchEnable = `?WATCH={"enable":true,"json":true};` + "\n"

// tpv is the subset of a gpsd TPV report the agent consumes.
type tpv struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Time  string   `json:"time"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
	Eph   *float64 `json:"eph"`
	Epx   *float64 `json:"epx"`
	Epy   *float64 `json:"epy"`
}

func NewClient(conf Config, logger log.Logger) *Client {
	o := &Client{conf: conf}
	if o.conf.DialTimeout == 0 {
		o.conf.DialTimeout = 2 * time.Second
	}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "gpsd").Str("addr", conf.Addr).Value()
	return o
}

func (c *Client) RequestPermission() bool {
	return true
}

func (c *Client) ServiceEnabled() bool {
	conn, err := net.DialTimeout("tcp", c.conf.Addr, c.conf.DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) Start(p gps.Profile, fn func(location.Sample)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.conf.Addr, c.conf.DialTimeout)
	if err != nil {
		return err
	}
	_, err = conn.Write([]byte(watchEnable))
	if err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.running = true
	go c.readLoop(conn, p, fn)
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.conn.Close()
	c.conn = nil
}

func (c *Client) Current() (location.Sample, bool) {
	c.last_mu.Lock()
	defer c.last_mu.Unlock()
	return c.last, c.has_last
}

func (c *Client) readLoop(conn net.Conn, p gps.Profile, fn func(location.Sample)) {
	r := bufio.NewReader(conn)
	var prev *location.Sample
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			c.mu.Lock()
			stopped := !c.running
			c.mu.Unlock()
			if !stopped {
				c.log.Error().Err(err).Msg("gpsd read failed")
			}
			return
		}
		rep := tpv{}
		err = json.Unmarshal(line, &rep)
		if err != nil {
			c.log.Debug().Err(err).Msg("skipping unparseable gpsd report")
			continue
		}
		if rep.Class != "TPV" || rep.Mode < 2 {
			// no fix yet
			continue
		}
		smp := rep.sample()
		c.last_mu.Lock()
		c.last = smp
		c.has_last = true
		c.last_mu.Unlock()
		if p == gps.ProfileNormal && prev != nil && c.conf.DistFilter > 0 {
			d := location.Haversine(prev.Latitude, prev.Longitude, smp.Latitude, smp.Longitude)
			if d < c.conf.DistFilter {
				continue
			}
		}
		cp := smp
		prev = &cp
		fn(smp)
	}
}

func (r *tpv) sample() location.Sample {
	s := location.Sample{Latitude: r.Lat, Longitude: r.Lon, Altitude: r.Alt, Speed: r.Speed, Heading: r.Track}
	switch {
	case r.Eph != nil:
		s.Accuracy = r.Eph
	case r.Epx != nil && r.Epy != nil:
		a := *r.Epx
		if *r.Epy > a {
			a = *r.Epy
		}
		s.Accuracy = location.Float(a)
	}
	t, err := time.Parse(time.RFC3339, r.Time)
	if err != nil {
		t = time.Now().UTC()
	}
	s.Timestamp = t
	return s
}
