package gps

import (
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/gps/sublist"
	"nuha.dev/locagent/internal/gps/subscriber"
	"nuha.dev/locagent/internal/location"
)

type Profile int

const (
	// ProfileNavigation requests maximum accuracy with every fix delivered.
	ProfileNavigation Profile = iota
	// ProfileNormal requests a minimum-distance filter to save power.
	ProfileNormal
)

func (p Profile) String() string {
	if p == ProfileNavigation {
		return "navigation"
	}
	return "normal"
}

// Provider is the platform positioning collaborator. Implementations must
// deliver fixes through the callback passed to Start until Stop is called.
type Provider interface {
	RequestPermission() bool
	ServiceEnabled() bool
	Start(p Profile, fn func(location.Sample)) error
	Stop()
	Current() (location.Sample, bool)
}

// Source wraps a Provider into a restartable fix sequence with subscriber
// fan-out. Starting while already started is a no-op returning success.
type Source struct {
	mu         sync.Mutex
	prov       Provider
	log        log.Logger
	subs       *sublist.Sublist
	running    bool
	profile    Profile
	prune_dur  time.Duration
	last_prune time.Time
}

func NewSource(prov Provider, logger log.Logger) *Source {
	o := &Source{prov: prov}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "gps-source").Value()
	o.subs = sublist.NewSublist()
	o.prune_dur = 20 * time.Second
	o.last_prune = time.Now()
	return o
}

func (s *Source) StartNavigationProfile() bool {
	return s.start(ProfileNavigation)
}

func (s *Source) StartNormalProfile() bool {
	return s.start(ProfileNormal)
}

// start reports failure as false, never as a panic: permission and service
// problems are the caller's to surface, retry is the caller's to decide.
func (s *Source) start(p Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Debug().Str("profile", s.profile.String()).Msg("already started")
		return true
	}
	if !s.prov.RequestPermission() {
		s.log.Error().Str("event", "permission_denied").Msg("location permission denied")
		return false
	}
	if !s.prov.ServiceEnabled() {
		s.log.Error().Str("event", "service_disabled").Msg("positioning service disabled")
		return false
	}
	err := s.prov.Start(p, s.push)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to start positioning provider")
		return false
	}
	s.running = true
	s.profile = p
	s.log.Info().Str("event", "source_started").Str("profile", p.String()).Msg("")
	return true
}

func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.prov.Stop()
	s.running = false
	s.log.Info().Str("event", "source_stopped").Msg("")
}

func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Current is the one-shot position query, independent of the running
// sequence.
func (s *Source) Current() (location.Sample, bool) {
	return s.prov.Current()
}

func (s *Source) Subscribe(sub subscriber.Subscriber) {
	s.subs.Subscribe(sub)
}

func (s *Source) Unsubscribe(sub subscriber.Subscriber) {
	s.subs.Unsubscribe(sub)
}

func (s *Source) push(smp location.Sample) {
	s.subs.Send(smp)
	t0 := time.Now()
	if t0.Sub(s.last_prune) > s.prune_dur {
		s.subs.Prune()
		s.last_prune = t0
	}
}
