package sublist

import (
	"sync"

	"nuha.dev/locagent/internal/gps/subscriber"
	"nuha.dev/locagent/internal/location"
)

type subflag struct {
	sub    subscriber.Subscriber
	err    error
	closed bool
}

// Sublist fans one stream of fixes out to a set of subscribers. Failed or
// closed subscribers are not removed eagerly; Prune compacts the list by
// moving live tail entries into dead slots.
type Sublist struct {
	list []subflag
	mu   sync.Mutex
}

func NewSublist() *Sublist {
	o := &Sublist{}
	o.list = make([]subflag, 0, 8)
	return o
}

func (s *Sublist) Subscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	s.list = append(s.list, subflag{sub: sub})
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].sub == sub {
			s.list[i].closed = true
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Sublist) Send(smp location.Sample) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].closed {
			continue
		}
		err := s.list[i].sub.Push(smp)
		s.list[i].err = err
	}
	s.mu.Unlock()
}

func (s *Sublist) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	olen := len(s.list)
	tail := olen - 1
look_bad:
	for i := 0; i < olen; i++ {
		if s.bad(i) { //index i is bad
			//look for replacement from the tail
			for j := tail; j > i; j-- {
				if !s.bad(j) {
					s.list[i] = s.list[j] //j is good index, replace i with j
					if i+1 == j {
						//i and j adjacent, i is last known good index
						s.list = s.list[:i+1]
						return
					}
					tail = j - 1
					continue look_bad
				}
			}
			//found no replacement, trim to i because i is last bad index
			s.list = s.list[:i]
			return
		} else if i == tail { //index i is not bad and happens to equal tail
			s.list = s.list[:i+1]
			return
		}
	}
}

func (s *Sublist) bad(i int) bool {
	return s.list[i].err != nil || s.list[i].closed || s.list[i].sub.Closed()
}
