package subscriber

import "nuha.dev/locagent/internal/location"

// Subscriber receives every fix the running source produces. Push must not
// block; a subscriber that cannot keep up drops on its own side.
type Subscriber interface {
	Push(s location.Sample) error
	Closed() bool
	Name() string
}
