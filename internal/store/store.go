package store

import (
	"nuha.dev/locagent/internal/location"
)

// Store archives every sample accepted by the filter, regardless of
// delivery outcome. Put must not block the pipeline.
type Store interface {
	Put(s location.Sample)
}
