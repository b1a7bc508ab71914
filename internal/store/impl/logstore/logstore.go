package logstore

import (
	"github.com/rs/zerolog/log"

	"nuha.dev/locagent/internal/location"
)

// LogStore is the archive sink for hosts without a database: accepted
// samples go to the structured log and nowhere else.
type LogStore struct {
}

func NewStore() *LogStore {
	return &LogStore{}
}

func (l *LogStore) Put(s location.Sample) {
	ev := log.Info().Float64("lat", s.Latitude).Float64("lng", s.Longitude).Time("sample_time", s.Timestamp)
	if s.Accuracy != nil {
		ev = ev.Float64("acc", *s.Accuracy)
	}
	if s.Speed != nil {
		ev = ev.Float64("spd", *s.Speed)
	}
	ev.Msg("sample")
}
