package location

// FilterConfig bounds which fixes are worth transmitting.
type FilterConfig struct {
	// MaxAccuracy rejects fixes whose reported accuracy radius exceeds
	// this many meters. Zero disables the accuracy check.
	MaxAccuracy float64
	// SkipStationary suppresses fixes that moved less than MinDistance
	// meters from the previous accepted fix while slower than MinSpeed m/s.
	SkipStationary bool
	MinDistance    float64
	MinSpeed       float64
}

// Filter decides per fix whether it enters the delivery pipeline.
// It is a pure function over (sample, previous accepted sample).
type Filter struct {
	conf FilterConfig
}

func NewFilter(conf FilterConfig) *Filter {
	return &Filter{conf: conf}
}

func (f *Filter) Accept(s Sample, prev *Sample) bool {
	if f.conf.MaxAccuracy > 0 && s.Accuracy != nil && *s.Accuracy > f.conf.MaxAccuracy {
		return false
	}
	if f.conf.SkipStationary && prev != nil {
		d := Haversine(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
		if d < f.conf.MinDistance && s.SpeedValue() < f.conf.MinSpeed {
			return false
		}
	}
	return true
}
