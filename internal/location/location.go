package location

import (
	"encoding/json"
	"time"
)

// Sample is a single positioning fix. Accuracy, altitude, speed and heading
// are pointers because the positioning source may not supply them.
type Sample struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Altitude  *float64
	Speed     *float64
	Heading   *float64
	Timestamp time.Time
}

// compact encoding used on the duplex channel, short field names and
// unix-second timestamp to keep frames small on a metered link
type compactSample struct {
	Lat float64  `json:"lat"`
	Lng float64  `json:"lng"`
	Acc *float64 `json:"acc"`
	Alt *float64 `json:"alt"`
	Spd *float64 `json:"spd"`
	Hdg *float64 `json:"hdg"`
	Ts  int64    `json:"ts"`
}

// verbose encoding used for the HTTP fallback path and persistence
type verboseSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Altitude  *float64  `json:"altitude"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Sample) MarshalCompact() ([]byte, error) {
	c := compactSample{Lat: s.Latitude, Lng: s.Longitude, Acc: s.Accuracy, Alt: s.Altitude, Spd: s.Speed, Hdg: s.Heading, Ts: s.Timestamp.Unix()}
	return json.Marshal(c)
}

func UnmarshalCompact(d []byte) (Sample, error) {
	c := compactSample{}
	err := json.Unmarshal(d, &c)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{Latitude: c.Lat, Longitude: c.Lng, Accuracy: c.Acc, Altitude: c.Alt, Speed: c.Spd, Heading: c.Hdg}
	s.Timestamp = time.Unix(c.Ts, 0).UTC()
	return s, nil
}

func (s Sample) MarshalVerbose() ([]byte, error) {
	v := verboseSample{Latitude: s.Latitude, Longitude: s.Longitude, Accuracy: s.Accuracy, Altitude: s.Altitude, Speed: s.Speed, Heading: s.Heading, Timestamp: s.Timestamp.UTC()}
	return json.Marshal(v)
}

func UnmarshalVerbose(d []byte) (Sample, error) {
	v := verboseSample{}
	err := json.Unmarshal(d, &v)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Latitude: v.Latitude, Longitude: v.Longitude, Accuracy: v.Accuracy, Altitude: v.Altitude, Speed: v.Speed, Heading: v.Heading, Timestamp: v.Timestamp}, nil
}

// SpeedValue returns the reported speed or 0 when the fix carries none.
func (s Sample) SpeedValue() float64 {
	if s.Speed == nil {
		return 0
	}
	return *s.Speed
}

func Float(v float64) *float64 {
	return &v
}
