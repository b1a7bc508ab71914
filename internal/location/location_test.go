package location

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCompactRoundTrip(t *testing.T) {
	s := Sample{Latitude: -6.21462, Longitude: 106.84513, Timestamp: time.Unix(1700000000, 0)}
	s.Accuracy = Float(12.5)
	s.Speed = Float(3.2)

	d, err := s.MarshalCompact()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalCompact(d)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Latitude != s.Latitude || got.Longitude != s.Longitude {
		t.Errorf("lat/lng not preserved: %v %v", got.Latitude, got.Longitude)
	}
	if got.Accuracy == nil || *got.Accuracy != 12.5 {
		t.Errorf("accuracy not preserved")
	}
	if got.Altitude != nil || got.Heading != nil {
		t.Errorf("absent fields should stay nil")
	}
	if !got.Timestamp.Equal(s.Timestamp) {
		t.Errorf("timestamp not preserved: %v", got.Timestamp)
	}
}

func TestCompactNullFields(t *testing.T) {
	s := Sample{Latitude: 1, Longitude: 2, Timestamp: time.Unix(1700000000, 0)}
	d, err := s.MarshalCompact()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(d, &m); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, k := range []string{"acc", "alt", "spd", "hdg"} {
		if string(m[k]) != "null" {
			t.Errorf("field %s = %s, want null", k, m[k])
		}
	}
	if string(m["ts"]) != "1700000000" {
		t.Errorf("ts = %s", m["ts"])
	}
}

func TestVerboseTimestampFormat(t *testing.T) {
	s := Sample{Latitude: 1, Longitude: 2, Timestamp: time.Date(2021, 9, 1, 10, 0, 0, 0, time.UTC)}
	d, err := s.MarshalVerbose()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(d, &m); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if m["timestamp"] != "2021-09-01T10:00:00Z" {
		t.Errorf("timestamp = %v", m["timestamp"])
	}
	got, err := UnmarshalVerbose(d)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Timestamp.Equal(s.Timestamp) {
		t.Errorf("timestamp round trip: %v", got.Timestamp)
	}
}

func TestFilterAccuracy(t *testing.T) {
	f := NewFilter(FilterConfig{MaxAccuracy: 30})
	coarse := Sample{Latitude: 1, Longitude: 1, Accuracy: Float(50)}
	fine := Sample{Latitude: 1, Longitude: 1, Accuracy: Float(10)}
	if f.Accept(coarse, nil) {
		t.Error("50m fix should be rejected at 30m maximum")
	}
	if !f.Accept(fine, nil) {
		t.Error("10m fix should be accepted at 30m maximum")
	}
	// fix without accuracy passes the accuracy rule
	if !f.Accept(Sample{Latitude: 1, Longitude: 1}, nil) {
		t.Error("fix without accuracy should pass")
	}
}

func TestFilterStationary(t *testing.T) {
	f := NewFilter(FilterConfig{SkipStationary: true, MinDistance: 2, MinSpeed: 0.5})
	prev := Sample{Latitude: -6.2000000, Longitude: 106.8000000}
	// roughly 1m north of prev
	near := Sample{Latitude: -6.2000000 + 1.0/111320.0, Longitude: 106.8000000}

	slow := near
	slow.Speed = Float(0.1)
	if f.Accept(slow, &prev) {
		t.Error("1m / 0.1m/s fix should be skipped while stationary")
	}

	moving := near
	moving.Speed = Float(2)
	if !f.Accept(moving, &prev) {
		t.Error("1m / 2m/s fix should be accepted")
	}

	// first fix always passes the stationary rule
	if !f.Accept(slow, nil) {
		t.Error("fix without predecessor should pass")
	}
}

func TestHaversine(t *testing.T) {
	// one degree of latitude is ~111km
	d := Haversine(0, 0, 1, 0)
	if d < 110000 || d > 112000 {
		t.Errorf("unexpected distance %f", d)
	}
	if Haversine(5, 5, 5, 5) != 0 {
		t.Error("identical points should be 0 apart")
	}
}
