package fallback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nuha.dev/locagent/internal/location"
)

func TestPostSample(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	s := location.Sample{Latitude: -6.2, Longitude: 106.8, Timestamp: time.Unix(1700000000, 0).UTC()}
	s.Accuracy = location.Float(9)
	if err := c.PostSample(context.Background(), s); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotPath != "/location/update" {
		t.Errorf("path = %s", gotPath)
	}
	got, err := location.UnmarshalVerbose(gotBody)
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.Latitude != s.Latitude || got.Accuracy == nil || *got.Accuracy != 9 {
		t.Errorf("body mangled: %s", gotBody)
	}
}

func TestPostBatchOrder(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/location/batch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	samples := []location.Sample{{Latitude: 1}, {Latitude: 2}, {Latitude: 3}}
	if err := c.PostBatch(context.Background(), samples); err != nil {
		t.Fatalf("post: %v", err)
	}
	body := struct {
		Locations []json.RawMessage `json:"locations"`
	}{}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Locations) != 3 {
		t.Fatalf("batch size %d", len(body.Locations))
	}
	for i, raw := range body.Locations {
		s, err := location.UnmarshalVerbose(raw)
		if err != nil || s.Latitude != float64(i+1) {
			t.Errorf("batch order broken at %d: %s", i, raw)
		}
	}
}

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, _ := location.Sample{Latitude: 5, Longitude: 6, Timestamp: time.Unix(1700000000, 0)}.MarshalVerbose()
		w.Write(d)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	s, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if s.Latitude != 5 || s.Longitude != 6 {
		t.Errorf("got %+v", s)
	}
}

func TestErrorStatusReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.PostSample(context.Background(), location.Sample{}); err == nil {
		t.Error("502 should surface as an error")
	}
	if _, err := c.Current(context.Background()); err == nil {
		t.Error("502 should surface as an error")
	}
}
