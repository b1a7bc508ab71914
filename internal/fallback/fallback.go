package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/locagent/internal/location"
)

// Client is the stateless request/response path used while the duplex
// channel is down. Every call is one HTTP round trip with its own timeout;
// retry and backoff belong to the delivery coordinator, not here.
type Client struct {
	base   string
	hc     *http.Client
	logger zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	o := &Client{base: baseURL}
	o.hc = &http.Client{Timeout: timeout}
	o.logger = log.With().Str("module", "fallback").Logger()
	return o
}

func (c *Client) PostSample(ctx context.Context, s location.Sample) error {
	d, err := s.MarshalVerbose()
	if err != nil {
		return err
	}
	return c.post(ctx, "/location/update", d)
}

type batchBody struct {
	Locations []json.RawMessage `json:"locations"`
}

func (c *Client) PostBatch(ctx context.Context, samples []location.Sample) error {
	body := batchBody{Locations: make([]json.RawMessage, 0, len(samples))}
	for _, s := range samples {
		d, err := s.MarshalVerbose()
		if err != nil {
			return err
		}
		body.Locations = append(body.Locations, d)
	}
	d, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.post(ctx, "/location/batch", d)
}

func (c *Client) Current(ctx context.Context) (location.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/location/current", nil)
	if err != nil {
		return location.Sample{}, err
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return location.Sample{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return location.Sample{}, fmt.Errorf("GET /location/current: status %d", res.StatusCode)
	}
	d, err := io.ReadAll(res.Body)
	if err != nil {
		return location.Sample{}, err
	}
	return location.UnmarshalVerbose(d)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("post failed")
		return err
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d", path, res.StatusCode)
	}
	return nil
}
