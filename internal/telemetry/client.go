package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/plant"
)

// Client is the HTTP implementation of Source and Catalog.
type Client struct {
	base  *url.URL
	cfg   Config
	http  *http.Client
	log   logger.Logger
	nowFn func() time.Time
}

var (
	_ Source  = (*Client)(nil)
	_ Catalog = (*Client)(nil)
)

// NewClient builds a client for the service at cfg.BaseURL. A nil httpClient
// gets a client with a short dial timeout and cfg.Timeout as overall deadline.
// A zero Timeout leaves requests bounded only by their context.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidBaseURL, err)
	}

	if httpClient == nil {
		httpClient = newHTTPClient(cfg.Timeout)
	}

	return &Client{
		base:  base,
		cfg:   cfg,
		http:  httpClient,
		log:   logger.Component("telemetry"),
		nowFn: time.Now,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// FetchCurrent fetches the current reading of key.
func (c *Client) FetchCurrent(ctx context.Context, key plant.Key) (Reading, error) {
	var pv pvData
	if err := c.getJSON(ctx, c.plantURL(key, "pvdata", nil), &pv, false); err != nil {
		return Reading{}, newFetchError(key, ChannelCurrent, err)
	}

	return pv.toReading(key, c.nowFn()), nil
}

// FetchLog fetches the log window of key, in the order the service returns it.
func (c *Client) FetchLog(ctx context.Context, key plant.Key) ([]LogEntry, error) {
	var query url.Values
	if c.cfg.LogWindow > 0 {
		query = url.Values{"window": {strconv.Itoa(c.cfg.LogWindow)}}
	}

	// The service answers with an empty body until the first sample of the day.
	var records []logRecord
	if err := c.getJSON(ctx, c.plantURL(key, "logpvdata", query), &records, true); err != nil {
		return nil, newFetchError(key, ChannelLog, err)
	}

	entries := make([]LogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.toEntry(key))
	}
	return entries, nil
}

// ListPlants fetches the plant catalog.
func (c *Client) ListPlants(ctx context.Context) ([]plant.Plant, error) {
	u := *c.base
	u.Path = c.base.Path + "/plant"
	u.RawPath = ""

	var records []plantRecord
	if err := c.getJSON(ctx, u.String(), &records, false); err != nil {
		return nil, errors.New().Wrap(ErrListPlants, err)
	}

	plants := make([]plant.Plant, 0, len(records))
	for _, r := range records {
		if r.PlantKey == "" {
			c.log.Warn().Str("name", r.Name).Msg("Skipping catalog entry without plant key")
			continue
		}
		plants = append(plants, r.toPlant())
	}
	return plants, nil
}

func (c *Client) plantURL(key plant.Key, resource string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/plant/" + string(key) + "/" + resource
	u.RawPath = c.base.EscapedPath() + "/plant/" + url.PathEscape(string(key)) + "/" + resource
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// getJSON decodes the response body into out. With allowEmpty an empty or
// whitespace-only 2xx body leaves out untouched.
func (c *Client) getJSON(ctx context.Context, target string, out any, allowEmpty bool) error {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errFactory.Wrap(ErrRequestBuild, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errFactory.WithData(ErrUnexpectedStatus, struct {
			URL    string
			Status int
			Body   string
		}{
			URL:    target,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if !allowEmpty || !errors.Is(err, io.EOF) {
			return errFactory.Wrap(ErrDecode, err)
		}
	}

	c.log.Debug().Str("url", target).Int("status", resp.StatusCode).Msg("Fetched")
	return nil
}
