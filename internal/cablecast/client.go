// SPDX-License-Identifier: MIT

package cablecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ctvcoop/archivist/internal/httpx"
	"github.com/ctvcoop/archivist/internal/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryBase  = time.Second
)

// Config configures the upstream client. Basic auth is canonical; a bearer
// token takes precedence when set.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Token      string
	LocationID int
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// New builds a Client from cfg, instrumenting the transport for tracing.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	hc := httpx.NewClient(cfg.Timeout)
	hc.Transport = otelhttp.NewTransport(hc.Transport)
	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: hc,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// do issues the request with the retry policy: network errors and 5xx are
// retried with exponential backoff, 4xx surface immediately. body may be nil;
// when non-nil it must be replayable, so callers pass raw bytes.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body []byte, contentType string) ([]byte, error) {
	u := c.base + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.RetryBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		c.authorize(req)

		res, err := c.http.Do(req)
		if err != nil {
			lastErr = &UpstreamError{Status: 0, Message: err.Error(), Endpoint: endpoint}
			clog := log.WithComponent("cablecast")
			clog.Warn().
				Str("endpoint", endpoint).
				Int(log.FieldAttempt, attempt).
				Err(err).
				Msg("upstream request failed")
			continue
		}

		payload, readErr := io.ReadAll(io.LimitReader(res.Body, 32<<20))
		res.Body.Close()
		if readErr != nil {
			lastErr = &UpstreamError{Status: res.StatusCode, Message: readErr.Error(), Endpoint: endpoint}
			continue
		}

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return payload, nil
		case res.StatusCode >= 500:
			lastErr = &UpstreamError{Status: res.StatusCode, Message: snippet(payload), Endpoint: endpoint}
			clog := log.WithComponent("cablecast")
			clog.Warn().
				Str("endpoint", endpoint).
				Int("status", res.StatusCode).
				Int(log.FieldAttempt, attempt).
				Msg("upstream 5xx, retrying")
			continue
		default:
			return nil, &UpstreamError{Status: res.StatusCode, Message: snippet(payload), Endpoint: endpoint}
		}
	}
	return nil, lastErr
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}

// getJSON decodes into out; an empty body leaves out at its zero value.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	payload, err := c.do(ctx, http.MethodGet, endpoint, query, nil, "")
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &UpstreamError{Status: 200, Message: "malformed JSON: " + err.Error(), Endpoint: endpoint}
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	payload, err := c.do(ctx, method, endpoint, nil, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &UpstreamError{Status: 200, Message: "malformed JSON: " + err.Error(), Endpoint: endpoint}
	}
	return nil
}

// TestConnection verifies the base URL and credentials with a cheap call.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.GetLocations(ctx)
	return err
}

// GetShows lists shows, optionally filtered by location. A zero locationID
// falls back to the configured location; pass -1 for all locations.
func (c *Client) GetShows(ctx context.Context, locationID int) ([]Show, error) {
	if locationID == 0 {
		locationID = c.cfg.LocationID
	}
	q := url.Values{}
	if locationID > 0 {
		q.Set("location", strconv.Itoa(locationID))
	}
	var resp struct {
		Shows []Show `json:"shows"`
	}
	if err := c.getJSON(ctx, "/shows", q, &resp); err != nil {
		return nil, err
	}
	if resp.Shows == nil {
		resp.Shows = []Show{}
	}
	return resp.Shows, nil
}

func (c *Client) GetShow(ctx context.Context, id int) (*Show, error) {
	var resp struct {
		Show Show `json:"show"`
	}
	if err := c.getJSON(ctx, "/shows/"+strconv.Itoa(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Show, nil
}

func (c *Client) CreateShow(ctx context.Context, show Show) (*Show, error) {
	var resp struct {
		Show Show `json:"show"`
	}
	in := struct {
		Show Show `json:"show"`
	}{show}
	if err := c.sendJSON(ctx, http.MethodPost, "/shows", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Show, nil
}

func (c *Client) UpdateShow(ctx context.Context, show Show) error {
	in := struct {
		Show Show `json:"show"`
	}{show}
	return c.sendJSON(ctx, http.MethodPut, "/shows/"+strconv.Itoa(show.ID), in, nil)
}

// GetVODs lists VODs, optionally scoped to a show (0 = all).
func (c *Client) GetVODs(ctx context.Context, showID int) ([]VOD, error) {
	q := url.Values{}
	if showID > 0 {
		q.Set("show", strconv.Itoa(showID))
	}
	var resp struct {
		VODs []VOD `json:"vods"`
	}
	if err := c.getJSON(ctx, "/vods", q, &resp); err != nil {
		return nil, err
	}
	if resp.VODs == nil {
		resp.VODs = []VOD{}
	}
	return resp.VODs, nil
}

func (c *Client) GetVOD(ctx context.Context, id int) (*VOD, error) {
	var resp struct {
		VOD VOD `json:"vod"`
	}
	if err := c.getJSON(ctx, "/vods/"+strconv.Itoa(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.VOD, nil
}

func (c *Client) CreateVOD(ctx context.Context, vod VOD) (*VOD, error) {
	var resp struct {
		VOD VOD `json:"vod"`
	}
	in := struct {
		VOD VOD `json:"vod"`
	}{vod}
	if err := c.sendJSON(ctx, http.MethodPost, "/vods", in, &resp); err != nil {
		return nil, err
	}
	return &resp.VOD, nil
}

// UpdateVODMetadata merges the given metadata keys into the VOD record.
func (c *Client) UpdateVODMetadata(ctx context.Context, id int, metadata map[string]any) error {
	in := struct {
		VOD struct {
			Metadata map[string]any `json:"metadata"`
		} `json:"vod"`
	}{}
	in.VOD.Metadata = metadata
	return c.sendJSON(ctx, http.MethodPut, "/vods/"+strconv.Itoa(id), in, nil)
}

func (c *Client) DeleteVOD(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodDelete, "/vods/"+strconv.Itoa(id), nil, nil, "")
	return err
}

func (c *Client) GetVODStatus(ctx context.Context, id int) (*VODStatus, error) {
	var status VODStatus
	if err := c.getJSON(ctx, "/vodStatus/"+strconv.Itoa(id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) GetVODChapters(ctx context.Context, vodID int) ([]Chapter, error) {
	var resp struct {
		Chapters []Chapter `json:"chapters"`
	}
	if err := c.getJSON(ctx, "/vods/"+strconv.Itoa(vodID)+"/chapters", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Chapters == nil {
		resp.Chapters = []Chapter{}
	}
	return resp.Chapters, nil
}

func (c *Client) CreateVODChapter(ctx context.Context, ch Chapter) (*Chapter, error) {
	var resp struct {
		Chapter Chapter `json:"chapter"`
	}
	in := struct {
		Chapter Chapter `json:"chapter"`
	}{ch}
	if err := c.sendJSON(ctx, http.MethodPost, "/vods/"+strconv.Itoa(ch.VODID)+"/chapters", in, &resp); err != nil {
		return nil, err
	}
	return &resp.Chapter, nil
}

func (c *Client) UpdateVODChapter(ctx context.Context, ch Chapter) error {
	in := struct {
		Chapter Chapter `json:"chapter"`
	}{ch}
	endpoint := fmt.Sprintf("/vods/%d/chapters/%d", ch.VODID, ch.ID)
	return c.sendJSON(ctx, http.MethodPut, endpoint, in, nil)
}

func (c *Client) DeleteVODChapter(ctx context.Context, vodID, chapterID int) error {
	endpoint := fmt.Sprintf("/vods/%d/chapters/%d", vodID, chapterID)
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil, "")
	return err
}

func (c *Client) GetLocations(ctx context.Context) ([]Location, error) {
	var resp struct {
		Locations []Location `json:"locations"`
	}
	if err := c.getJSON(ctx, "/locations", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Locations == nil {
		resp.Locations = []Location{}
	}
	return resp.Locations, nil
}

func (c *Client) GetVODQualities(ctx context.Context) ([]Quality, error) {
	var resp struct {
		Qualities []Quality `json:"vodTranscodeQualities"`
	}
	if err := c.getJSON(ctx, "/vodTranscodeQualities", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Qualities == nil {
		resp.Qualities = []Quality{}
	}
	return resp.Qualities, nil
}

// GetRuns lists scheduled runs in [start, end), optionally filtered by
// channel and location (0 = unfiltered).
func (c *Client) GetRuns(ctx context.Context, start, end time.Time, channelID, locationID int) ([]Run, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	if channelID > 0 {
		q.Set("channel", strconv.Itoa(channelID))
	}
	if locationID > 0 {
		q.Set("location", strconv.Itoa(locationID))
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.getJSON(ctx, "/runs", q, &resp); err != nil {
		return nil, err
	}
	if resp.Runs == nil {
		resp.Runs = []Run{}
	}
	return resp.Runs, nil
}
