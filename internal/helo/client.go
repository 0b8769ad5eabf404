// SPDX-License-Identifier: MIT

// Package helo drives AJA HELO capture devices: a per-device HTTP client and
// a scheduler that turns upstream run schedules into record/stream windows.
package helo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/httpx"
	"github.com/ctvcoop/archivist/internal/log"
	"golang.org/x/time/rate"
)

const (
	defaultDeviceTimeout = 10 * time.Second
	deviceMaxRetries     = 3
	deviceRetryBase      = time.Second

	// HELO firmware gets flaky under rapid-fire control requests, so calls
	// to one device are paced.
	devicePaceInterval = 500 * time.Millisecond
)

// Status is the device state snapshot from GET /status.
type Status struct {
	Recording bool   `json:"recording"`
	Streaming bool   `json:"streaming"`
	RTMPURL   string `json:"rtmp_url,omitempty"`
	Firmware  string `json:"firmware,omitempty"`
}

// Client controls a single HELO device. Safe for concurrent use; calls to the
// same device are serialized by the pace limiter.
type Client struct {
	device  config.HeloDevice
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a device client. A zero timeout uses the default.
func NewClient(device config.HeloDevice, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultDeviceTimeout
	}
	return &Client{
		device:  device,
		base:    "http://" + device.IP,
		http:    httpx.NewClient(timeout),
		limiter: rate.NewLimiter(rate.Every(devicePaceInterval), 1),
	}
}

// City returns the city key this device serves.
func (c *Client) City() string { return c.device.City }

// StartRecord begins recording on the device.
func (c *Client) StartRecord(ctx context.Context) error {
	return c.configAction(ctx, "record", "start")
}

// StopRecord ends recording.
func (c *Client) StopRecord(ctx context.Context) error {
	return c.configAction(ctx, "record", "stop")
}

// StartStream begins the RTMP push.
func (c *Client) StartStream(ctx context.Context) error {
	return c.configAction(ctx, "stream", "start")
}

// StopStream ends the RTMP push.
func (c *Client) StopStream(ctx context.Context) error {
	return c.configAction(ctx, "stream", "stop")
}

// SetRTMP points the device at a stream target.
func (c *Client) SetRTMP(ctx context.Context, rtmpURL, streamKey string) error {
	body, _ := json.Marshal(map[string]string{
		"rtmp_url":   rtmpURL,
		"stream_key": streamKey,
	})
	_, err := c.call(ctx, http.MethodPost, "/api/rtmp", body, "application/json")
	return err
}

// Status fetches the device state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	payload, err := c.call(ctx, http.MethodGet, "/status", nil, "")
	if err != nil {
		return nil, err
	}
	var st Status
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &st); err != nil {
			return nil, faults.Wrap(faults.DeviceUnavailable, err,
				"device %s returned malformed status", c.device.City)
		}
	}
	return &st, nil
}

func (c *Client) configAction(ctx context.Context, action, value string) error {
	endpoint := fmt.Sprintf("/config?action=%s&value=%s", action, value)
	_, err := c.call(ctx, http.MethodPost, endpoint, nil, "")
	if err == nil {
		clog := log.WithComponent("helo")
		clog.Info().
			Str(log.FieldDevice, c.device.City).
			Str("action", action).
			Str("value", value).
			Msg("device action applied")
	}
	return err
}

// call paces, retries on network errors and 5xx, and classifies failures as
// DeviceUnavailable.
func (c *Client) call(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= deviceMaxRetries; attempt++ {
		if attempt > 1 {
			backoff := deviceRetryBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, reader)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.device.Username != "" {
			req.SetBasicAuth(c.device.Username, c.device.Password)
		}

		res, err := c.http.Do(req)
		if err != nil {
			lastErr = faults.Wrap(faults.DeviceUnavailable, err,
				"device %s unreachable", c.device.City)
			continue
		}
		payload, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if readErr != nil {
			lastErr = faults.Wrap(faults.DeviceUnavailable, readErr,
				"device %s read failed", c.device.City)
			continue
		}
		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return payload, nil
		case res.StatusCode >= 500:
			lastErr = faults.New(faults.DeviceUnavailable,
				"device %s returned %d on %s", c.device.City, res.StatusCode, endpoint)
			continue
		default:
			return nil, faults.New(faults.DeviceUnavailable,
				"device %s rejected %s: %d %s", c.device.City, endpoint,
				res.StatusCode, strings.TrimSpace(string(payload)))
		}
	}
	return nil, lastErr
}
