// SPDX-License-Identifier: MIT

package cablecast

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/log"
)

// UploadVODFile uploads the media file for a VOD as multipart form data.
func (c *Client) UploadVODFile(ctx context.Context, vodID int, path string) error {
	return c.uploadMultipart(ctx, vodID, path, "video")
}

// UploadVODCaption uploads a caption sidecar (.scc or .srt) for a VOD.
func (c *Client) UploadVODCaption(ctx context.Context, vodID int, path string) error {
	return c.uploadMultipart(ctx, vodID, path, "caption")
}

func (c *Client) uploadMultipart(ctx context.Context, vodID int, path, field string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return faults.Wrap(faults.InputNotFound, err, "upload source %s", path)
		}
		return faults.Wrap(faults.InputUnreadable, err, "upload source %s", path)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := "/vods/" + strconv.Itoa(vodID) + "/upload"
	_, err = c.do(ctx, http.MethodPost, endpoint, nil, buf.Bytes(), mw.FormDataContentType())
	return err
}

// WaitForVODProcessing polls the VOD status until it reports ready, reports
// error, or the timeout elapses. Progress is logged at each poll.
func (c *Client) WaitForVODProcessing(ctx context.Context, vodID int, timeout, interval time.Duration) (*VODStatus, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	logger := log.WithComponent("cablecast").With().Int(log.FieldVODID, vodID).Logger()

	for {
		status, err := c.GetVODStatus(ctx, vodID)
		if err != nil {
			return nil, err
		}
		switch status.State {
		case VODStateReady:
			logger.Info().Msg("vod processing complete")
			return status, nil
		case VODStateError:
			return status, faults.New(faults.UpstreamRejected, "vod %d processing failed: %s", vodID, status.Message)
		}
		logger.Debug().
			Str("state", status.State).
			Int("percent", status.PercentComplete).
			Msg("vod still processing")

		if time.Now().After(deadline) {
			return status, faults.New(faults.UpstreamUnavailable,
				"vod %d not ready after %s", vodID, timeout)
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
}
