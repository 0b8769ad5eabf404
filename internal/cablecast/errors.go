// SPDX-License-Identifier: MIT

package cablecast

import (
	"errors"
	"fmt"

	"github.com/ctvcoop/archivist/internal/faults"
)

// ErrNotFound is returned for upstream 404s on a specific resource.
var ErrNotFound = errors.New("cablecast: resource not found")

// UpstreamError carries the status, parsed message and endpoint of a non-2xx
// response. 5xx map to the retriable UpstreamUnavailable kind, 4xx to
// UpstreamRejected.
type UpstreamError struct {
	Status   int
	Message  string
	Endpoint string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("cablecast: %s: HTTP %d: %s", e.Endpoint, e.Status, e.Message)
}

// Is lets callers match errors.Is(err, ErrNotFound) on 404s.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// Fault classifies the response for the queue's retry policy.
func (e *UpstreamError) Fault() *faults.Fault {
	kind := faults.UpstreamRejected
	if e.Status >= 500 {
		kind = faults.UpstreamUnavailable
	}
	return faults.Wrap(kind, e, "%s returned %d", e.Endpoint, e.Status)
}
