// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a job id is unknown to the store.
var ErrNotFound = errors.New("queue: job not found")

// Store persists job records. Implementations must be safe for concurrent
// use; ordering and single-in-flight semantics live in the Manager, not here.
type Store interface {
	Put(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	// List returns every stored job in unspecified order.
	List(ctx context.Context) ([]*Job, error)
	Close() error
}
