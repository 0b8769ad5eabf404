// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "job-123")
	ctx = ContextWithCity(ctx, "flex-3")

	assert.Equal(t, "job-123", JobIDFromContext(ctx))
	assert.Equal(t, "flex-3", CityFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Empty(t, JobIDFromContext(context.Background()))
	assert.Empty(t, CityFromContext(context.Background()))
	assert.Empty(t, JobIDFromContext(nil)) //nolint:staticcheck // nil-safety contract
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("scanner")
	// Smoke: the derived logger must be usable without panicking.
	l.Debug().Msg("component logger ready")
}
