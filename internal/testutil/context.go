// Package testutil builds fixtures for tests: synthetic ELF objects, cpio
// archives, RPM envelopes and a fake package repository.
package testutil

import (
	"context"
	"time"
)

// NewTestContext creates a test context with a 30-second timeout.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
