package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObserve(t *testing.T) {
	m := New()
	m.StringsInsert.Observe(10, 5*time.Millisecond)
	m.StringsInsert.Observe(5, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(15), snap.StringsInsert.Count)
	assert.Equal(t, 10*time.Millisecond, snap.StringsInsert.Duration)
}

func TestSnapshotSub(t *testing.T) {
	m := New()
	m.SymbolsInsert.Observe(100, time.Second)
	first := m.Snapshot()
	m.SymbolsInsert.Observe(50, time.Second)
	second := m.Snapshot()

	delta := second.SymbolsInsert.Sub(first.SymbolsInsert)
	assert.Equal(t, int64(50), delta.Count)
	assert.Equal(t, time.Second, delta.Duration)
}

func TestSnapshotLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	m := New()
	m.BytesFetched.Add(2048)
	m.FilesInsert.Observe(3, time.Millisecond)
	m.Snapshot().Log(logger, Snapshot{})

	out := buf.String()
	assert.Contains(t, out, `"message":"metrics"`)
	assert.Contains(t, out, `"files_insert"`)
	assert.Contains(t, out, `"fetched":"2.0 kB"`)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	m := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Monitor(ctx, time.Millisecond, logger)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "monitor did not stop")
	}
}

func TestMonitorDisabled(t *testing.T) {
	m := New()
	// Returns immediately for a non-positive interval
	m.Monitor(context.Background(), 0, zerolog.Nop())
}
