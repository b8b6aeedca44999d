package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (w *recordingWriter) write(_ context.Context, alerts []*core.Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	w.batches = append(w.batches, ids)
	return w.err
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestClickHouseAlertSinkFlushesOnBatchSize(t *testing.T) {
	w := &recordingWriter{}
	sink := newClickHouseAlertSink(context.Background(), w.write, 3, time.Hour, zap.NewNop().Sugar())
	sink.start()
	defer sink.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: id}))
	}

	require.Eventually(t, func() bool { return w.total() == 3 }, 2*time.Second, 10*time.Millisecond)
	w.mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, w.batches[0])
	w.mu.Unlock()
}

func TestClickHouseAlertSinkFlushesOnInterval(t *testing.T) {
	w := &recordingWriter{}
	sink := newClickHouseAlertSink(context.Background(), w.write, 100, 20*time.Millisecond, zap.NewNop().Sugar())
	sink.start()
	defer sink.Stop()

	require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: "lonely"}))
	require.Eventually(t, func() bool { return w.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClickHouseAlertSinkStopFlushesPending(t *testing.T) {
	w := &recordingWriter{}
	sink := newClickHouseAlertSink(context.Background(), w.write, 100, time.Hour, zap.NewNop().Sugar())
	sink.start()

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: "x"}))
	}
	require.NoError(t, sink.Stop())
	assert.Equal(t, 5, w.total())

	err := sink.InsertAlert(context.Background(), &core.Alert{ID: "late"})
	assert.Error(t, err)
}

func TestClickHouseAlertSinkWriteErrorIsContained(t *testing.T) {
	w := &recordingWriter{err: errors.New("connection reset")}
	sink := newClickHouseAlertSink(context.Background(), w.write, 1, time.Hour, zap.NewNop().Sugar())
	sink.start()
	defer sink.Stop()

	require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: "a"}))
	require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: "b"}))
	require.Eventually(t, func() bool { return w.total() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestClickHouseAlertSinkQueueFull(t *testing.T) {
	sink := newClickHouseAlertSink(context.Background(), func(context.Context, []*core.Alert) error { return nil }, 1, time.Hour, zap.NewNop().Sugar())
	// worker not started, so the queue (capacity 10) fills up
	for i := 0; i < 10; i++ {
		require.NoError(t, sink.InsertAlert(context.Background(), &core.Alert{ID: "q"}))
	}
	err := sink.InsertAlert(context.Background(), &core.Alert{ID: "overflow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, validateIdentifier("cloud_alerts"))
	assert.Error(t, validateIdentifier(""))
	assert.Error(t, validateIdentifier("alerts; DROP TABLE x"))
	assert.Error(t, validateIdentifier(strings.Repeat("a", 65)))
}

func TestAlertTableDDL(t *testing.T) {
	ddl := alertTableDDL("vigil", "cloud_alerts")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS vigil.cloud_alerts")
	assert.Contains(t, ddl, "MergeTree")
	assert.Contains(t, ddl, "indicators Array(String)")
}
