package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLogSource struct {
	mu       sync.Mutex
	entries  []LogEntry
	probeErr error
	fetchErr error
	sinces   []time.Time
}

func (f *fakeLogSource) Probe(context.Context) error { return f.probeErr }

func (f *fakeLogSource) Fetch(_ context.Context, since time.Time, limit int) ([]LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []LogEntry
	for _, e := range f.entries {
		if e.Time.After(since) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLogSource) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinces)
}

var pollNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func textEntry(t time.Time, text string) LogEntry {
	return LogEntry{Time: t, Record: map[string]interface{}{
		"textPayload": text,
		"timestamp":   t.Format(time.RFC3339Nano),
	}}
}

func newTestPoller(src LogSource, proc AlertProcessor, interval time.Duration) *Poller {
	p := NewPoller(src, NewNormalizer(), proc, nil, PollerConfig{
		Interval: interval,
		PageSize: 50,
		Lookback: 5 * time.Minute,
	}, zap.NewNop().Sugar())
	p.now = func() time.Time { return pollNow }
	return p
}

func TestPollerEnableSetsWatermark(t *testing.T) {
	p := newTestPoller(&fakeLogSource{}, &recordingProcessor{}, time.Hour)
	defer p.Stop()

	since, err := p.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pollNow.Add(-5*time.Minute), since)
	assert.Equal(t, since, p.Watermark())
	assert.True(t, p.Enabled())
}

func TestPollerEnableProbeFailure(t *testing.T) {
	p := newTestPoller(&fakeLogSource{probeErr: errors.New("permission denied")}, &recordingProcessor{}, time.Hour)

	_, err := p.Enable(context.Background())
	assert.Error(t, err)
	assert.False(t, p.Enabled())
	assert.True(t, p.Watermark().IsZero())
}

func TestPollerEnableWithoutSource(t *testing.T) {
	p := newTestPoller(nil, &recordingProcessor{}, time.Hour)
	_, err := p.Enable(context.Background())
	assert.Error(t, err)
}

func TestPollOnceAscendingAndAdvances(t *testing.T) {
	base := pollNow.Add(-2 * time.Minute)
	src := &fakeLogSource{entries: []LogEntry{
		textEntry(base.Add(30*time.Second), "third"),
		textEntry(base, "first"),
		textEntry(base.Add(10*time.Second), "second"),
		textEntry(pollNow.Add(-10*time.Minute), "too old"),
	}}
	proc := &recordingProcessor{}
	p := newTestPoller(src, proc, time.Hour)
	defer p.Stop()
	_, err := p.Enable(context.Background())
	require.NoError(t, err)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, proc.alerts, 3)
	assert.Equal(t, "first", proc.alerts[0].Log)
	assert.Equal(t, "second", proc.alerts[1].Log)
	assert.Equal(t, "third", proc.alerts[2].Log)
	assert.Equal(t, core.SourcePoll, proc.alerts[0].Source)
	assert.Equal(t, base.Add(30*time.Second), p.Watermark())

	n, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing newer than the watermark")
}

func TestPollOnceEntryFaultStopsBatch(t *testing.T) {
	base := pollNow.Add(-time.Minute)
	src := &fakeLogSource{entries: []LogEntry{
		textEntry(base, "ok"),
		textEntry(base.Add(time.Second), "bad"),
		textEntry(base.Add(2*time.Second), "never"),
	}}
	proc := &recordingProcessor{failOn: "bad"}
	p := newTestPoller(src, proc, time.Hour)
	defer p.Stop()
	_, err := p.Enable(context.Background())
	require.NoError(t, err)

	n, err := p.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, proc.alerts, 1)
	assert.Equal(t, base, p.Watermark(), "watermark stays at last processed entry")
	require.Len(t, proc.faults, 1)
}

func TestPollOnceFetchErrorKeepsWatermark(t *testing.T) {
	src := &fakeLogSource{fetchErr: errors.New("quota exceeded")}
	p := newTestPoller(src, &recordingProcessor{}, time.Hour)
	defer p.Stop()
	since, err := p.Enable(context.Background())
	require.NoError(t, err)

	_, err = p.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, since, p.Watermark())
}

func TestPollOnceDisabled(t *testing.T) {
	p := newTestPoller(&fakeLogSource{}, &recordingProcessor{}, time.Hour)
	_, err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, core.ErrPollerDisabled)
}

func TestPollerDisablePreservesWatermark(t *testing.T) {
	src := &fakeLogSource{entries: []LogEntry{textEntry(pollNow.Add(-time.Minute), "x")}}
	p := newTestPoller(src, &recordingProcessor{}, time.Hour)
	_, err := p.Enable(context.Background())
	require.NoError(t, err)
	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)

	p.Disable()
	p.Disable()
	assert.False(t, p.Enabled())
	assert.Equal(t, pollNow.Add(-time.Minute), p.Watermark())
	p.Stop()
}

func TestPollerTicks(t *testing.T) {
	src := &fakeLogSource{}
	p := newTestPoller(src, &recordingProcessor{}, 10*time.Millisecond)
	_, err := p.Enable(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return src.fetches() >= 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	after := src.fetches()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, src.fetches(), "no ticks after stop")
}

func TestPollerReenableResetsWatermark(t *testing.T) {
	src := &fakeLogSource{entries: []LogEntry{textEntry(pollNow.Add(-time.Minute), "x")}}
	p := newTestPoller(src, &recordingProcessor{}, time.Hour)
	defer p.Stop()
	_, err := p.Enable(context.Background())
	require.NoError(t, err)
	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)

	since, err := p.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pollNow.Add(-5*time.Minute), since)
}
