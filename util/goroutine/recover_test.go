package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecoverNoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("quiet", logger)
	}()

	assert.Empty(t, logs.All())
}

func TestRecoverLogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("sink-writer", logger)
		panic("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sink-writer", fields["goroutine"])
	assert.Equal(t, "boom", fields["panic"])
	assert.Contains(t, fields, "stack")
}

func TestRecoverWithCallsHandler(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverWith("push", zap.NewNop().Sugar(), func(r interface{}) { got = r })
		panic("bad entry")
	}()
	assert.Equal(t, "bad entry", got)
}

func TestRecoverNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("still recovered")
	})
}

func TestGoRecoversPanics(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go("worker", zap.NewNop().Sugar(), func() {
		defer wg.Done()
		panic("worker fault")
	})
	wg.Wait()
}
