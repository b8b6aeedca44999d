package ingest

import (
	"testing"
	"time"

	"vigil/core"

	"cloud.google.com/go/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEntryRecordText(t *testing.T) {
	ts := time.Date(2024, 6, 1, 11, 59, 0, 0, time.UTC)
	rec := entryRecord(&logging.Entry{
		Timestamp: ts,
		Severity:  logging.Error,
		Payload:   "connection reset by peer",
		LogName:   "projects/p/logs/app",
		Labels:    map[string]string{"env": "prod"},
	})

	assert.Equal(t, "connection reset by peer", rec["textPayload"])
	assert.Equal(t, "2024-06-01T11:59:00Z", rec["timestamp"])
	assert.Equal(t, map[string]interface{}{"env": "prod"}, rec["labels"])

	alert := NewNormalizer().Normalize(rec, core.SourcePoll)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Equal(t, "projects/p/logs/app", alert.Category)
	assert.Equal(t, "connection reset by peer", alert.Log)
}

func TestEntryRecordJSON(t *testing.T) {
	payload, err := structpb.NewStruct(map[string]interface{}{
		"methodName": "SetIamPolicy",
		"status":     map[string]interface{}{"code": 7},
	})
	require.NoError(t, err)

	rec := entryRecord(&logging.Entry{Severity: logging.Warning, Payload: payload})

	jp, ok := rec["jsonPayload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "SetIamPolicy", jp["methodName"])

	alert := NewNormalizer().Normalize(rec, core.SourcePoll)
	assert.Equal(t, core.SeverityMedium, alert.Severity)
	assert.Contains(t, alert.Log, `"methodName":"SetIamPolicy"`)
}

func TestBuildFilter(t *testing.T) {
	since := time.Date(2024, 6, 1, 12, 0, 0, 500, time.UTC)

	s := &CloudLoggingSource{}
	assert.Equal(t, `timestamp > "2024-06-01T12:00:00.0000005Z"`, s.buildFilter(since))

	s.filter = `resource.type="gce_instance"`
	assert.Equal(t, `timestamp > "2024-06-01T12:00:00.0000005Z" AND (resource.type="gce_instance")`, s.buildFilter(since))
}
