package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vigil/core"

	"github.com/google/uuid"
)

// DefaultCategory labels alerts whose source carries no resource type or log name
const DefaultCategory = "cloud-log"

// payloadFields are checked in order for the entry body
var payloadFields = []string{"textPayload", "jsonPayload", "protoPayload", "payload"}

// textFields and metadataFields are fallbacks when no payload is present
var (
	textFields     = []string{"message", "log", "msg"}
	metadataFields = []string{"resource", "labels", "httpRequest"}
	timeFields     = []string{"timestamp", "receiveTimestamp", "time"}
)

// Normalizer turns raw records from either channel into canonical alerts.
// It never fails: unusable input still yields an alert with a time,
// severity, log and summary.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Normalize converts one record. source is one of the core.Source* labels.
func (n *Normalizer) Normalize(record interface{}, source string) *core.Alert {
	received := n.now()
	alert := &core.Alert{
		ID:       n.newID(),
		Time:     core.FormatTime(received),
		Category: DefaultCategory,
		Severity: core.SeverityInfo,
		Source:   source,
	}

	entry, isObject := record.(map[string]interface{})
	if !isObject {
		alert.Log = serialize(record)
		alert.Summary = core.Truncate(alert.Log, core.MaxSummaryLength)
		return alert
	}

	alert.Log = entryLog(entry)
	alert.Summary = core.Truncate(alert.Log, core.MaxSummaryLength)

	if logName, ok := entry["logName"].(string); ok {
		alert.SourceLogName = logName
	}
	alert.Category = entryCategory(entry, alert.SourceLogName)

	if sev, ok := entry["severity"].(string); ok {
		alert.Severity = core.ParseSeverity(sev)
	}

	for _, field := range timeFields {
		if t, ok := parseTimestamp(entry[field]); ok {
			alert.Time = core.FormatTime(t)
			break
		}
	}

	return alert
}

// entryLog picks the log body: a string payload verbatim, a structured
// payload serialized, then text fields, metadata, and finally the whole entry.
func entryLog(entry map[string]interface{}) string {
	for _, field := range payloadFields {
		switch v := entry[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}, []interface{}:
			return serialize(v)
		}
	}

	for _, field := range textFields {
		if s, ok := entry[field].(string); ok && s != "" {
			return s
		}
	}

	for _, field := range metadataFields {
		if v, ok := entry[field].(map[string]interface{}); ok && len(v) > 0 {
			return serialize(v)
		}
	}

	return serialize(entry)
}

func entryCategory(entry map[string]interface{}, logName string) string {
	if resource, ok := entry["resource"].(map[string]interface{}); ok {
		if t, ok := resource["type"].(string); ok && t != "" {
			return t
		}
	}
	if logName != "" {
		return logName
	}
	return DefaultCategory
}

// serialize renders v as JSON (map keys sorted), falling back to fmt for
// values encoding/json rejects.
func serialize(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// parseTimestamp accepts RFC 3339 (with or without zone) strings and unix
// epoch seconds as numbers or numeric strings.
func parseTimestamp(v interface{}) (time.Time, bool) {
	switch ts := v.(type) {
	case string:
		ts = strings.TrimSpace(ts)
		if ts == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.UTC(), true
			}
		}
		if secs, err := strconv.ParseFloat(ts, 64); err == nil {
			return epoch(secs)
		}
	case float64:
		return epoch(ts)
	case int64:
		return epoch(float64(ts))
	case int:
		return epoch(float64(ts))
	case json.Number:
		if secs, err := ts.Float64(); err == nil {
			return epoch(secs)
		}
	case time.Time:
		if !ts.IsZero() {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func epoch(secs float64) (time.Time, bool) {
	if secs <= 0 {
		return time.Time{}, false
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC(), true
}
