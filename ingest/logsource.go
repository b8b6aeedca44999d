package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	// Registers the AuditLog type so audit entries decode into protoPayload
	_ "google.golang.org/genproto/googleapis/cloud/audit"
)

// probeWindow is how far back Probe looks for a readable entry
const probeWindow = time.Hour

// CloudLoggingSource reads entries from Cloud Logging
type CloudLoggingSource struct {
	client    *logadmin.Client
	projectID string
	filter    string
	logger    *zap.SugaredLogger
}

// NewCloudLoggingSource creates a client for projectID using application
// default credentials. filter is ANDed with the timestamp bound.
func NewCloudLoggingSource(ctx context.Context, projectID, filter string, logger *zap.SugaredLogger) (*CloudLoggingSource, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	client, err := logadmin.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create logging client: %w", err)
	}
	return &CloudLoggingSource{
		client:    client,
		projectID: projectID,
		filter:    filter,
		logger:    logger,
	}, nil
}

// Probe reads at most one recent entry to confirm access
func (s *CloudLoggingSource) Probe(ctx context.Context) error {
	it := s.client.Entries(ctx,
		logadmin.Filter(s.buildFilter(time.Now().Add(-probeWindow))),
		logadmin.NewestFirst())
	it.PageInfo().MaxSize = 1
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("failed to read entries for project %s: %w", s.projectID, err)
	}
	return nil
}

// Fetch lists entries newer than since in ascending timestamp order
func (s *CloudLoggingSource) Fetch(ctx context.Context, since time.Time, limit int) ([]LogEntry, error) {
	it := s.client.Entries(ctx, logadmin.Filter(s.buildFilter(since)))
	it.PageInfo().MaxSize = limit

	entries := make([]LogEntry, 0, limit)
	for len(entries) < limit {
		e, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}
		entries = append(entries, LogEntry{
			Time:   e.Timestamp,
			Record: entryRecord(e),
		})
	}
	return entries, nil
}

// Close releases the client
func (s *CloudLoggingSource) Close() error {
	return s.client.Close()
}

func (s *CloudLoggingSource) buildFilter(since time.Time) string {
	filter := fmt.Sprintf(`timestamp > "%s"`, since.UTC().Format(time.RFC3339Nano))
	if s.filter != "" {
		filter += " AND (" + s.filter + ")"
	}
	return filter
}

// entryRecord renders an entry in the LogEntry JSON shape push deliveries
// use, so both channels normalize identically.
func entryRecord(e *logging.Entry) map[string]interface{} {
	record := map[string]interface{}{
		"logName":  e.LogName,
		"severity": e.Severity.String(),
		"insertId": e.InsertID,
	}
	if !e.Timestamp.IsZero() {
		record["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(e.Labels) > 0 {
		labels := make(map[string]interface{}, len(e.Labels))
		for k, v := range e.Labels {
			labels[k] = v
		}
		record["labels"] = labels
	}
	if e.Resource != nil {
		resLabels := make(map[string]interface{}, len(e.Resource.Labels))
		for k, v := range e.Resource.Labels {
			resLabels[k] = v
		}
		record["resource"] = map[string]interface{}{
			"type":   e.Resource.Type,
			"labels": resLabels,
		}
	}

	switch p := e.Payload.(type) {
	case nil:
	case string:
		record["textPayload"] = p
	case *structpb.Struct:
		record["jsonPayload"] = p.AsMap()
	case proto.Message:
		record["protoPayload"] = protoToMap(p)
	default:
		record["payload"] = fmt.Sprintf("%v", p)
	}
	return record
}

func protoToMap(m proto.Message) interface{} {
	data, err := protojson.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}
