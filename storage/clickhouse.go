package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/util/goroutine"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// validIdentifierRegex keeps database and table names safe to interpolate into DDL
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouse holds the ClickHouse connection
type ClickHouse struct {
	Conn   driver.Conn
	Config config.ClickHouseConfig
	Logger *zap.SugaredLogger
}

// NewClickHouse opens and pings a ClickHouse connection and ensures the
// analytics database and alert table exist.
func NewClickHouse(cfg config.ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouse, error) {
	if err := validateIdentifier(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}
	if err := validateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     cfg.MaxPoolSize,
		MaxIdleConns:     cfg.MaxPoolSize / 2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			// RELIABILITY: TCP keepalive detects broken connections
			d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	if cfg.TLS {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	ch := &ClickHouse{Conn: conn, Config: cfg, Logger: logger}
	if err := ch.CreateTablesIfNotExist(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Infow("Connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database, "table", cfg.Table)
	return ch, nil
}

func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier too long (max 64 characters)")
	}
	if !validIdentifierRegex.MatchString(name) {
		return fmt.Errorf("identifier %q contains invalid characters (only alphanumeric and underscore allowed)", name)
	}
	return nil
}

// alertTableDDL renders the analytics table definition.
func alertTableDDL(database, table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			alert_id String,
			event_time DateTime64(3, 'UTC'),
			ingested_at DateTime64(3, 'UTC'),
			category LowCardinality(String),
			severity LowCardinality(String),
			malicious UInt8,
			summary String,
			log String,
			source LowCardinality(String),
			source_log_name String,
			reason String,
			indicators Array(String)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (event_time, alert_id)
		TTL toDateTime(event_time) + INTERVAL 90 DAY
	`, database, table)
}

// CreateTablesIfNotExist creates the database and alert table
func (ch *ClickHouse) CreateTablesIfNotExist(ctx context.Context) error {
	if err := ch.Conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", ch.Config.Database)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", ch.Config.Database, err)
	}
	if err := ch.Conn.Exec(ctx, alertTableDDL(ch.Config.Database, ch.Config.Table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", ch.Config.Table, err)
	}
	return nil
}

// Close closes the connection
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}

// batchWriter persists one batch of alerts.
type batchWriter func(ctx context.Context, alerts []*core.Alert) error

// ClickHouseAlertSink is the analytics alert store. InsertAlert only queues;
// a background worker flushes on batch size or interval.
type ClickHouseAlertSink struct {
	write         batchWriter
	queue         chan *core.Alert
	batchSize     int
	flushInterval time.Duration
	logger        *zap.SugaredLogger
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	stopOnce      sync.Once
}

// NewClickHouseAlertSink creates the sink and starts its worker.
func NewClickHouseAlertSink(parentCtx context.Context, ch *ClickHouse, logger *zap.SugaredLogger) *ClickHouseAlertSink {
	sink := newClickHouseAlertSink(parentCtx, nil, ch.Config.BatchSize, ch.Config.FlushInterval, logger)
	sink.write = func(ctx context.Context, alerts []*core.Alert) error {
		return insertAlertBatch(ctx, ch, alerts)
	}
	sink.start()
	return sink
}

func newClickHouseAlertSink(parentCtx context.Context, write batchWriter, batchSize int, flushInterval time.Duration, logger *zap.SugaredLogger) *ClickHouseAlertSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &ClickHouseAlertSink{
		write:         write,
		queue:         make(chan *core.Alert, batchSize*10),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *ClickHouseAlertSink) start() {
	s.wg.Add(1)
	go s.worker()
}

// Name implements AlertSink
func (s *ClickHouseAlertSink) Name() string { return "clickhouse" }

// InsertAlert implements AlertSink. It never blocks: a full queue is
// reported as an error so the caller can count the drop.
func (s *ClickHouseAlertSink) InsertAlert(ctx context.Context, alert *core.Alert) error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("clickhouse sink stopped")
	default:
	}
	select {
	case s.queue <- alert:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("clickhouse sink queue full, dropping alert %s", alert.ID)
	}
}

func (s *ClickHouseAlertSink) worker() {
	defer s.wg.Done()
	defer goroutine.Recover("clickhouse-alert-sink", s.logger)

	batch := make([]*core.Alert, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.write(ctx, batch); err != nil {
			s.logger.Errorw("Failed to write alert batch to ClickHouse", "error", err, "alert_count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case alert := <-s.queue:
			batch = append(batch, alert)
			if len(batch) >= s.batchSize {
				flush(s.ctx)
				ticker.Reset(s.flushInterval)
			}
		case <-ticker.C:
			flush(s.ctx)
		case <-s.ctx.Done():
		drain:
			for {
				select {
				case alert := <-s.queue:
					batch = append(batch, alert)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			flush(flushCtx)
			cancel()
			return
		}
	}
}

// Stop flushes pending alerts and stops the worker.
func (s *ClickHouseAlertSink) Stop() error {
	s.stopOnce.Do(s.cancel)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(35 * time.Second):
		return fmt.Errorf("timeout waiting for clickhouse sink to stop")
	}
}

func insertAlertBatch(ctx context.Context, ch *ClickHouse, alerts []*core.Alert) error {
	batch, err := ch.Conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s.%s (
			alert_id, event_time, ingested_at, category, severity, malicious,
			summary, log, source, source_log_name, reason, indicators
		)`, ch.Config.Database, ch.Config.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare alert batch: %w", err)
	}

	now := time.Now().UTC()
	for _, alert := range alerts {
		eventTime := alert.EventTime()
		if eventTime.IsZero() {
			eventTime = now
		}
		var malicious uint8
		if alert.Malicious {
			malicious = 1
		}
		indicators := make([]string, 0, len(alert.Indicators))
		for _, ind := range alert.Indicators {
			indicators = append(indicators, ind.Type+":"+ind.Value)
		}
		if err := batch.Append(
			alert.ID,
			eventTime,
			now,
			alert.Category,
			string(alert.Severity),
			malicious,
			alert.Summary,
			alert.Log,
			alert.Source,
			alert.SourceLogName,
			alert.Reason,
			indicators,
		); err != nil {
			return fmt.Errorf("failed to append alert %s: %w", alert.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send alert batch: %w", err)
	}
	return nil
}
