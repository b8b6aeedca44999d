// Package notify forwards finalized alerts to a NATS subject for downstream
// consumers (ticketing, paging, SOAR).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/metrics"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn the relay needs
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// RelayMessage is the payload published for every alert
type RelayMessage struct {
	Alert       *core.Alert `json:"alert"`
	PublishedAt time.Time   `json:"published_at"`
}

// NATSRelay publishes alerts at or above a minimum severity. Repeated
// failures open a circuit breaker so a dead bus costs nothing per alert.
type NATSRelay struct {
	conn        Publisher
	nc          *nats.Conn
	subject     string
	minSeverity core.Severity
	breaker     *core.CircuitBreaker
	logger      *zap.SugaredLogger
}

// NewNATSRelay connects to cfg.URL. An empty URL is a configuration error;
// callers check it first and leave the relay unset.
func NewNATSRelay(cfg config.NATSConfig, logger *zap.SugaredLogger) (*NATSRelay, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("vigil-relay"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	relay, err := newRelay(nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	relay.nc = nc
	logger.Infow("NATS relay connected", "subject", cfg.Subject, "min_severity", relay.minSeverity)
	return relay, nil
}

func newRelay(conn Publisher, cfg config.NATSConfig, logger *zap.SugaredLogger) (*NATSRelay, error) {
	breaker, err := core.NewCircuitBreaker(core.DefaultCircuitBreakerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	minSeverity := core.ParseSeverity(cfg.MinSeverity)
	return &NATSRelay{
		conn:        conn,
		subject:     cfg.Subject,
		minSeverity: minSeverity,
		breaker:     breaker,
		logger:      logger,
	}, nil
}

// Name identifies the relay in sink metrics
func (r *NATSRelay) Name() string {
	return "nats"
}

// Publish sends alert when its severity ranks at or above the configured
// minimum. Alerts below it are skipped without error.
func (r *NATSRelay) Publish(ctx context.Context, alert *core.Alert) error {
	if alert == nil || alert.Severity.Rank() < r.minSeverity.Rank() {
		metrics.RelayPublishes.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := r.breaker.Allow(); err != nil {
		metrics.RelayPublishes.WithLabelValues("circuit_open").Inc()
		return err
	}

	data, err := json.Marshal(RelayMessage{Alert: alert, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	if err := r.send(ctx, data); err != nil {
		state := r.breaker.RecordFailure()
		metrics.RelayPublishes.WithLabelValues("error").Inc()
		r.logger.Warnw("Failed to relay alert",
			"alert_id", alert.ID,
			"subject", r.subject,
			"breaker_state", string(state),
			"error", err)
		return err
	}

	r.breaker.RecordSuccess()
	metrics.RelayPublishes.WithLabelValues("ok").Inc()
	return nil
}

func (r *NATSRelay) send(ctx context.Context, data []byte) error {
	if err := r.conn.Publish(r.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.subject, err)
	}
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush to %s: %w", r.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (r *NATSRelay) Close() {
	if r.nc == nil {
		return
	}
	if err := r.nc.Drain(); err != nil {
		r.logger.Warnw("Failed to drain NATS connection", "error", err)
	}
	r.nc.Close()
}
