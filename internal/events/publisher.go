// Package events publishes committed workflow transitions to NATS so other
// services (notifications, dashboards) can follow a record without polling.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/workflow"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "workflow"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Recorder counts publish outcomes.
type Recorder interface {
	RecordEventPublished(outcome string)
}

// NATSPublisher publishes transition events as JSON on
// <prefix>.<kind>.<action>. Intake events use the action "created".
//
// Publish errors are returned to the engine, which logs them; they never
// fail the transition that produced the event.
type NATSPublisher struct {
	conn    Conn
	prefix  string
	log     *zap.Logger
	metrics Recorder
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(conn Conn, prefix string, log *zap.Logger, metrics Recorder) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSPublisher{
		conn:    conn,
		prefix:  strings.TrimSuffix(prefix, "."),
		log:     log,
		metrics: metrics,
	}
}

// Connect dials NATS with reconnects enabled. The returned connection
// buffers publishes while reconnecting.
func Connect(url, clientName string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev workflow.TransitionEvent) string {
	action := string(ev.Action)
	if action == "" {
		action = "created"
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.Kind, action)
}

// Publish implements workflow.Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev workflow.TransitionEvent) error {
	if err := ctx.Err(); err != nil {
		p.record("canceled")
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.record("error")
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		p.record("error")
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.record("ok")
	p.log.Debug("event published",
		zap.String("subject", subject),
		zap.String("record_id", ev.RecordID),
		zap.Int("version", ev.Version),
	)
	return nil
}

// HealthCheck reports an error while the connection is down. Connections
// that cannot report their state are assumed healthy.
func (p *NATSPublisher) HealthCheck(context.Context) error {
	c, ok := p.conn.(interface{ IsConnected() bool })
	if !ok || c.IsConnected() {
		return nil
	}
	return errors.New("nats connection is not established")
}

func (p *NATSPublisher) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublished(outcome)
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements workflow.Publisher.
func (NopPublisher) Publish(context.Context, workflow.TransitionEvent) error { return nil }
