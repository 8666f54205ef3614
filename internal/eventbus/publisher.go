// Package eventbus publishes scored events and collection results to NATS and
// listens for manual collection triggers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects
const (
	SubjectEventsScored      = "events.scored"
	SubjectCollectionResults = "collection.results"
	SubjectCollectorTrigger  = "collector.trigger"
)

// Sink receives everything this service produces. Delivery is at-most-once.
type Sink interface {
	PublishEvent(event *models.Event) error
	PublishResult(result *models.CollectionResult) error
}

type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func connect(natsURL, name string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
}

func NewPublisher(natsURL string, logger *zap.Logger) (*Publisher, error) {
	conn, err := connect(natsURL, "sentinel-publisher", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect publisher to NATS: %w", err)
	}

	logger.Info("Publisher connected to NATS", zap.String("url", natsURL))

	return &Publisher{
		conn:   conn,
		logger: logger,
	}, nil
}

// PublishEvent sends one scored canonical event to events.scored
func (p *Publisher) PublishEvent(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	if err := p.conn.Publish(SubjectEventsScored, data); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}

	p.logger.Debug("Published event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Bool("anomaly", event.IsAnomaly),
	)

	return nil
}

// PublishResult sends one collection result to collection.results
func (p *Publisher) PublishResult(result *models.CollectionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result %s: %w", result.ResultID, err)
	}

	if err := p.conn.Publish(SubjectCollectionResults, data); err != nil {
		return fmt.Errorf("failed to publish result %s: %w", result.ResultID, err)
	}

	p.logger.Debug("Published collection result",
		zap.String("result_id", result.ResultID),
		zap.String("task_id", result.TaskID),
		zap.String("status", string(result.Status)),
	)

	return nil
}

// Flush waits for buffered messages to reach the server
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.conn.FlushTimeout(timeout)
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("Publisher disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
