package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// TriggerRequest asks for a manual collection. An empty Source means a full cycle.
type TriggerRequest struct {
	Source      string `json:"source,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// TriggerHandler runs the requested collection and returns a short summary for the reply
type TriggerHandler func(req TriggerRequest) (interface{}, error)

// TriggerReply is sent back when the trigger message carries a reply subject
type TriggerReply struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type Subscriber struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	handler      TriggerHandler
	logger       *zap.Logger
}

func NewSubscriber(natsURL string, handler TriggerHandler, logger *zap.Logger) (*Subscriber, error) {
	conn, err := connect(natsURL, "sentinel-trigger", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect subscriber to NATS: %w", err)
	}

	logger.Info("Subscriber connected to NATS", zap.String("url", natsURL))

	return &Subscriber{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start begins listening for collection triggers
func (s *Subscriber) Start() error {
	var err error

	s.subscription, err = s.conn.Subscribe(SubjectCollectorTrigger, s.handleTrigger)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectCollectorTrigger, err)
	}

	s.logger.Info("Subscribed to collection triggers", zap.String("subject", SubjectCollectorTrigger))
	return nil
}

func (s *Subscriber) handleTrigger(msg *nats.Msg) {
	reply := s.dispatch(msg.Data)

	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("Failed to marshal trigger reply", zap.Error(err))
		return
	}

	if err := msg.Respond(data); err != nil {
		s.logger.Warn("Failed to respond to trigger", zap.Error(err))
	}
}

// dispatch decodes the request and runs the handler
func (s *Subscriber) dispatch(data []byte) TriggerReply {
	var req TriggerRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("Failed to unmarshal trigger", zap.Error(err))
			return TriggerReply{Error: "invalid trigger payload"}
		}
	}

	s.logger.Info("Received collection trigger",
		zap.String("source", req.Source),
		zap.String("requested_by", req.RequestedBy),
	)

	result, err := s.handler(req)
	if err != nil {
		s.logger.Warn("Triggered collection failed", zap.String("source", req.Source), zap.Error(err))
		return TriggerReply{Error: err.Error()}
	}

	return TriggerReply{OK: true, Result: result}
}

func (s *Subscriber) Close() {
	if s.subscription != nil {
		s.subscription.Unsubscribe()
	}

	if s.conn != nil {
		s.conn.Close()
		s.logger.Info("Subscriber disconnected from NATS")
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}
