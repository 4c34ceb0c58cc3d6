package metering

import (
	"encoding/json"
	"fmt"
	"time"

	"aerodesk/pkg/kafka"
	"aerodesk/pkg/logging"
)

const defaultUsageTopic = "desk.usage_reports"

// Publisher ships usage summaries to the billing topic.
type Publisher struct {
	producer *kafka.Producer
	topic    string
	logger   logging.Logger
}

func NewPublisher(brokers []string, clientID, topic string, logger logging.Logger) (*Publisher, error) {
	if topic == "" {
		topic = defaultUsageTopic
	}
	producer, err := kafka.NewProducer(brokers, clientID, logger)
	if err != nil {
		return nil, fmt.Errorf("create usage producer: %w", err)
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}, nil
}

func (p *Publisher) PublishUsageSummary(summary UsageSummary) error {
	if p == nil || p.producer == nil {
		return nil
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal usage summary: %w", err)
	}
	headers := map[string]string{
		"source":       "aerodesk",
		"event_type":   "usage_summary",
		"published_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.producer.ProduceMessage(p.topic, []byte(summary.SessionID), payload, headers); err != nil {
		return fmt.Errorf("publish usage summary: %w", err)
	}
	if p.logger != nil {
		p.logger.WithFields(logging.Fields{
			"session_id": summary.SessionID,
			"topic":      p.topic,
			"llm_calls":  summary.LLMCalls,
		}).Debug("Published usage summary")
	}
	return nil
}

func (p *Publisher) HealthCheck() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.HealthCheck()
}

func (p *Publisher) Close() {
	if p == nil || p.producer == nil {
		return
	}
	p.producer.Close()
}
