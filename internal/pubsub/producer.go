// Package pubsub publishes task state transitions to kafka so downstream
// consumers (billing, alerting) learn about completed and cancelled jobs
// without polling the API.
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/reconcile"
)

// Producer publishes reconcile events to one kafka topic, keyed by task id
// so a task's transitions stay ordered within a partition.
type Producer struct {
	producer *kafka.Producer
	topic    string
	log      *slog.Logger
}

func NewProducer(cfg common.EventsConfig, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		return nil, common.Configuration("kafka topic is empty", nil)
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": cfg.KafkaAddr})
	if err != nil {
		return nil, err
	}

	prod := &Producer{producer: p, topic: cfg.Topic, log: logger}
	go prod.drainDeliveries()
	logger.Info("pubsub.producer.started", "addr", cfg.KafkaAddr, "topic", cfg.Topic)
	return prod, nil
}

func (p *Producer) drainDeliveries() {
	for e := range p.producer.Events() {
		if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
			p.log.Warn("pubsub.delivery.failed",
				"topic", p.topic,
				"key", string(msg.Key),
				"error", msg.TopicPartition.Error,
			)
		}
	}
}

// NotifyStateChange publishes the event. Failures are logged, never
// propagated; a broker outage must not fail a reconciliation.
func (p *Producer) NotifyStateChange(ctx context.Context, ev reconcile.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("pubsub.encode.failed", "task_id", ev.TaskID, "error", err)
		return
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.TaskID),
		Value:          payload,
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		p.log.Warn("pubsub.publish.failed",
			"task_id", ev.TaskID,
			"req_id", common.RequestIDFromContext(ctx),
			"error", err,
		)
	}
}

func (p *Producer) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.producer.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var _ reconcile.Notifier = (*Producer)(nil)
