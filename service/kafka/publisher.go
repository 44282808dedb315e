package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"PCollab/service/collab"
	"PCollab/tools/errs"

	"github.com/Shopify/sarama"
)

// EventPublisher 会话生命周期事件 -> Kafka topic
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewEventPublisher(p sarama.SyncProducer, topic string) *EventPublisher {
	return &EventPublisher{producer: p, topic: topic}
}

func (p *EventPublisher) Emit(ctx context.Context, ev collab.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(ev.UID, 10)),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
			{Key: []byte("node_id"), Value: []byte(ev.NodeID)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", p.topic, "session_id", ev.SessionID)
	}
	return nil
}
