package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// TaskEvent is published after every committed task mutation.
type TaskEvent struct {
	EventID    string    `json:"eventId"`
	TaskID     uint64    `json:"taskId"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Tag        string    `json:"tag"`
	Status     string    `json:"status"`
	OrderState string    `json:"orderState,omitempty"`
	Project    string    `json:"project,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher ships task events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event TaskEvent) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes events to topic keyed by task id, so one task's
// events stay ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event TaskEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeEvent(event TaskEvent) (kafka.Message, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(event.TaskID, 10)),
		Value: value,
		Time:  event.Timestamp,
	}, nil
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TaskEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
