package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic is used when brokers are configured without a topic.
const DefaultKafkaTopic = "scribe.progress"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a Kafka topic keyed by media id, so each
// media item's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink builds a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultKafkaTopic
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	return &KafkaSink{writer: writer, topic: topic}, nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Send implements Sink.
func (k *KafkaSink) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.MediaID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(evt.Status)},
		},
	})
}

// Close implements Sink.
func (k *KafkaSink) Close() error { return k.writer.Close() }
