package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/writer"
	"github.com/segmentio/kafka-go"
)

const DefaultKafkaBatchBytes = 1 << 20 // 1MB

func init() {
	writer.RegisterChain("kafka", func(conf cfg.SinkConfiguration, topology string) (writer.TransactionChain, error) {
		codec, err := encoding.NewCodec(conf.Compression)
		if err != nil {
			return nil, err
		}
		return NewKafkaChain(KafkaConfig{
			Brokers: conf.Brokers,
			Topic:   Subject(conf.Prefix, topology),
		}, codec)
	})
}

// KafkaConfig holds configuration for KafkaChain
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	BatchBytes int64
}

// KafkaChain publishes each transaction as one WriteMessages call. Entries
// are keyed by overlay id so compaction keeps the latest value per item;
// deletes are tombstones.
type KafkaChain struct {
	writer *kafka.Writer
	topic  string
	codec  *encoding.Codec
	c      *committer
}

func NewKafkaChain(config KafkaConfig, codec *encoding.Codec) (*KafkaChain, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if codec == nil {
		codec, _ = encoding.NewCodec("")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	k := &KafkaChain{writer: w, topic: config.Topic, codec: codec}
	k.c = newCommitter(k.apply)
	return k, nil
}

func (k *KafkaChain) NewTransaction() writer.Transaction {
	return &transaction{c: k.c}
}

func (k *KafkaChain) apply(ops []writer.Operation) error {
	msgs, err := kafkaMessages(ops, k.codec)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.writer.WriteMessages(context.Background(), msgs...)
}

// kafkaMessages converts operations into keyed messages with an "op" header
func kafkaMessages(ops []writer.Operation, codec *encoding.Codec) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(ops))
	for _, op := range ops {
		name, value, err := payload(op, codec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(op.Target()),
			Value:   value,
			Headers: []kafka.Header{{Key: "op", Value: []byte(name)}},
		})
	}
	return msgs, nil
}

// payload returns the operation name and its encoded value (nil for deletes)
func payload(op writer.Operation, codec *encoding.Codec) (string, []byte, error) {
	var (
		name  string
		value any
	)
	switch o := op.(type) {
	case writer.PutOperation:
		name, value = "put", o.Value
	case writer.MergeOperation:
		name, value = "merge", o.Value
	case writer.DeleteOperation:
		return "delete", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported operation %T", op)
	}
	data, err := codec.Encode(value)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s: %w", op.Target(), err)
	}
	return name, data, nil
}

func (k *KafkaChain) Close() error {
	return k.CloseWithin(0)
}

// CloseWithin implements writer.BoundedChain. Closing the writer fails a
// stalled WriteMessages.
func (k *KafkaChain) CloseWithin(timeout time.Duration) error {
	err := k.c.closeWithin(timeout)
	if k.writer == nil {
		return err
	}
	if cerr := k.writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
