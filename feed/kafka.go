package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/listener"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaSourceConfig holds configuration for KafkaSource
type KafkaSourceConfig struct {
	Brokers []string
	Prefix  string
	GroupID string // consumer group; one per instance
}

// KafkaSource consumes change batches from topics named
// {prefix}.{topology id}. Offsets are committed after the handler returns.
type KafkaSource struct {
	conf  KafkaSourceConfig
	codec *encoding.Codec

	writerOnce sync.Once
	writer     *kafka.Writer
}

func NewKafkaSource(conf KafkaSourceConfig, codec *encoding.Codec) (*KafkaSource, error) {
	if len(conf.Brokers) == 0 {
		return nil, fmt.Errorf("kafka feed requires at least one broker address")
	}
	if conf.GroupID == "" {
		return nil, fmt.Errorf("kafka feed requires a consumer group")
	}
	if codec == nil {
		codec, _ = encoding.NewCodec("")
	}
	return &KafkaSource{conf: conf, codec: codec}, nil
}

func (k *KafkaSource) Subscribe(ctx context.Context, topologyID string, handler Handler) (func(), error) {
	topic := subject(k.conf.Prefix, topologyID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.conf.Brokers,
		GroupID: k.conf.GroupID + "." + topologyID,
		Topic:   topic,
	})

	ctx, cancel := context.WithCancel(ctx)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Str("topic", topic).Msg("Kafka feed stopped")
				}
				return
			}
			b, err := decodeBatch(k.codec, msg.Value)
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Dropping undecodable change batch")
			} else {
				handler(b.Changes)
			}
			if err := reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("topic", topic).Msg("Failed to commit feed offset")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-exited
			if err := reader.Close(); err != nil {
				log.Debug().Err(err).Str("topic", topic).Msg("Closing kafka reader")
			}
		})
	}, nil
}

// Publish writes one batch keyed by topology id
func (k *KafkaSource) Publish(ctx context.Context, topologyID string, changes []listener.Change) error {
	k.writerOnce.Do(func() {
		k.writer = &kafka.Writer{
			Addr:                   kafka.TCP(k.conf.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	})
	data, err := k.codec.Encode(Batch{TopologyID: topologyID, Changes: changes})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject(k.conf.Prefix, topologyID),
		Key:   []byte(topologyID),
		Value: data,
	})
}

func (k *KafkaSource) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}
