// Package feed delivers underlay change batches to listeners. A source
// hands each subscriber the batches of one underlay topology, one batch at a
// time and in publication order.
package feed

import (
	"context"
	"fmt"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/listener"
)

// Handler receives one change batch. Calls for one subscription never overlap.
type Handler func(changes []listener.Change)

// Source subscribes handlers to underlay topology feeds
type Source interface {
	// Subscribe starts delivering batches of topologyID to handler. The
	// cancel function stops delivery and waits for an in-flight handler
	// call; it is idempotent and must not be called from the handler.
	Subscribe(ctx context.Context, topologyID string, handler Handler) (cancel func(), err error)
	Close() error
}

// Publisher emits change batches into a feed
type Publisher interface {
	Publish(ctx context.Context, topologyID string, changes []listener.Change) error
}

// Batch is the wire form of one change batch
type Batch struct {
	TopologyID string            `msgpack:"topology_id"`
	Changes    []listener.Change `msgpack:"changes"`
}

// NewSource creates the source selected by conf. A memory feed is served
// by hub, which must be non-nil for that type.
func NewSource(conf cfg.FeedConfiguration, hub *Hub, groupID string) (Source, error) {
	codec, err := encoding.NewCodec(conf.Compression)
	if err != nil {
		return nil, err
	}

	switch conf.Type {
	case "", "memory":
		if hub == nil {
			return nil, fmt.Errorf("memory feed requires a hub")
		}
		return hub, nil
	case "nats":
		return NewNatsSource(conf.NatsURL, conf.Prefix, codec)
	case "kafka":
		return NewKafkaSource(KafkaSourceConfig{
			Brokers: conf.Brokers,
			Prefix:  conf.Prefix,
			GroupID: groupID,
		}, codec)
	}
	return nil, fmt.Errorf("unknown feed type: %s", conf.Type)
}

// subject joins a feed prefix with a topology id
func subject(prefix, topologyID string) string {
	if prefix == "" {
		return topologyID
	}
	return prefix + "." + topologyID
}

func decodeBatch(codec *encoding.Codec, data []byte) (Batch, error) {
	var b Batch
	if err := codec.Decode(data, &b); err != nil {
		return Batch{}, fmt.Errorf("failed to decode change batch: %w", err)
	}
	return b, nil
}
