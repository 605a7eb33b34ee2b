package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/listener"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NatsSource reads change batches from core NATS subjects named
// {prefix}.{topology id}
type NatsSource struct {
	nc     *nats.Conn
	prefix string
	codec  *encoding.Codec
}

func NewNatsSource(url, prefix string, codec *encoding.Codec) (*NatsSource, error) {
	if url == "" {
		return nil, fmt.Errorf("nats feed requires nats_url")
	}
	if codec == nil {
		codec, _ = encoding.NewCodec("")
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsSource{nc: nc, prefix: prefix, codec: codec}, nil
}

func (n *NatsSource) Subscribe(_ context.Context, topologyID string, handler Handler) (func(), error) {
	subj := subject(n.prefix, topologyID)
	done := make(chan struct{})
	msgs := make(chan *nats.Msg, defaultBatchBufferSize)

	// one goroutine per subscription keeps batches in order
	sub, err := n.nc.ChanSubscribe(subj, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			case msg := <-msgs:
				b, err := decodeBatch(n.codec, msg.Data)
				if err != nil {
					log.Warn().Err(err).Str("subject", subj).Msg("Dropping undecodable change batch")
					continue
				}
				handler(b.Changes)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
		<-exited
	}, nil
}

func (n *NatsSource) Publish(_ context.Context, topologyID string, changes []listener.Change) error {
	data, err := n.codec.Encode(Batch{TopologyID: topologyID, Changes: changes})
	if err != nil {
		return err
	}
	return n.nc.Publish(subject(n.prefix, topologyID), data)
}

func (n *NatsSource) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
