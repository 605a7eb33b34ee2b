package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/writer"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const publishTimeout = 5 * time.Second

func init() {
	writer.RegisterChain("nats", func(conf cfg.SinkConfiguration, topology string) (writer.TransactionChain, error) {
		if conf.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		codec, err := encoding.NewCodec(conf.Compression)
		if err != nil {
			return nil, err
		}
		return NewNatsChain(conf.NatsURL, Subject(conf.Prefix, topology), codec)
	})
}

// Subject joins a subject or topic prefix with a topology name
func Subject(prefix, topology string) string {
	if prefix == "" {
		return topology
	}
	return prefix + "." + topology
}

// NatsChain publishes overlay operations to a JetStream subject
type NatsChain struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	codec   *encoding.Codec
	c       *committer
}

func NewNatsChain(url, subject string, codec *encoding.Codec) (*NatsChain, error) {
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

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	streamName := sanitizeStreamName(subject)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n := &NatsChain{nc: nc, js: js, subject: subject, codec: codec}
	n.c = newCommitter(n.apply)
	return n, nil
}

func (n *NatsChain) NewTransaction() writer.Transaction {
	return &transaction{c: n.c}
}

func (n *NatsChain) apply(ops []writer.Operation) error {
	msgs, err := natsMessages(n.subject, ops, n.codec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for _, msg := range msgs {
		if _, err := n.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
		}
	}
	return nil
}

// natsMessages converts operations into messages carrying op and id headers
func natsMessages(subject string, ops []writer.Operation, codec *encoding.Codec) ([]*nats.Msg, error) {
	msgs := make([]*nats.Msg, 0, len(ops))
	for _, op := range ops {
		name, value, err := payload(op, codec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &nats.Msg{
			Subject: subject,
			Data:    value,
			Header:  nats.Header{"op": []string{name}, "id": []string{op.Target()}},
		})
	}
	return msgs, nil
}

func (n *NatsChain) Close() error {
	return n.CloseWithin(0)
}

// CloseWithin implements writer.BoundedChain. Closing the connection fails
// a stalled publish.
func (n *NatsChain) CloseWithin(timeout time.Duration) error {
	err := n.c.closeWithin(timeout)
	if n.nc != nil {
		n.nc.Close()
	}
	return err
}

// sanitizeStreamName converts a subject to a valid JetStream stream name
func sanitizeStreamName(subject string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", "/", "_").Replace(subject)
}
