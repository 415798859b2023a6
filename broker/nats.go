package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBroker publishes and subscribes to awakeable resolutions over a
// NATS connection, letting a different process than the one running
// the invocation resolve its awakeables. Grounded on the
// publish/subscribe shape more0ai-registry's dispatcher package uses
// over the same client library.
type NATSBroker struct {
	conn *nats.Conn
}

func NewNATSBroker(conn *nats.Conn) *NATSBroker {
	return &NATSBroker{conn: conn}
}

func subject(id string) string {
	return "durableflow.awakeable." + id
}

func (b *NATSBroker) Publish(ctx context.Context, res Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("nats broker: marshal resolution: %w", err)
	}
	return b.conn.Publish(subject(res.ID), data)
}

func (b *NATSBroker) Subscribe(ctx context.Context, id string) (<-chan Resolution, func(), error) {
	out := make(chan Resolution, 1)
	sub, err := b.conn.Subscribe(subject(id), func(msg *nats.Msg) {
		var res Resolution
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			return
		}
		select {
		case out <- res:
		default:
		}
	})
	if err != nil {
		close(out)
		return nil, nil, fmt.Errorf("nats broker: subscribe: %w", err)
	}
	cancel := func() { _ = sub.Unsubscribe() }
	return out, cancel, nil
}
