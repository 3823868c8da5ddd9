package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// Subscribe consumes randomness events matching filter until ctx is done,
// calling fn for each one. With replay set, retained events are delivered
// before new ones; otherwise only events published after the call are.
// Malformed messages are logged and skipped.
func Subscribe(ctx context.Context, natsURL, filter string, replay bool, logger *slog.Logger, fn func(*RandomnessEvent)) error {
	nc, err := Connect(natsURL, "orand-subscriber")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	deliver := jetstream.DeliverNewPolicy
	if replay {
		deliver = jetstream.DeliverAllPolicy
	}
	// Ephemeral - deleted by the server once the subscriber goes away
	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		event, err := DecodeEvent(msg.Data())
		if err != nil {
			logger.WarnContext(ctx, "failed to unmarshal event",
				"subject", msg.Subject(),
				"error", err,
			)
		} else {
			fn(event)
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer cc.Stop()

	logger.DebugContext(ctx, "subscribed to randomness events", "filter", filter)
	<-ctx.Done()
	return nil
}

// DecodeEvent parses a published event.
func DecodeEvent(data []byte) (*RandomnessEvent, error) {
	var event RandomnessEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Type == "" || event.Seed == "" {
		return nil, fmt.Errorf("event is missing type or seed")
	}
	return &event, nil
}
