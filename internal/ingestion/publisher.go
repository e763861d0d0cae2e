// Package ingestion connects the engine to the message bus. The loan ledger
// only publishes outbound: lifecycle events go to JetStream for downstream
// consumers after the engine has committed them.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"LoanLedger/internal/event"
)

// OutboundPublisher publishes committed lifecycle events to NATS for
// downstream consumers. Subjects follow the pattern:
// loan.ledger.events.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *event.Envelope) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can query the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", env.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("loan.ledger.events.%s", env.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LOAN_LEDGER_EVENTS",
		Subjects:  []string{"loan.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream LOAN_LEDGER_EVENTS")
	return nil
}
