package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"LoanLedger/internal/oracle"
)

// PriceUpdate is the wire format oracle publishers push to
// loan.oracle.prices.{feed_id}.
type PriceUpdate struct {
	FeedID    string `json:"feed_id"`
	Value     uint64 `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// PriceSubscriber consumes oracle price updates from JetStream and keeps the
// in-memory feed cache current. The cache is the engine's oracle endpoint;
// a feed that stops updating goes stale and liquidation price checks fail
// closed.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feed     *oracle.StaticFeed
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, feed *oracle.StaticFeed) *PriceSubscriber {
	return &PriceSubscriber{
		js:   js,
		feed: feed,
	}
}

// Subscribe creates the durable price consumer. Malformed updates are
// terminated rather than redelivered: a bad message never becomes good.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "LOAN_ORACLE_PRICES", jetstream.ConsumerConfig{
		Durable:       "loan-ledger-prices",
		FilterSubject: "loan.oracle.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		var update PriceUpdate
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			log.Printf("WARN: malformed price update on %s: %v", msg.Subject(), err)
			msg.Term()
			return
		}
		if update.FeedID == "" || update.Value == 0 {
			log.Printf("WARN: rejected price update on %s: empty feed or zero value", msg.Subject())
			msg.Term()
			return
		}

		ps.feed.Set(update.FeedID, update.Value, update.UpdatedAt)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumer = consumerContext
	log.Println("INFO: subscribed to loan.oracle.prices.> (consumer=loan-ledger-prices)")
	return nil
}

// Stop gracefully stops the price consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price subscriber stopped")
}

// EnsureOracleStream creates the inbound oracle price stream.
func EnsureOracleStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LOAN_ORACLE_PRICES",
		Subjects:  []string{"loan.oracle.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create oracle stream: %w", err)
	}
	log.Println("INFO: ensured oracle stream LOAN_ORACLE_PRICES")
	return nil
}
