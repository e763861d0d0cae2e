package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"LoanLedger/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// engine uses BLOCKING sends on this channel, so if the worker falls behind
// the engine stalls rather than losing an event.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Writer returns the underlying event log writer.
func (w *Worker) Writer() *EventLogWriter {
	return w.writer
}

// Run starts the worker loop. It batches incoming records and flushes when
// the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(eventBatch) > 0 {
				if err := w.flush(context.Background(), eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(eventBatch) > 0 {
					if err := w.flush(context.Background(), eventBatch, journalBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			eventBatch = append(eventBatch, rec.EventRow)
			journalBatch = append(journalBatch, rec.JournalRows...)

			if len(eventBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				eventBatch = eventBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(eventBatch) > 0 {
				if err := w.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				eventBatch = eventBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops records: it retries until the write succeeds or the context
// is cancelled, and on cancellation it makes one final attempt with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(events))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), events, journals)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, events, tx); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := w.writer.WriteJournalBatch(ctx, journals, tx); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_journals").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	return nil
}
