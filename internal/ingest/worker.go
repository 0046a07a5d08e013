package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"founderos-knowledge/internal/platform/rabbitmq"
	"founderos-knowledge/internal/repository"
)

// Worker consumes ingest jobs off the durable queue with a pool of
// goroutines, and runs the stale-document sweep in the background. Job
// completion is recorded in the document row, not the broker: a delivery is
// acked once the pipeline has driven the document to a terminal state, and
// nacked without requeue otherwise so the sweep can pick up the pieces.
type Worker struct {
	conn      *amqp.Connection
	pipeline  *Pipeline
	docRepo   *repository.DocumentRepository
	queueName string
	workers   int

	staleAfter    time.Duration
	sweepInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type WorkerConfig struct {
	QueueName     string
	Workers       int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func NewWorker(conn *amqp.Connection, pipeline *Pipeline, docRepo *repository.DocumentRepository, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Worker{
		conn:          conn,
		pipeline:      pipeline,
		docRepo:       docRepo,
		queueName:     cfg.QueueName,
		workers:       cfg.Workers,
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open ingest channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare ingest queue failed: %w", err)
	}

	if err := ch.Qos(w.workers, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set ingest prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume ingest queue failed: %w", err)
	}

	// Recover documents orphaned by a previous crash before taking new work.
	w.sweep()

	var closeOnce sync.Once
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer closeOnce.Do(func() { _ = ch.Close() })
			w.consume(workerCtx, deliveries)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop(workerCtx)
	}()

	return nil
}

func (w *Worker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var job rabbitmq.IngestJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Printf("ingest: decode job failed: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			if err := w.pipeline.Process(ctx, job.DocumentID); err != nil {
				log.Printf("ingest: process document %s failed: %v", job.DocumentID, err)
				_ = d.Nack(false, false)
				continue
			}

			_ = d.Ack(false)
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	if w.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep fails documents stuck in processing longer than the staleness
// threshold. The cutoff is re-checked inside the update, so a document a
// live worker just finished is left alone.
func (w *Worker) sweep() {
	if w.staleAfter <= 0 {
		return
	}

	stale, err := w.docRepo.ListStaleProcessing(w.staleAfter)
	if err != nil {
		log.Printf("ingest: stale sweep query failed: %v", err)
		return
	}

	for _, doc := range stale {
		failed, err := w.docRepo.FailStale(doc.ID, w.staleAfter, "processing timed out; upload can be retried")
		if err != nil {
			log.Printf("ingest: fail stale document %s failed: %v", doc.ID, err)
			continue
		}
		if failed {
			log.Printf("ingest: marked stale document %s as failed", doc.ID)
		}
	}
}

func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
