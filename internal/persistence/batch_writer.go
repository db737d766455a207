package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"synth-core/pkg/db"
)

// EventSink persists a batch of events atomically.
type EventSink interface {
	InsertEvents(ctx context.Context, batch []db.Event) error
}

// BatchWriter buffers events and writes them to the sink in batches.
type BatchWriter struct {
	sink        EventSink
	log         zerolog.Logger
	buffer      []db.Event
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup
	metrics     BatchWriterMetrics
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer with specified parameters.
// maxSize: max buffered events before auto-flush
// interval: time-based flush interval
func NewBatchWriter(sink EventSink, log zerolog.Logger, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		sink:        sink,
		log:         log,
		buffer:      make([]db.Event, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds an event to the batch. After Close every write is flushed
// synchronously.
func (bw *BatchWriter) Write(e db.Event) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, e)
	shouldFlush := len(bw.buffer) >= bw.maxSize || bw.closed.Load()
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(context.Background()); err != nil {
			bw.log.Warn().Err(err).Msg("write-through flush failed")
		}
	}
}

// Flush immediately writes all buffered events. Flushes are serialized so
// batches reach the sink in write order.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]db.Event, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ctx, batch)
}

func (bw *BatchWriter) executeBatch(ctx context.Context, batch []db.Event) error {
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(batch)))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	bw.mu.Lock()
	bw.metrics.LastBatchSize = len(batch)
	bw.metrics.LastFlushTime = time.Now()
	bw.mu.Unlock()

	if err := bw.sink.InsertEvents(ctx, batch); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.log.Error().Err(err).Int("size", len(batch)).Msg("event batch dropped")
		return err
	}

	bw.log.Debug().Int("size", len(batch)).Msg("event batch flushed")
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn().Err(err).Msg("background flush error")
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn().Err(err).Msg("final flush error")
			}
			return
		}
	}
}

// Pending returns the number of buffered events.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.mu.Lock()
	size, last := bw.metrics.LastBatchSize, bw.metrics.LastFlushTime
	bw.mu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		LastBatchSize: size,
		LastFlushTime: last,
	}
}

// Close stops the background loop after a final flush.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.closed.Store(true)
		close(bw.done)
	})
	bw.wg.Wait()
	return nil
}
