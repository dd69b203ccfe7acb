package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchInserter is the interface used by Collector to persist entries.
type BatchInserter interface {
	BatchInsert(ctx context.Context, entries []Entry) error
}

// FlushObserver is notified after every flush attempt.
type FlushObserver func(count int, err error, took time.Duration)

// Collector buffers audit entries in memory and flushes them to the store in
// batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Entry
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	onFlush       FlushObserver
	now           func() time.Time
}

// NewCollector creates a Collector that flushes when the buffer reaches
// batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		store:         store,
		buffer:        make([]Entry, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// OnFlush registers an observer for flush results (used for metrics).
func (c *Collector) OnFlush(fn FlushObserver) {
	c.mu.Lock()
	c.onFlush = fn
	c.mu.Unlock()
}

// Start flushes buffered entries on a timer. It blocks until Stop is called
// or the context is cancelled, flushing one last time on the way out.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-ctx.Done():
			c.Flush()
			return
		case <-c.done:
			c.Flush()
			return
		}
	}
}

// Record buffers an entry, filling in its id and timestamp when unset.
func (c *Collector) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now().UTC()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		c.Flush()
	}
}

// Pending returns the number of buffered entries.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Flush drains the buffer into the store. Errors are logged, not returned,
// so recording never blocks the caller's operation.
func (c *Collector) Flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Entry, 0, c.batchSize)
	onFlush := c.onFlush
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := c.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush audit entries", "count", len(batch), "error", err)
	}
	if onFlush != nil {
		onFlush(len(batch), err, time.Since(start))
	}
}

// Stop signals the background goroutine to exit after a final flush.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
