package audit

/*
journal.go collects the decision trail of the service.

Events are handed over through a buffered channel so the request path never
waits on the database. A single worker batches them and writes through
StorageInterface when the batch is full or the flush ticker fires. Stop closes
the channel and waits until the worker has drained and flushed everything.
When the buffer is full the event is written to the zap log instead.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const batchSize = 100

// StorageInterface is where batches land (postgres audit_logs, memory).
type StorageInterface interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor is what services depend on.
type Auditor interface {
	Log(event Event)
}

// Gauge receives the buffer fill level; prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

type Journal struct {
	ch       chan Event
	repo     StorageInterface
	logger   *zap.Logger
	interval time.Duration
	fill     Gauge
	wg       sync.WaitGroup
	isClosed int32
}

func NewJournal(repo StorageInterface, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:       make(chan Event, bufferSize),
		repo:     repo,
		logger:   logger.Named("journal"),
		interval: flushInterval,
	}
}

// WithGauge reports buffer utilization on every flush.
func (j *Journal) WithGauge(g Gauge) *Journal {
	j.fill = g
	return j
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop refuses new events, drains the buffer and waits for the final flush.
func (j *Journal) Stop() {
	if !atomic.CompareAndSwapInt32(&j.isClosed, 0, 1) {
		return
	}
	// lets in-flight Log calls that passed the flag check finish their send
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("audit event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case j.ch <- event:
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("action", string(event.Action)),
			zap.String("agent_id", event.AgentID),
			zap.String("outcome", event.Outcome),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
		if len(batch) == 0 {
			return
		}
		// the request context is long gone by the time a batch is written
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Nop discards events; used where no journal is wired.
type Nop struct{}

func (Nop) Log(Event) {}
