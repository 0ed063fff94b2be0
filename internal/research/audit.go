package research

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mkravets/chimera/internal/domain"
)

const (
	auditQueueSize    = 64
	auditWriteTimeout = 5 * time.Second
	auditCloseTimeout = 5 * time.Second
)

// AuditSink persists query audit rows.
type AuditSink interface {
	InsertQueryRecord(ctx context.Context, rec domain.QueryRecord) error
}

// AuditLog queues completed-query records and writes them from a background
// worker so persistence latency never sits on the query path.
type AuditLog struct {
	sink    AuditSink
	records chan domain.QueryRecord
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewAuditLog starts the background writer.
func NewAuditLog(sink AuditSink) *AuditLog {
	l := &AuditLog{
		sink:    sink,
		records: make(chan domain.QueryRecord, auditQueueSize),
	}
	l.wg.Add(1)
	go l.process()
	return l
}

func (l *AuditLog) process() {
	defer l.wg.Done()
	for rec := range l.records {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := l.sink.InsertQueryRecord(ctx, rec); err != nil {
			slog.Warn("query audit write failed", "user_id", rec.UserID, "error", err)
		}
		cancel()
	}
}

// Record queues one audit row. A full queue drops the record with a warning
// rather than blocking the caller; records arriving after Close are dropped
// silently.
func (l *AuditLog) Record(rec domain.QueryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.records <- rec:
	default:
		slog.Warn("audit queue full, dropping query record", "user_id", rec.UserID)
	}
}

// Close stops accepting records, lets the worker drain the queue, and waits
// for it to finish.
func (l *AuditLog) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.records)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(auditCloseTimeout):
		slog.Warn("audit writer shutdown timed out")
	}
}
