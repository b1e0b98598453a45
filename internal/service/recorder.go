package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
)

// appendTimeout bounds a single history write.
const appendTimeout = 5 * time.Second

// HistoryRecorder appends history entries off the request path.
//
// A single worker drains a bounded queue. When the queue is full, or after
// Close, Record writes inline instead, so an entry is never dropped. Writes
// run under a context detached from the request: a client that disconnects
// right after its response still gets its history entry.
type HistoryRecorder struct {
	repo   repository.HistoryRepository
	logger *slog.Logger

	entries chan *model.HistoryEntry
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
}

func NewHistoryRecorder(repo repository.HistoryRepository, queueSize int, logger *slog.Logger) *HistoryRecorder {
	if queueSize < 1 {
		queueSize = 1
	}
	return &HistoryRecorder{
		repo:    repo,
		logger:  logger,
		entries: make(chan *model.HistoryEntry, queueSize),
	}
}

// Start launches the worker. Calling it more than once is a no-op.
func (r *HistoryRecorder) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting history recorder", slog.Int("queueSize", cap(r.entries)))
		r.wg.Add(1)
		go r.worker()
	})
}

// Record schedules entry for persistence and returns immediately unless the
// queue is full.
func (r *HistoryRecorder) Record(entry *model.HistoryEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.closed {
		select {
		case r.entries <- entry:
			return
		default:
			r.logger.Warn("history queue full, writing inline",
				slog.String("userID", entry.UserID),
				slog.String("stage", string(StagePersisted)),
			)
		}
	}
	r.write(entry)
}

// Close stops intake and waits for queued entries to be written, or for ctx
// to expire.
func (r *HistoryRecorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.entries)
		r.mu.Unlock()
	})

	// Entries queued before Start was ever called still need a drainer.
	r.Start()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("history recorder drained")
		return nil
	case <-ctx.Done():
		r.logger.Error("history recorder did not drain in time",
			slog.Int("pending", len(r.entries)),
		)
		return ctx.Err()
	}
}

func (r *HistoryRecorder) worker() {
	defer r.wg.Done()
	for entry := range r.entries {
		r.write(entry)
	}
}

func (r *HistoryRecorder) write(entry *model.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := r.repo.AppendHistory(ctx, entry); err != nil {
		r.logger.Error("failed to append history entry",
			slog.String("stage", string(StagePersisted)),
			slog.String("userID", entry.UserID),
			slog.String("label", entry.Status),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Debug("history entry appended",
		slog.String("userID", entry.UserID),
		slog.Int64("entryID", entry.ID),
	)
}
