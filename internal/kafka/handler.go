package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/observability"
	"github.com/deKupini/the-library/internal/repository"
)

// HistoryHandler records consumed lending events in the history ledger.
type HistoryHandler struct {
	history repository.HistoryRepository
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewHistoryHandler(history repository.HistoryRepository, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{history: history, logger: logger}
}

func (h *HistoryHandler) WithMetrics(m *observability.Metrics) *HistoryHandler {
	h.metrics = m
	return h
}

// ProcessBatch appends the batch in one call. Redelivered events are ignored
// by the repository, so a retried batch is safe.
func (h *HistoryHandler) ProcessBatch(ctx context.Context, events []*domain.LendingEvent) error {
	if len(events) == 0 {
		return nil
	}

	if err := h.history.Append(ctx, events); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if h.metrics != nil {
		h.metrics.EventsRecorded.Add(float64(len(events)))
	}

	for _, e := range events {
		h.logger.Debug("lending event recorded",
			"event_id", e.ID,
			"type", e.Type,
			"book_id", e.BookID,
		)
	}
	return nil
}
