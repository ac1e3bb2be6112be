package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/model"
)

// Bookkeeping retry settings
const (
	RecordAttempts   = 3
	RecordRetryDelay = 2 * time.Second
)

// RecorderStore is the slice of the catalog the recorder writes to.
type RecorderStore interface {
	CreateCompilation(ctx context.Context, topic, filename string, itemCount int) (*model.Compilation, error)
	RecordUsage(ctx context.Context, itemID, compilationID uint, usedAt time.Time) error
}

// Recorder writes the compilation row and its usage records after a
// successful assembly. Writes are retried a bounded number of times; an
// ultimate failure is reported to the caller but the artifact stands.
type Recorder struct {
	store  RecorderStore
	logger *zap.Logger

	attempts int
	delay    time.Duration
}

// NewRecorder creates a recorder over the catalog store.
func NewRecorder(store RecorderStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		logger:   logger,
		attempts: RecordAttempts,
		delay:    RecordRetryDelay,
	}
}

// RecordAll creates the compilation row and one usage record per item,
// all timestamped usedAt. Only items that made it into the artifact may
// be passed in; a usage record must exist exactly for the items a
// compilation contains.
func (r *Recorder) RecordAll(ctx context.Context, topic, outputPath string, items []model.Item, usedAt time.Time) error {
	var comp *model.Compilation

	err := r.retry(ctx, "create compilation", func() error {
		created, createErr := r.store.CreateCompilation(ctx, topic, filepath.Base(outputPath), len(items))
		if createErr != nil {
			return createErr
		}
		comp = created
		return nil
	})
	if err != nil {
		return fmt.Errorf("compilation row: %w", err)
	}

	var failed []error
	for _, item := range items {
		item := item
		err := r.retry(ctx, "record usage", func() error {
			return r.store.RecordUsage(ctx, item.ID, comp.ID, usedAt)
		})
		if err != nil {
			failed = append(failed, fmt.Errorf("item %s: %w", item.ExternalID, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("usage records: %w", errors.Join(failed...))
	}

	return nil
}

// retry runs op up to r.attempts times with a fixed delay between
// attempts, stopping early on context cancellation.
func (r *Recorder) retry(ctx context.Context, what string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}

		r.logger.Warn("bookkeeping write failed",
			zap.String("op", what),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return lastErr
}
