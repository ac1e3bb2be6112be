package selector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/model"
)

// Catalog is the slice of the catalog store the selector reads from.
type Catalog interface {
	FindEligible(ctx context.Context, topic string, excludeIDs []string, cutoff time.Time) ([]model.Item, error)
}

// Selector picks candidate items for a topic under the cooldown
// constraint. A result shorter than requested is not an error; the
// caller decides whether a smaller compilation is acceptable.
type Selector struct {
	catalog Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a selector over the given catalog.
func New(catalog Catalog, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Select returns up to desired items eligible for the topic, skipping
// anything used within the last cooldownDays and anything in exclude.
// The store's ordering (never-used first, then oldest last use) is
// preserved, so the front of the slice is always the stalest candidate.
func (s *Selector) Select(ctx context.Context, topic string, desired, cooldownDays int, exclude []string) ([]model.Item, error) {
	if desired <= 0 {
		return nil, nil
	}

	cutoff := s.now().Add(-time.Duration(cooldownDays) * 24 * time.Hour)

	items, err := s.catalog.FindEligible(ctx, topic, exclude, cutoff)
	if err != nil {
		return nil, err
	}

	if len(items) > desired {
		items = items[:desired]
	}

	s.logger.Debug("selected candidates",
		zap.String("topic", topic),
		zap.Int("desired", desired),
		zap.Int("selected", len(items)),
		zap.Time("cooldown_cutoff", cutoff))

	return items, nil
}

// SelectWithinDuration returns eligible items whose combined duration
// stays at or under maxSeconds. Candidates are walked in the store's
// staleness order; one that would overflow the budget is skipped and the
// walk continues, so shorter items further down can still fill the gap.
// Items without duration data count as DefaultDurationSeconds each.
func (s *Selector) SelectWithinDuration(ctx context.Context, topic string, maxSeconds, cooldownDays int, exclude []string) ([]model.Item, error) {
	if maxSeconds <= 0 {
		return nil, nil
	}

	cutoff := s.now().Add(-time.Duration(cooldownDays) * 24 * time.Hour)

	candidates, err := s.catalog.FindEligible(ctx, topic, exclude, cutoff)
	if err != nil {
		return nil, err
	}

	var items []model.Item
	total := 0
	for _, item := range candidates {
		seconds := item.EffectiveDuration()
		if total+seconds > maxSeconds {
			continue
		}
		items = append(items, item)
		total += seconds
	}

	s.logger.Debug("selected candidates within duration",
		zap.String("topic", topic),
		zap.Int("max_seconds", maxSeconds),
		zap.Int("total_seconds", total),
		zap.Int("selected", len(items)),
		zap.Time("cooldown_cutoff", cutoff))

	return items, nil
}
