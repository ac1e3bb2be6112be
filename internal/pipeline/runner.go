package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/fetch"
	"github.com/tubestitch/tubestitch/internal/model"
	"github.com/tubestitch/tubestitch/internal/platform"
)

// Backfill bounds
const (
	// MaxBackfillRounds caps selector re-invocations after fetch
	// failures so a nearly exhausted topic cannot loop forever
	MaxBackfillRounds = 2

	RunIDPrefix = "run-"
)

// Params is the run invocation surface. Either Count or
// MaxDurationSeconds must be positive: a positive duration cap switches
// selection from take-N to fill-the-time-budget.
type Params struct {
	Topic              string `validate:"required"`
	Count              int    `validate:"gte=0"`
	MaxDurationSeconds int    `validate:"gte=0"`
	CooldownDays       int    `validate:"gte=0"`
	MaxConcurrency     int    `validate:"gt=0"`
	RetryAttempts      int    `validate:"gte=0"`
}

// Selector chooses candidate items for a topic.
type Selector interface {
	Select(ctx context.Context, topic string, desired, cooldownDays int, exclude []string) ([]model.Item, error)
	SelectWithinDuration(ctx context.Context, topic string, maxSeconds, cooldownDays int, exclude []string) ([]model.Item, error)
}

// Coordinator downloads a candidate set and reports per-item outcomes in
// candidate order.
type Coordinator interface {
	FetchAll(ctx context.Context, items []model.Item) []fetch.Result
}

// Assembler concatenates fetched files into one artifact.
type Assembler interface {
	Assemble(ctx context.Context, topic string, inputs []string) (string, error)
}

// Prober reads the duration of a produced artifact. Optional; a nil
// prober falls back to summing catalog durations.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// FetchFailure summarizes one item that exhausted its retries.
type FetchFailure struct {
	ExternalID string
	Title      string
	Kind       fetch.FailureKind
	Attempts   int
	Reason     string
}

// Report is what a run tells the operator: every count along the
// pipeline plus the artifact path or the reason there isn't one.
type Report struct {
	RunID    string
	Topic    string
	Started  time.Time
	Finished time.Time

	Requested int
	Selected  int
	Fetched   int
	Assembled int

	BackfillRounds int
	Failures       []FetchFailure

	OutputPath      string
	DurationSeconds float64

	// Empty marks the distinct no-eligible-items outcome; it is not a
	// failure.
	Empty bool

	// BookkeepingFailed means the artifact exists but usage records
	// could not be written; future cooldowns won't see this run.
	BookkeepingFailed bool
}

// Runner orchestrates one complete pipeline run.
type Runner struct {
	selector  Selector
	fetcher   Coordinator
	assembler Assembler
	recorder  *Recorder
	prober    Prober

	// downloadDir, when set, is cleaned of source media after a
	// successful run.
	downloadDir string

	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewRunner wires the pipeline stages together.
func NewRunner(sel Selector, fetcher Coordinator, asm Assembler, rec *Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		selector:  sel,
		fetcher:   fetcher,
		assembler: asm,
		recorder:  rec,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// SetProber attaches an artifact duration prober.
func (r *Runner) SetProber(p Prober) {
	r.prober = p
}

// SetDownloadDir enables post-run cleanup of the download directory.
func (r *Runner) SetDownloadDir(dir string) {
	r.downloadDir = dir
}

// Run executes select → fetch → backfill → assemble → record. The
// returned report is always non-nil, even alongside an error, so the
// caller can show how far the run got.
func (r *Runner) Run(ctx context.Context, p Params) (*Report, error) {
	report := &Report{
		RunID:     generateRunID(),
		Topic:     p.Topic,
		Started:   r.now(),
		Requested: p.Count,
	}
	defer func() { report.Finished = r.now() }()

	if err := r.validate.Struct(p); err != nil {
		return report, fmt.Errorf("invalid run parameters: %w", err)
	}

	durationCapped := p.MaxDurationSeconds > 0
	if p.Count <= 0 && !durationCapped {
		return report, fmt.Errorf("either a count or a duration cap is required")
	}

	log := r.logger.With(zap.String("run_id", report.RunID), zap.String("topic", p.Topic))
	log.Info("starting run",
		zap.Int("requested", p.Count),
		zap.Int("max_duration_seconds", p.MaxDurationSeconds))

	var items []model.Item
	var err error
	if durationCapped {
		items, err = r.selector.SelectWithinDuration(ctx, p.Topic, p.MaxDurationSeconds, p.CooldownDays, nil)
	} else {
		items, err = r.selector.Select(ctx, p.Topic, p.Count, p.CooldownDays, nil)
	}
	if err != nil {
		return report, fmt.Errorf("select candidates: %w", err)
	}

	if len(items) == 0 {
		report.Empty = true
		log.Info("no eligible items, nothing to do")
		return report, nil
	}

	report.Selected = len(items)
	if durationCapped {
		report.Requested = len(items)
	}

	exclude := externalIDs(items)
	succeeded, failed := partition(r.fetcher.FetchAll(ctx, items))

	// Backfill: replace failed items with the next eligible candidates,
	// excluding everything already tried, until the desired count (or the
	// duration budget) is met or the topic runs dry.
	for len(failed) > 0 && report.BackfillRounds < MaxBackfillRounds && ctx.Err() == nil {
		var more []model.Item
		var selErr error

		if durationCapped {
			remaining := p.MaxDurationSeconds - plannedDuration(succeeded)
			if remaining <= 0 {
				break
			}
			more, selErr = r.selector.SelectWithinDuration(ctx, p.Topic, remaining, p.CooldownDays, exclude)
		} else {
			if len(succeeded) >= p.Count {
				break
			}
			more, selErr = r.selector.Select(ctx, p.Topic, p.Count-len(succeeded), p.CooldownDays, exclude)
		}
		if selErr != nil {
			return report, fmt.Errorf("backfill selection: %w", selErr)
		}
		if len(more) == 0 {
			break
		}

		report.BackfillRounds++
		report.Selected += len(more)
		exclude = append(exclude, externalIDs(more)...)

		log.Info("backfilling after fetch failures",
			zap.Int("round", report.BackfillRounds),
			zap.Int("replacements", len(more)))

		ok, bad := partition(r.fetcher.FetchAll(ctx, more))
		succeeded = append(succeeded, ok...)
		failed = append(failed, bad...)
	}

	report.Fetched = len(succeeded)
	for _, res := range failed {
		report.Failures = append(report.Failures, FetchFailure{
			ExternalID: res.Item.ExternalID,
			Title:      res.Item.Title,
			Kind:       res.Kind(),
			Attempts:   res.Attempts,
			Reason:     reasonOf(res.Err),
		})
	}

	if ctx.Err() != nil {
		// Cancelled runs never assemble and never write usage records;
		// partial downloads stay behind as cache for the next run.
		return report, ctx.Err()
	}

	if len(succeeded) == 0 {
		return report, fmt.Errorf("all %d fetches failed", len(items))
	}

	log.Info("fetch complete",
		zap.Int("succeeded", len(succeeded)),
		zap.Int("failed", len(failed)))

	paths := make([]string, len(succeeded))
	usedItems := make([]model.Item, len(succeeded))
	for i, res := range succeeded {
		paths[i] = res.Path
		usedItems[i] = res.Item
	}

	output, err := r.assembler.Assemble(ctx, p.Topic, paths)
	if err != nil {
		return report, fmt.Errorf("assemble: %w", err)
	}

	report.OutputPath = output
	report.Assembled = len(paths)
	report.DurationSeconds = r.artifactDuration(ctx, output, usedItems)

	if r.recorder != nil {
		if err := r.recorder.RecordAll(ctx, p.Topic, output, usedItems, r.now()); err != nil {
			report.BookkeepingFailed = true
			log.Warn("usage bookkeeping failed; future cooldowns will not see this run", zap.Error(err))
		}
	}

	if r.downloadDir != "" {
		removed, cleanErr := platform.CleanupDownloads(r.downloadDir, nil)
		switch {
		case cleanErr != nil:
			log.Warn("download cleanup failed; source files are accumulating",
				zap.String("dir", r.downloadDir), zap.Error(cleanErr))
		case removed > 0:
			log.Debug("cleaned up downloads", zap.Int("removed", removed))
		}
	}

	log.Info("run complete",
		zap.String("output", output),
		zap.Int("segments", report.Assembled))

	return report, nil
}

// artifactDuration probes the output file, falling back to the catalog's
// per-item durations when ffprobe is unavailable or fails.
func (r *Runner) artifactDuration(ctx context.Context, path string, items []model.Item) float64 {
	if r.prober != nil {
		if seconds, err := r.prober.ProbeDuration(ctx, path); err == nil && seconds > 0 {
			return seconds
		}
	}

	total := 0
	for _, item := range items {
		total += item.Duration
	}
	return float64(total)
}

// plannedDuration sums the catalog durations of fetched items, with the
// same default-when-missing assumption the selector uses.
func plannedDuration(results []fetch.Result) int {
	total := 0
	for _, res := range results {
		total += res.Item.EffectiveDuration()
	}
	return total
}

func partition(results []fetch.Result) (ok, failed []fetch.Result) {
	for _, res := range results {
		if res.OK() {
			ok = append(ok, res)
		} else {
			failed = append(failed, res)
		}
	}
	return ok, failed
}

func externalIDs(items []model.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ExternalID
	}
	return ids
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// generateRunID returns a time-ordered run identifier.
func generateRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return RunIDPrefix + uuid.NewString()
	}
	return RunIDPrefix + id.String()
}
