package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/config"
	"github.com/tubestitch/tubestitch/internal/model"
)

// Timeout and URL constants
const (
	DefaultScanTimeout = 60 * time.Second

	PlaylistParam  = "list="
	ParamSeparator = "&"

	WatchURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// Catalog is the slice of the store the scanner writes to.
type Catalog interface {
	UpsertItem(ctx context.Context, item *model.Item) error
}

// Scanner refreshes the catalog from configured playlist sources. It is
// the catalog-building collaborator the compilation pipeline consumes:
// the pipeline itself never depends on it.
type Scanner struct {
	catalog Catalog
	logger  *zap.Logger
	timeout time.Duration
}

// NewScanner creates a scanner writing into the given catalog.
func NewScanner(catalog Catalog, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		catalog: catalog,
		logger:  logger,
		timeout: DefaultScanTimeout,
	}
}

// SetTimeout sets the per-playlist enumeration timeout.
func (s *Scanner) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// Sync enumerates every configured source, classifies each entry into a
// topic by title keywords, and upserts the items. Returns how many items
// were written. A source failing does not abort the others.
func (s *Scanner) Sync(ctx context.Context, sources []config.SourceConfig, topics map[string][]string) (int, error) {
	total := 0
	var lastErr error

	for _, source := range sources {
		count, err := s.syncSource(ctx, source, topics)
		total += count
		if err != nil {
			lastErr = err
			s.logger.Warn("source scan failed",
				zap.String("source", source.Name),
				zap.Error(err))
		}
	}

	if total == 0 && lastErr != nil {
		return 0, lastErr
	}
	return total, nil
}

func (s *Scanner) syncSource(ctx context.Context, source config.SourceConfig, topics map[string][]string) (int, error) {
	playlistID := extractPlaylistID(source.URL)
	if playlistID == "" {
		return 0, fmt.Errorf("no playlist ID in URL %s", source.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	d := ytdlp.New()
	entries, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return 0, fmt.Errorf("list playlist %s: %w", playlistID, err)
	}

	count := 0
	for _, entry := range entries {
		item := &model.Item{
			ExternalID: entry.VideoID,
			Title:      entry.Title,
			URL:        fmt.Sprintf(WatchURLTemplate, entry.VideoID),
			Channel:    source.Name,
			Topic:      ClassifyTopic(entry.Title, topics),
		}

		if err := s.catalog.UpsertItem(ctx, item); err != nil {
			s.logger.Warn("upsert failed",
				zap.String("item", entry.VideoID),
				zap.Error(err))
			continue
		}
		count++
	}

	s.logger.Info("scanned source",
		zap.String("source", source.Name),
		zap.Int("items", count))

	return count, nil
}

// ClassifyTopic assigns the first topic (in sorted name order, for
// determinism) whose keyword appears in the title, falling back to the
// unclassified topic.
func ClassifyTopic(title string, topics map[string][]string) string {
	lowered := strings.ToLower(title)

	for _, name := range sortedTopicNames(topics) {
		for _, keyword := range topics[name] {
			if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
				return name
			}
		}
	}

	return model.TopicUnclassified
}

// extractPlaylistID pulls the list parameter out of a playlist URL.
// A bare playlist ID passes through unchanged.
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		if strings.Contains(url, "/") || url == "" {
			return ""
		}
		return url
	}

	part := strings.SplitN(url, PlaylistParam, 2)[1]
	if idx := strings.Index(part, ParamSeparator); idx >= 0 {
		part = part[:idx]
	}
	return part
}

func sortedTopicNames(topics map[string][]string) []string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
