package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/fetch"
	"github.com/tubestitch/tubestitch/internal/model"
)

// URL templates
const (
	WatchURLTemplate = "https://www.youtube.com/watch?v=%s"

	// Output template keeps the external ID in the filename so cache
	// lookups can find the file on later runs
	OutputTemplate = "%(title)s_%(id)s.%(ext)s"
)

// YTDLPFetcher implements the fetch capability on top of yt-dlp. Each
// attempt gets the coordinator's per-attempt configuration: the format
// specifier is passed through untouched and the user agent identifies
// the request.
type YTDLPFetcher struct {
	downloadDir string
	logger      *zap.Logger
}

// NewYTDLPFetcher creates a fetcher downloading into downloadDir.
func NewYTDLPFetcher(downloadDir string, logger *zap.Logger) *YTDLPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YTDLPFetcher{downloadDir: downloadDir, logger: logger}
}

var _ fetch.Fetcher = (*YTDLPFetcher)(nil)

// Fetch downloads one item and returns the local file path. A file from
// an earlier run whose name embeds the item's external ID is reused
// without hitting the network.
func (f *YTDLPFetcher) Fetch(ctx context.Context, item model.Item, opts fetch.AttemptOptions) (string, error) {
	if err := EnsureDir(f.downloadDir); err != nil {
		return "", fetch.NewError(fetch.FailureUnknown, err)
	}

	if path, ok := CachedDownload(f.downloadDir, item.ExternalID); ok {
		f.logger.Debug("using cached download",
			zap.String("item", item.ExternalID),
			zap.String("path", path))
		return path, nil
	}

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Output(f.downloadDir + "/" + OutputTemplate)

	if opts.Format != "" {
		dl = dl.Format(opts.Format)
	}
	if opts.UserAgent != "" {
		dl = dl.UserAgent(opts.UserAgent)
	}

	result, err := dl.Run(ctx, f.itemURL(item))
	if err != nil {
		return "", classifyYTDLPError(err)
	}

	if path := extractedPath(result); path != "" {
		return path, nil
	}

	// yt-dlp finished but reported no filename; fall back to the cache
	// scan, which finds the file by external ID.
	if path, ok := CachedDownload(f.downloadDir, item.ExternalID); ok {
		return path, nil
	}

	return "", fetch.NewError(fetch.FailureUnknown,
		fmt.Errorf("download finished but no file found for %s", item.ExternalID))
}

func (f *YTDLPFetcher) itemURL(item model.Item) string {
	if item.URL != "" {
		return item.URL
	}
	return fmt.Sprintf(WatchURLTemplate, item.ExternalID)
}

func extractedPath(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename != nil {
		return *info[0].Filename
	}
	return ""
}

// classifyYTDLPError maps yt-dlp failure text onto the typed failure
// taxonomy the coordinator's retry policy keys on.
func classifyYTDLPError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.NewError(fetch.FailureTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fetch.NewError(fetch.FailureCancelled, err)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "private video"),
		strings.Contains(msg, "404"),
		strings.Contains(msg, "not found"):
		return fetch.NewError(fetch.FailureNotFound, err)

	case strings.Contains(msg, "sign in to confirm"),
		strings.Contains(msg, "bot"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "too many requests"):
		return fetch.NewError(fetch.FailureBlocked, err)

	case strings.Contains(msg, "requested format is not available"),
		strings.Contains(msg, "no video formats"):
		return fetch.NewError(fetch.FailureFormatUnavailable, err)

	case strings.Contains(msg, "invalid format"),
		strings.Contains(msg, "error parsing format"):
		return fetch.NewError(fetch.FailureInvalidFormat, err)

	default:
		return fetch.NewError(fetch.FailureNetwork, err)
	}
}
