package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubestitch/tubestitch/internal/model"
)

// fakeFetcher scripts per-item outcomes: each call pops the next entry
// from the item's queue, and the last entry repeats once the queue runs
// dry.
type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string][]error
	attempts map[string][]AttemptOptions
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		outcomes: make(map[string][]error),
		attempts: make(map[string][]AttemptOptions),
	}
}

func (f *fakeFetcher) script(externalID string, outcomes ...error) {
	f.outcomes[externalID] = outcomes
}

func (f *fakeFetcher) Fetch(ctx context.Context, item model.Item, opts AttemptOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[item.ExternalID] = append(f.attempts[item.ExternalID], opts)

	queue := f.outcomes[item.ExternalID]
	call := len(f.attempts[item.ExternalID]) - 1
	if call >= len(queue) {
		call = len(queue) - 1
	}

	var outcome error
	if call >= 0 {
		outcome = queue[call]
	}
	if outcome != nil {
		return "", outcome
	}
	return "/downloads/" + item.ExternalID + ".mp4", nil
}

func (f *fakeFetcher) callCount(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts[externalID])
}

func testConfig() Config {
	return Config{
		MaxParallel:    2,
		RetryAttempts:  2,
		PerItemTimeout: time.Second,
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		Format:         "primary",
		FallbackFormat: "best",
	}
}

func candidateItems(ids ...string) []model.Item {
	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, model.Item{ExternalID: id})
	}
	return items
}

func TestFetchAllPreservesCandidateOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("a", nil)
	fetcher.script("b", nil)
	fetcher.script("c", nil)

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("a", "b", "c"))

	require.Len(t, results, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, results[i].Item.ExternalID)
		assert.True(t, results[i].OK())
		assert.Equal(t, "/downloads/"+want+".mp4", results[i].Path)
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("good1", nil)
	fetcher.script("bad01", NewError(FailureNetwork, errors.New("connection reset")))
	fetcher.script("good2", nil)

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("good1", "bad01", "good2"))

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, FailureNetwork, results[1].Kind())
	assert.True(t, results[2].OK())
}

func TestFetchAllRetriesUntilSuccess(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("flaky",
		NewError(FailureNetwork, errors.New("timeout")),
		NewError(FailureNetwork, errors.New("timeout")),
		nil)

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("flaky"))

	require.True(t, results[0].OK())
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestFetchAllExhaustsRetryBudget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("dead1", NewError(FailureNetwork, errors.New("unreachable")))

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("dead1"))

	assert.False(t, results[0].OK())
	// 1 initial + 2 retries
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, 3, fetcher.callCount("dead1"))
}

func TestFetchAllNonRetryableStopsEarly(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("gone1", NewError(FailureNotFound, errors.New("video unavailable")))

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("gone1"))

	assert.False(t, results[0].OK())
	assert.Equal(t, FailureNotFound, results[0].Kind())
	assert.Equal(t, 1, results[0].Attempts)
}

func TestFetchAllRotatesIdentity(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("flaky",
		NewError(FailureBlocked, errors.New("429")),
		NewError(FailureBlocked, errors.New("429")),
		nil)

	cfg := testConfig()
	cfg.UserAgents = []string{"ua-one", "ua-two"}
	coord := NewCoordinator(fetcher, cfg, nil)
	coord.FetchAll(context.Background(), candidateItems("flaky"))

	attempts := fetcher.attempts["flaky"]
	require.Len(t, attempts, 3)
	assert.Equal(t, "ua-one", attempts[0].UserAgent)
	assert.Equal(t, "ua-two", attempts[1].UserAgent)
	assert.Equal(t, "ua-one", attempts[2].UserAgent)
}

func TestFetchAllFallbackFormatAfterInvalid(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.script("fmt01",
		NewError(FailureInvalidFormat, errors.New("error parsing format")),
		nil)

	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(context.Background(), candidateItems("fmt01"))

	require.True(t, results[0].OK())
	attempts := fetcher.attempts["fmt01"]
	require.Len(t, attempts, 2)
	assert.Equal(t, "primary", attempts[0].Format)
	assert.Equal(t, "best", attempts[1].Format)
}

func TestFetchAllCancellationMarksRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newFakeFetcher()
	coord := NewCoordinator(fetcher, testConfig(), nil)
	results := coord.FetchAll(ctx, candidateItems("a", "b", "c"))

	require.Len(t, results, 3)
	for _, result := range results {
		assert.False(t, result.OK())
		assert.Equal(t, FailureCancelled, result.Kind())
	}
}

func TestFetchAllEmptyInput(t *testing.T) {
	coord := NewCoordinator(newFakeFetcher(), testConfig(), nil)
	results := coord.FetchAll(context.Background(), nil)
	assert.Empty(t, results)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	coord := NewCoordinator(newFakeFetcher(), cfg, nil)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{5, 5 * time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("attempt_%d", tc.attempt), func(t *testing.T) {
			assert.Equal(t, tc.want, coord.backoffDelay(tc.attempt))
		})
	}
}

func TestFailureKindRetryable(t *testing.T) {
	assert.True(t, FailureNetwork.Retryable())
	assert.True(t, FailureBlocked.Retryable())
	assert.True(t, FailureTimeout.Retryable())
	assert.True(t, FailureInvalidFormat.Retryable())
	assert.False(t, FailureNotFound.Retryable())
	assert.False(t, FailureCancelled.Retryable())
}

func TestKindOfUnwrapsNesting(t *testing.T) {
	inner := NewError(FailureBlocked, errors.New("403"))
	wrapped := fmt.Errorf("download item: %w", inner)
	assert.Equal(t, FailureBlocked, KindOf(wrapped))

	assert.Equal(t, FailureUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, FailureKind(""), KindOf(nil))
}
