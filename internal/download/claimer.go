// Package download implements the download worker pool of §4.7: bounded
// workers that claim ZipActions off the tracker, rate and attempt their
// candidate sources in order, and stream the winning attempt to disk.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/phenodcc/crawler/internal/database"
)

// claimer wraps the take-download-job claim (§4.1, §4.7) with the same
// contention-backoff shape used for the tracker's other claim protocols:
// a handful of quick retries with jitter, since a lost race just means
// another worker got there first and the caller should move on fast.
type claimer struct {
	repo *database.Repository
	log  *slog.Logger
}

func newClaimer(repo *database.Repository, log *slog.Logger) *claimer {
	if log == nil {
		log = slog.Default()
	}
	return &claimer{repo: repo, log: log.With("component", "download-claimer")}
}

// claim attempts to take zipActionID, inside the immediate transaction
// the claim protocol requires. Returns false, nil when another worker
// won the race (not an error, just a missed claim).
func (c *claimer) claim(ctx context.Context, zipActionID int64) (bool, error) {
	var claimed bool

	err := retry.Do(
		func() error {
			return c.repo.WithImmediateTransaction(ctx, func(txRepo *database.Repository) error {
				ok, err := txRepo.TakeDownloadJob(ctx, zipActionID)
				if err != nil {
					return err
				}
				claimed = ok
				return nil
			})
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isContentionError),
		retry.OnRetry(func(n uint, err error) {
			jitter := time.Duration(rand.Int63n(int64(time.Second)))
			time.Sleep(jitter)
			c.log.DebugContext(ctx, "tracker contention, retrying claim",
				"attempt", n+1, "zip_action_id", zipActionID, "error", err)
		}),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim zip_action %d: %w", zipActionID, err)
	}
	return claimed, nil
}

func isContentionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database is busy") ||
		strings.Contains(s, "database table is locked")
}
