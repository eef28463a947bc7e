package xiaohongshu

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/thebtf/midas/internal/jobs"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// SyncConfig carries the per-run tunables pulled from the Config Handle
// at submission time, so a later config reload never changes the
// behavior of an in-flight sync.
type SyncConfig struct {
	CollectionID          string
	RequestedLimit        int
	RandomDelayMin        time.Duration
	RandomDelayMax        time.Duration
	CircuitBreakerFailures int
}

// NewCollectionSyncDriver returns a jobs.Driver closing over p and cfg,
// implementing spec §4.9's collection-sync algorithm: paginate until
// new_count reaches requested_limit or the collection is exhausted,
// skipping dedupe hits, jittering between fetches, and soft-stopping on
// consecutive-failure breaker trip.
func (p *Pipeline) NewCollectionSyncDriver(cfg SyncConfig) jobs.Driver {
	return func(ctx context.Context, progress chan<- jobs.ProgressEvent) (*models.SyncResult, error) {
		result := &models.SyncResult{RequestedLimit: cfg.RequestedLimit}
		consecutiveFailures := 0
		cursor := ""

		for result.NewCount < cfg.RequestedLimit {
			page, err := p.fetcher.FetchList(ctx, cfg.CollectionID, cursor, 20)
			if err != nil {
				return result, err
			}
			if len(page.Items) == 0 {
				break
			}

			for _, item := range page.Items {
				if result.NewCount >= cfg.RequestedLimit {
					break
				}
				result.FetchedCount++

				seen, err := p.dedupe.Contains(ctx, models.SourceXiaohongshu, item.NoteID)
				if err != nil {
					return result, err
				}
				if seen {
					result.SkippedCount++
					continue
				}

				if jitter := randomJitter(cfg.RandomDelayMin, cfg.RandomDelayMax); jitter > 0 {
					select {
					case <-time.After(jitter):
					case <-ctx.Done():
						return result, ctx.Err()
					}
				}

				artifact, err := p.summarizeNote(ctx, item.NoteID, "")
				if err != nil {
					result.FailedCount++
					// a client-side INVALID_INPUT failure (e.g. empty
					// content) does not poison the breaker; every
					// other failure kind counts toward it.
					if apierr.KindOf(err) != apierr.InvalidInput {
						consecutiveFailures++
					}
					if cfg.CircuitBreakerFailures > 0 && consecutiveFailures >= cfg.CircuitBreakerFailures {
						result.CircuitOpened = true
						return result, nil
					}
					continue
				}

				consecutiveFailures = 0
				result.NewCount++
				result.Summaries = append(result.Summaries, *artifact)

				progress <- jobs.ProgressEvent{
					Current: result.NewCount,
					Total:   cfg.RequestedLimit,
					Message: "synced " + artifact.Title,
				}
			}

			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}

		return result, nil
	}
}

func randomJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rand.Int64N(int64(span)))
}
