package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionScheduler periodically prunes old backup snapshots, adapted
// from the teacher's internal/maintenance/service.go ticker-loop shape
// (gorm-store-backed maintenance service generalized to this store's
// backup directory).
type RetentionScheduler struct {
	store    *Store
	interval time.Duration
	keep     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRetentionScheduler builds a scheduler that runs every interval and
// deletes backup snapshots older than keep.
func NewRetentionScheduler(s *Store, interval, keep time.Duration) *RetentionScheduler {
	return &RetentionScheduler{store: s, interval: interval, keep: keep}
}

// Start begins the background ticker loop. Safe to call once; a second
// call is a no-op until Stop is called.
func (r *RetentionScheduler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(runCtx)
}

func (r *RetentionScheduler) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := r.store.PruneBackups(r.keep)
			if err != nil {
				log.Warn().Err(err).Msg("backup retention sweep failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int("deleted", deleted).Msg("pruned old backup snapshots")
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (r *RetentionScheduler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}
