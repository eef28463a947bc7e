package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

func TestSubmitRunsToSuccess(t *testing.T) {
	m := NewManager(0)

	jobID, err := m.Submit(context.Background(), "adhoc", 5, func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error) {
		progress <- ProgressEvent{Current: 1, Total: 5}
		return &models.SyncResult{RequestedLimit: 5, NewCount: 1, FetchedCount: 1}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job := m.Get(jobID)
		return job != nil && job.Status == models.JobSucceeded
	}, time.Second, 5*time.Millisecond)

	job := m.Get(jobID)
	require.Equal(t, 1, job.Result.NewCount)
}

func TestSubmitRunsToFailure(t *testing.T) {
	m := NewManager(0)

	jobID, err := m.Submit(context.Background(), "adhoc", 5, func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error) {
		return nil, errTest
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job := m.Get(jobID)
		return job != nil && job.Status == models.JobFailed
	}, time.Second, 5*time.Millisecond)
}

func TestXHSCollectionSyncIsSerializedAndCoolsDown(t *testing.T) {
	m := NewManager(0)
	m.SetCooldown(50 * time.Millisecond)

	release := make(chan struct{})
	_, err := m.Submit(context.Background(), models.JobKindXHSCollectionSync, 1,
		func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error) {
			<-release
			return &models.SyncResult{}, nil
		})
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), models.JobKindXHSCollectionSync, 1,
		func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error) {
			return &models.SyncResult{}, nil
		})
	require.Error(t, err, "a second concurrent xhs_collection_sync must be rejected")

	var tagged *apierr.Error
	require.ErrorAs(t, err, &tagged)
	require.Equal(t, apierr.RateLimited, tagged.Kind)
	require.Greater(t, tagged.RetryAfterSeconds, 0, "remaining seconds must be positive while the first sync still holds the slot")
	data, ok := tagged.Data.(map[string]any)
	require.True(t, ok, "cooldown rejection must carry a structured data payload")
	require.Greater(t, data["remaining_seconds"], 0)
	require.NotZero(t, data["next_allowed_at_epoch"])

	close(release)
}

type broadcastRecorder struct {
	mu     sync.Mutex
	events []JobEvent
}

func (r *broadcastRecorder) Broadcast(data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := data.(JobEvent); ok {
		r.events = append(r.events, ev)
	}
}

func (r *broadcastRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSetBroadcasterReceivesProgressAndTerminalEvents(t *testing.T) {
	m := NewManager(0)
	rec := &broadcastRecorder{}
	m.SetBroadcaster(rec)

	jobID, err := m.Submit(context.Background(), "adhoc", 5, func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error) {
		progress <- ProgressEvent{Current: 1, Total: 5, Message: "first"}
		progress <- ProgressEvent{Current: 2, Total: 5, Message: "second"}
		return &models.SyncResult{RequestedLimit: 5, NewCount: 2, FetchedCount: 2}, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job := m.Get(jobID)
		return job != nil && job.Status == models.JobSucceeded
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return rec.count() >= 4 // running + 2 progress events + succeeded
	}, time.Second, 5*time.Millisecond)
}

type testErr struct{}

func (testErr) Error() string { return "boom" }

var errTest = testErr{}
