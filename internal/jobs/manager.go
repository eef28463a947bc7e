// Package jobs implements the Job Manager (C10): a map of in-flight and
// recently-terminal jobs guarded by a single mutex, generalized from the
// teacher's internal/worker/session.Manager map+mutex+cleanup-loop shape.
package jobs

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// DefaultCapacity is the minimum LRU size for retained terminal jobs per
// spec §9's open question ("256 is specified as a minimum").
const DefaultCapacity = 256

// ProgressEvent is one update a running worker pushes toward the
// manager; the manager drains it into the job record under its lock.
type ProgressEvent struct {
	Current int
	Total   int
	Message string
}

// Driver is the function a job's worker runs. It receives a bounded
// progress channel to report through and must return the terminal
// SyncResult or an error.
type Driver func(ctx context.Context, progress chan<- ProgressEvent) (*models.SyncResult, error)

// Broadcaster is the narrow seam a live-updates transport (e.g. SSE)
// implements to receive every job snapshot the Manager drains, so readers
// watching /api/events observe the same progress polling GET
// /sync/jobs/{id} would eventually show. Optional: a nil Broadcaster
// (the zero value of Manager) means progress is only ever visible by
// polling Get.
type Broadcaster interface {
	Broadcast(data any)
}

// JobEvent is the payload pushed to a Broadcaster on every progress
// update and terminal transition.
type JobEvent struct {
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Current int              `json:"current"`
	Total   int              `json:"total"`
	Message string           `json:"message,omitempty"`
}

// Manager owns job lifetimes end to end: submission, progress draining,
// snapshot reads, and bounded retention of terminal jobs.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	lru  *list.List // of job_id strings, most-recently-touched at Back
	elem map[string]*list.Element

	capacity int

	// broadcaster receives a JobEvent on every progress update and
	// terminal transition, if set via SetBroadcaster.
	broadcaster Broadcaster

	// syncLock is the non-reentrant semaphore of 1 enforcing "at most one
	// running xhs_collection_sync job", the teacher's BulkOperationLimiter
	// repurposed as a hold-until-done lock instead of a cooldown timer.
	syncLock chan struct{}
	// cooldown is the separate BulkOperationLimiter-style timer enforcing
	// min_live_sync_interval_seconds between the *start* of two syncs.
	cooldown *Cooldown

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager builds a Manager with the given terminal-job retention
// capacity (DefaultCapacity if capacity <= 0).
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:       make(map[string]*models.Job),
		lru:        list.New(),
		elem:       make(map[string]*list.Element),
		capacity:   capacity,
		syncLock:   make(chan struct{}, 1),
		cooldown:   NewCooldown(0),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// SetCooldown replaces the manager's cooldown policy; called once at
// startup with the configured min_live_sync_interval_seconds.
func (m *Manager) SetCooldown(interval time.Duration) {
	m.cooldown.SetInterval(interval)
}

// SetBroadcaster wires b to receive a JobEvent on every progress update
// and terminal transition. Called once at startup; nil disables
// broadcasting (the manager still drains progress into the job record
// for pollers regardless).
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

func (m *Manager) broadcast(job *models.Job) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(JobEvent{
		JobID:   job.JobID,
		Status:  job.Status,
		Current: job.Current,
		Total:   job.Total,
		Message: job.Message,
	})
}

// Submit creates a pending job, spawns its worker, and returns the
// job_id immediately. For kind == xhs_collection_sync, Submit fails
// synchronously with RATE_LIMITED (carrying the structured cooldown
// payload) if another sync is already running or the cooldown has not
// elapsed, per spec §4.10's concurrency rule.
func (m *Manager) Submit(ctx context.Context, kind models.JobKind, requestedLimit int, driver Driver) (string, error) {
	if kind == models.JobKindXHSCollectionSync {
		if err := m.acquireSyncSlot(); err != nil {
			return "", err
		}
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	job := &models.Job{
		JobID:          jobID,
		Kind:           kind,
		RequestedLimit: requestedLimit,
		Status:         models.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	m.jobs[jobID] = job
	m.touch(jobID)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(jobID, kind, driver)

	return jobID, nil
}

func (m *Manager) acquireSyncSlot() error {
	select {
	case m.syncLock <- struct{}{}:
	default:
		return m.cooldownRejection("a collection sync is already running")
	}
	if remaining := m.cooldown.Remaining(); remaining > 0 {
		<-m.syncLock
		return m.cooldownRejection("collection sync cooldown in effect")
	}
	m.cooldown.MarkStarted()
	return nil
}

// cooldownRejection builds the RATE_LIMITED error spec §4.9/§6 expect: the
// remaining seconds and next-allowed epoch carried in the HTTP envelope's
// data field, not just the Retry-After header.
func (m *Manager) cooldownRejection(message string) error {
	remaining := m.cooldown.Remaining()
	remainingSeconds := int(math.Ceil(remaining.Seconds()))
	return apierr.RateLimit(message, remainingSeconds).WithData(map[string]any{
		"remaining_seconds":     remainingSeconds,
		"next_allowed_at_epoch": m.cooldown.NextAllowedAt(),
	})
}

func (m *Manager) run(jobID string, kind models.JobKind, driver Driver) {
	defer m.wg.Done()
	if kind == models.JobKindXHSCollectionSync {
		defer func() { <-m.syncLock }()
	}

	m.setStatus(jobID, models.JobRunning, "")

	progress := make(chan ProgressEvent, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			m.applyProgress(jobID, ev)
		}
	}()

	result, err := driver(m.rootCtx, progress)
	close(progress)
	<-done

	if err != nil {
		log.Error().Str("job_id", jobID).Err(err).Msg("job failed")
		m.finish(jobID, models.JobFailed, nil, err)
		return
	}
	m.finish(jobID, models.JobSucceeded, result, nil)
}

func (m *Manager) setStatus(jobID string, status models.JobStatus, message string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status == models.JobFailed || job.Status == models.JobSucceeded {
		m.mu.Unlock()
		return
	}
	job.Status = status
	if message != "" {
		job.Message = message
	}
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.Clone()
	m.mu.Unlock()

	m.broadcast(snapshot)
}

func (m *Manager) applyProgress(jobID string, ev ProgressEvent) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if ev.Current > job.Current {
		job.Current = ev.Current
	}
	if ev.Total > 0 {
		job.Total = ev.Total
	}
	if ev.Message != "" {
		job.Message = ev.Message
	}
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.Clone()
	m.mu.Unlock()

	m.broadcast(snapshot)
}

func (m *Manager) finish(jobID string, status models.JobStatus, result *models.SyncResult, err error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status == models.JobFailed || job.Status == models.JobSucceeded {
		m.mu.Unlock()
		return
	}
	job.Status = status
	job.Result = result
	if err != nil {
		job.Error = &models.JobError{Code: string(apierr.KindOf(err)), Message: err.Error()}
	}
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.Clone()
	m.evictIfNeeded()
	m.mu.Unlock()

	m.broadcast(snapshot)
}

// CooldownStatus reports the current xhs_collection_sync cooldown state
// for GET /api/xiaohongshu/sync/cooldown.
type CooldownStatus struct {
	Allowed          bool
	RemainingSeconds int
	NextAllowedAt    int64
}

// Cooldown returns the current cooldown status without attempting to
// acquire the sync slot.
func (m *Manager) Cooldown() CooldownStatus {
	remaining := m.cooldown.Remaining()
	return CooldownStatus{
		Allowed:          remaining == 0,
		RemainingSeconds: int(remaining.Seconds()),
		NextAllowedAt:    m.cooldown.NextAllowedAt(),
	}
}

// Get returns a deep-copied snapshot of job_id, or nil if unknown.
func (m *Manager) Get(jobID string) *models.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID].Clone()
}

// touch marks job_id as most-recently-active in the LRU; must be called
// with m.mu held.
func (m *Manager) touch(jobID string) {
	if el, ok := m.elem[jobID]; ok {
		m.lru.MoveToBack(el)
		return
	}
	m.elem[jobID] = m.lru.PushBack(jobID)
}

// evictIfNeeded drops the oldest terminal jobs once the retained count
// exceeds capacity; must be called with m.mu held.
func (m *Manager) evictIfNeeded() {
	for m.lru.Len() > m.capacity {
		front := m.lru.Front()
		jobID := front.Value.(string)
		job := m.jobs[jobID]
		if job != nil && (job.Status == models.JobPending || job.Status == models.JobRunning) {
			// never evict a live job; move it to the back and stop, the
			// next successful eviction pass will reconsider the new front
			m.lru.MoveToBack(front)
			return
		}
		m.lru.Remove(front)
		delete(m.elem, jobID)
		delete(m.jobs, jobID)
	}
}

// ShutdownAll marks every pending/running job failed with a shutdown
// reason and waits for their worker goroutines to observe cancellation.
// Durable state (Dedupe/Note Store) stays consistent because each unit
// of work commits atomically before progress advances, per spec §5.
func (m *Manager) ShutdownAll() {
	m.rootCancel()
	m.mu.Lock()
	for _, job := range m.jobs {
		if job.Status == models.JobPending || job.Status == models.JobRunning {
			job.Status = models.JobFailed
			job.Error = &models.JobError{Code: string(apierr.Internal), Message: "process shutting down"}
			job.UpdatedAt = time.Now().UTC()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}
