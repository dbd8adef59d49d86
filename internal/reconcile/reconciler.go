// Package reconcile keeps a user's local assessment history in step with the
// evaluations API.
//
// A refresh exposes the local cache right away, fetches the remote history,
// merges it in (remote wins on id collisions) and persists the result. Any
// failure on the remote path is soft: the local view stays as it was and an
// advisory is raised. Only local store failures are returned as errors.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bienestar/internal/crypto"
	"bienestar/internal/history"
	"bienestar/internal/logging"
	"bienestar/internal/metrics"
	"bienestar/internal/models"
	"bienestar/internal/normalize"
)

// DefaultTimeout bounds a single remote call
const DefaultTimeout = 20 * time.Second

// State of the reconciler
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateMerged     State = "merged"
	StateSoftFailed State = "soft_failed"

	// A newer refresh started before this one finished; its result was dropped.
	StateSuperseded State = "superseded"

	// The reconciler was closed while the refresh was in flight.
	StateDiscarded State = "discarded"
)

// Advisory is the user-facing notice raised by a soft failure
type Advisory string

const (
	AdvisoryNone       Advisory = ""
	AdvisorySyncFailed Advisory = "showing device-saved data, sync failed"
	AdvisoryValidation Advisory = "showing device-saved data, the server response could not be validated"
	AdvisorySaveFailed Advisory = "saved on this device, sync failed"
)

// Remote is the subset of the evaluations API client the reconciler needs
type Remote interface {
	FetchAssessments(ctx context.Context, userID string) (string, error)
	SaveAssessment(ctx context.Context, userID string, rec models.AssessmentRecord) (*models.APIResponse, error)
}

// Options configures a Reconciler
type Options struct {
	UserID  string
	Store   history.Store
	Remote  Remote
	Codec   *crypto.Codec
	Timeout time.Duration    // per remote call, DefaultTimeout when zero
	Now     func() time.Time // clock for locally created records
}

// Outcome is the terminal result of one Refresh
type Outcome struct {
	State      State
	Records    []models.AssessmentRecord // the view after the refresh
	Advisory   Advisory
	Err        error // cause of a soft failure
	Accepted   int   // remote records merged in
	Rejected   int   // remote records dropped by the normalizer
	Generation uint64
}

// SubmitResult reports a locally saved assessment and whether the API accepted it
type SubmitResult struct {
	Record   models.AssessmentRecord
	Synced   bool
	Advisory Advisory
	Err      error
}

// Reconciler owns one user's history view
type Reconciler struct {
	userID  string
	store   history.Store
	remote  Remote
	codec   *crypto.Codec
	timeout time.Duration
	now     func() time.Time

	// lifetime is cancelled by Close so in-flight fetches stop early
	lifetime context.Context
	cancel   context.CancelFunc

	// storeMu serializes read-modify-write of the slot. mu only guards the
	// in-memory view and is never held across store I/O.
	storeMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	state      State
	records    []models.AssessmentRecord
	advisory   Advisory
	closed     bool
}

// New creates a Reconciler
func New(opts Options) (*Reconciler, error) {
	if opts.UserID == "" {
		return nil, errors.New("reconcile: user id is required")
	}
	if opts.Store == nil || opts.Remote == nil || opts.Codec == nil {
		return nil, errors.New("reconcile: store, remote and codec are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		userID:   opts.UserID,
		store:    opts.Store,
		remote:   opts.Remote,
		codec:    opts.Codec,
		timeout:  opts.Timeout,
		now:      opts.Now,
		lifetime: lifetime,
		cancel:   cancel,
		state:    StateIdle,
		records:  []models.AssessmentRecord{},
	}, nil
}

// Refresh runs one reconciliation. The returned error is only set for local
// store failures; every remote-path failure becomes a SoftFailed outcome.
//
// Overlapping refreshes are resolved by generation: the latest invocation
// wins and older ones finish as Superseded without touching the view. A
// refresh that already started writing the slot is committed there, and the
// newer one merges on top of it.
func (r *Reconciler) Refresh(ctx context.Context) (*Outcome, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Outcome{State: StateDiscarded, Records: []models.AssessmentRecord{}}, nil
	}
	r.generation++
	gen := r.generation
	r.state = StateLoading
	r.mu.Unlock()

	logger := logging.WithSync(r.userID, gen)

	// Optimistic view from the device cache
	local, err := r.store.Load(ctx, r.userID)
	if err != nil {
		r.storeFailed(gen, err)
		return nil, err
	}
	r.mu.Lock()
	if r.current(gen) {
		r.records = local
	}
	r.mu.Unlock()
	logger.Debug("optimistic load", "records", len(local))

	batch, err := r.fetch(ctx)
	if err != nil {
		return r.softFail(gen, err), nil
	}

	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	if out, stale := r.checkStale(gen); stale {
		return out, nil
	}

	// Re-read so records submitted meanwhile are merged too
	local, err = r.store.Load(ctx, r.userID)
	if err != nil {
		r.storeFailed(gen, err)
		return nil, err
	}

	merged := []models.AssessmentRecord{}
	if !batch.Empty {
		merged = Merge(local, batch.Records)
	}

	if out, stale := r.checkStale(gen); stale {
		return out, nil
	}
	if err := r.store.Save(ctx, r.userID, merged); err != nil {
		r.storeFailed(gen, err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if out, stale := r.stale(gen); stale {
		return out, nil
	}

	r.records = merged
	r.advisory = AdvisoryNone
	r.state = StateMerged
	metrics.RecordSyncOutcome(string(StateMerged))

	logger.Info("history reconciled",
		"local", len(local),
		"remote", len(batch.Records),
		"rejected", len(batch.Rejected),
		"profile_entries_dropped", batch.Dropped,
		"merged", len(merged),
		"cleared", batch.Empty)

	return &Outcome{
		State:      StateMerged,
		Records:    clone(merged),
		Accepted:   len(batch.Records),
		Rejected:   len(batch.Rejected),
		Generation: gen,
	}, nil
}

// fetch calls the API under the per-call timeout and decodes the response
func (r *Reconciler) fetch(ctx context.Context) (*RemoteBatch, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(r.lifetime, cancel)
	defer stop()

	body, err := r.remote.FetchAssessments(fetchCtx, r.userID)
	if err != nil {
		return nil, err
	}
	batch, err := Decode(r.codec, body)
	if err != nil {
		return nil, err
	}

	if len(batch.Rejected) > 0 {
		logger := logging.WithUser(r.userID)
		for _, rej := range batch.Rejected {
			logger.Debug("dropped remote record", "reason", rej.Reason, "id", rej.ID, "detail", rej.Detail)
		}
	}
	return batch, nil
}

func (r *Reconciler) softFail(gen uint64, cause error) *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out, stale := r.stale(gen); stale {
		return out
	}

	advisory := AdvisorySyncFailed
	if errors.Is(cause, normalize.ErrBatchShape) {
		advisory = AdvisoryValidation
	}

	r.advisory = advisory
	r.state = StateSoftFailed
	metrics.RecordSyncOutcome(string(StateSoftFailed))
	logging.WithSync(r.userID, gen).Warn("sync failed, keeping local history", "error", cause)

	return &Outcome{
		State:      StateSoftFailed,
		Records:    clone(r.records),
		Advisory:   advisory,
		Err:        cause,
		Generation: gen,
	}
}

// storeFailed leaves the loading state after a fatal store error
func (r *Reconciler) storeFailed(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current(gen) {
		r.state = StateIdle
	}
	logging.WithSync(r.userID, gen).Error("history store failed", "error", err)
}

func (r *Reconciler) checkStale(gen uint64) (*Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale(gen)
}

// stale reports a result that must be dropped. Callers hold r.mu.
func (r *Reconciler) stale(gen uint64) (*Outcome, bool) {
	switch {
	case r.closed:
		metrics.RecordSyncOutcome(string(StateDiscarded))
		return &Outcome{State: StateDiscarded, Records: []models.AssessmentRecord{}, Generation: gen}, true
	case gen != r.generation:
		metrics.RecordSyncOutcome(string(StateSuperseded))
		logging.WithSync(r.userID, gen).Debug("refresh superseded", "current", r.generation)
		return &Outcome{State: StateSuperseded, Records: clone(r.records), Generation: gen}, true
	}
	return nil, false
}

func (r *Reconciler) current(gen uint64) bool {
	return !r.closed && gen == r.generation
}

// Submit stores a new assessment on the device first, then sends it to the API.
// A rejected or failed save is soft: the record stays in the local cache.
func (r *Reconciler) Submit(ctx context.Context, data models.AssessmentData) (*SubmitResult, error) {
	rec := models.NewLocalRecord(data, r.now())
	if err := normalize.Validate(&rec); err != nil {
		return nil, err
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.New("reconcile: closed")
	}

	r.storeMu.Lock()
	local, err := r.store.Load(ctx, r.userID)
	if err != nil {
		r.storeMu.Unlock()
		return nil, err
	}
	updated := append(clone(local), rec)
	SortNewestFirst(updated)
	if err := r.store.Save(ctx, r.userID, updated); err != nil {
		r.storeMu.Unlock()
		return nil, err
	}
	r.mu.Lock()
	if !r.closed {
		r.records = updated
	}
	r.mu.Unlock()
	r.storeMu.Unlock()

	logger := logging.WithUser(r.userID)

	saveCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(r.lifetime, cancel)
	defer stop()

	resp, err := r.remote.SaveAssessment(saveCtx, r.userID, rec)
	if err == nil && !resp.IsOK() {
		err = fmt.Errorf("%w: %s %q", ErrRemote, resp.Status, resp.Message)
	}

	result := &SubmitResult{Record: rec, Synced: err == nil}
	if err != nil {
		result.Advisory = AdvisorySaveFailed
		result.Err = err
		logger.Warn("assessment saved locally only", "id", rec.ID, "error", err)

		r.mu.Lock()
		if !r.closed {
			r.advisory = AdvisorySaveFailed
		}
		r.mu.Unlock()
	} else {
		logger.Info("assessment saved", "id", rec.ID)
	}
	return result, nil
}

// Records returns a copy of the current view
func (r *Reconciler) Records() []models.AssessmentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.records)
}

// Advisory returns the advisory of the last soft failure, if any
func (r *Reconciler) Advisory() Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advisory
}

// State returns the current state
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close cancels in-flight work. Results that arrive afterwards are discarded.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.state = StateDiscarded
	r.cancel()
}

func clone(records []models.AssessmentRecord) []models.AssessmentRecord {
	out := make([]models.AssessmentRecord, len(records))
	copy(out, records)
	return out
}
