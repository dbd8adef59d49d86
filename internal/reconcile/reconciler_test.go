package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bienestar/internal/crypto"
	"bienestar/internal/history"
	"bienestar/internal/models"

	"github.com/google/go-cmp/cmp"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memStore struct {
	mu      sync.Mutex
	slots   map[string][]models.AssessmentRecord
	saves   int
	loadErr error
	saveErr error
}

func newMemStore(userID string, records ...models.AssessmentRecord) *memStore {
	s := &memStore{slots: map[string][]models.AssessmentRecord{}}
	if records != nil {
		s.slots[userID] = records
	}
	return s
}

func (s *memStore) Load(ctx context.Context, userID string) ([]models.AssessmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return clone(s.slots[userID]), nil
}

func (s *memStore) Save(ctx context.Context, userID string, records []models.AssessmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.slots[userID] = clone(records)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) slot(userID string) []models.AssessmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.slots[userID])
}

type fakeRemote struct {
	mu       sync.Mutex
	calls    int
	fetch    func(ctx context.Context, call int) (string, error)
	saved    []models.AssessmentRecord
	saveResp *models.APIResponse
	saveErr  error
}

func (f *fakeRemote) FetchAssessments(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fetch(ctx, call)
}

func (f *fakeRemote) SaveAssessment(ctx context.Context, userID string, rec models.AssessmentRecord) (*models.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if f.saveResp != nil {
		return f.saveResp, nil
	}
	return &models.APIResponse{Status: models.StatusOK}, nil
}

func body(s string) func(context.Context, int) (string, error) {
	return func(context.Context, int) (string, error) { return s, nil }
}

func newCodec(t *testing.T) *crypto.Codec {
	t.Helper()
	codec, err := crypto.NewCodec(crypto.CodecConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	return codec
}

func newReconciler(t *testing.T, store history.Store, remote Remote) *Reconciler {
	t.Helper()
	r, err := New(Options{
		UserID:  "u1",
		Store:   store,
		Remote:  remote,
		Codec:   newCodec(t),
		Timeout: 200 * time.Millisecond,
		Now:     func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func record(id, ts, feedback string) models.AssessmentRecord {
	return models.AssessmentRecord{
		ID:        id,
		Timestamp: ts,
		Data: models.AssessmentData{
			EmotionalProfile: map[string]float64{"calma": 3},
			PriorityAreas:    []string{},
			Feedback:         feedback,
		},
	}
}

func ids(records []models.AssessmentRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestMergeProperties(t *testing.T) {
	local := []models.AssessmentRecord{
		record("a", "2024-01-03T00:00:00.000Z", "local a"),
		record("local-only", "2024-01-02T00:00:00.000Z", "unsynced"),
	}
	remote := []models.AssessmentRecord{
		record("a", "2024-01-03T00:00:00.000Z", "remote a"),
		record("b", "2024-01-05T00:00:00.000Z", "remote b"),
		record("c", "2024-01-01T00:00:00.000Z", "remote c"),
	}

	merged := Merge(local, remote)

	if diff := cmp.Diff([]string{"b", "a", "local-only", "c"}, ids(merged)); diff != "" {
		t.Errorf("Merged order mismatch (-want +got):\n%s", diff)
	}

	t.Run("conflict precedence", func(t *testing.T) {
		if merged[1].Data.Feedback != "remote a" {
			t.Errorf("Expected remote record to win, got feedback %q", merged[1].Data.Feedback)
		}
	})

	t.Run("unsynced preservation", func(t *testing.T) {
		if diff := cmp.Diff(local[1], merged[2]); diff != "" {
			t.Errorf("Local-only record changed (-want +got):\n%s", diff)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		again := Merge(merged, remote)
		if diff := cmp.Diff(merged, again); diff != "" {
			t.Errorf("Second merge drifted (-first +second):\n%s", diff)
		}
	})
}

func TestMergeStableTies(t *testing.T) {
	ts := "2024-01-01T00:00:00.000Z"
	merged := Merge(
		[]models.AssessmentRecord{record("x", ts, "x"), record("y", ts, "y")},
		[]models.AssessmentRecord{record("z", ts, "z")},
	)
	if diff := cmp.Diff([]string{"x", "y", "z"}, ids(merged)); diff != "" {
		t.Errorf("Ties should keep insertion order (-want +got):\n%s", diff)
	}

	if got := Merge(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil merge, got %#v", got)
	}
}

func TestRefreshMergesRemote(t *testing.T) {
	local := record("1", "2024-01-01T00:00:00.000Z", "local")
	store := newMemStore("u1", local)
	remote := &fakeRemote{fetch: body(`{"status":"OK","message":"","data":[{"id":"2","timestamp":"2024-02-01 10:00:00","emotionalProfile":{"calma":4},"feedback":"ok","priorityAreas":null}]}`)}

	r := newReconciler(t, store, remote)
	out, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if out.State != StateMerged {
		t.Fatalf("Expected merged, got %s (%v)", out.State, out.Err)
	}

	want := []models.AssessmentRecord{
		{
			ID:        "2",
			Timestamp: "2024-02-01T10:00:00.000Z",
			Data: models.AssessmentData{
				EmotionalProfile: map[string]float64{"calma": 4},
				PriorityAreas:    []string{},
				Feedback:         "ok",
			},
		},
		local,
	}
	if diff := cmp.Diff(want, out.Records); diff != "" {
		t.Errorf("Merged records mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, store.slot("u1")); diff != "" {
		t.Errorf("Persisted slot mismatch (-want +got):\n%s", diff)
	}
	if _, err := time.Parse(time.RFC3339, out.Records[0].Timestamp); err != nil {
		t.Errorf("Timestamp not ISO-8601: %v", err)
	}
	if r.Advisory() != AdvisoryNone || r.State() != StateMerged {
		t.Errorf("Unexpected advisory %q / state %s", r.Advisory(), r.State())
	}
}

func TestRefreshNetworkFailure(t *testing.T) {
	local := []models.AssessmentRecord{record("1", "2024-01-01T00:00:00.000Z", "local")}
	store := newMemStore("u1", local...)
	remote := &fakeRemote{fetch: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	r := newReconciler(t, store, remote)
	out, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Soft failures must not return an error: %v", err)
	}

	if out.State != StateSoftFailed {
		t.Fatalf("Expected soft failure, got %s", out.State)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", out.Err)
	}
	if out.Advisory != AdvisorySyncFailed {
		t.Errorf("Expected sync-failed advisory, got %q", out.Advisory)
	}
	if diff := cmp.Diff(local, out.Records); diff != "" {
		t.Errorf("Local view changed on failure (-want +got):\n%s", diff)
	}
	if store.saves != 0 {
		t.Errorf("Store must not be written on failure, got %d saves", store.saves)
	}
}

func TestRefreshExplicitEmpty(t *testing.T) {
	store := newMemStore("u1", record("1", "2024-01-01T00:00:00.000Z", "local"))
	remote := &fakeRemote{fetch: body(`{"status":"NOOK","message":"No hay evaluaciones"}`)}

	r := newReconciler(t, store, remote)
	out, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if out.State != StateMerged {
		t.Fatalf("Expected merged, got %s (%v)", out.State, out.Err)
	}
	if len(out.Records) != 0 {
		t.Errorf("Expected cleared view, got %v", ids(out.Records))
	}
	slot := store.slot("u1")
	if slot == nil || len(slot) != 0 {
		t.Errorf("Expected [] persisted, got %#v", slot)
	}
}

func TestRefreshResponseShapes(t *testing.T) {
	codec := newCodec(t)
	items := `[{"id":7,"timestamp":"2024-05-01T08:00:00Z","data":{"emotionalProfile":[["x","ansiedad","3"]],"feedback":"ok"}}]`
	env := codec.Encrypt(items)
	encrypted, _ := json.Marshal(map[string]any{"status": "OK", "message": "", "data": env.String()})

	tests := []struct {
		name string
		body string
	}{
		{"plain array data", `{"status":"OK","data":` + items + `}`},
		{"encrypted string data", string(encrypted)},
		{"encrypted object data", `{"status":"OK","data":{"iv":"` + env.IV + `","data":"` + env.Data + `"}}`},
		{"quoted artifact", fmt.Sprintf("string(%d) %q", len(encrypted), string(encrypted))},
		{"embedded in notices", "<b>Notice</b>: Undefined index\n" + string(encrypted) + "\n<!-- 0.02s -->"},
		{"bare array", items},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore("u1")
			r := newReconciler(t, store, &fakeRemote{fetch: body(tt.body)})

			out, err := r.Refresh(context.Background())
			if err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}
			if out.State != StateMerged {
				t.Fatalf("Expected merged, got %s (%v)", out.State, out.Err)
			}
			if len(out.Records) != 1 || out.Records[0].ID != "7" {
				t.Fatalf("Expected record 7, got %v", ids(out.Records))
			}
			if got := out.Records[0].Data.EmotionalProfile; !cmp.Equal(got, map[string]float64{"ansiedad": 3}) {
				t.Errorf("Unexpected profile %v", got)
			}
		})
	}
}

func TestRefreshSoftFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		advisory Advisory
	}{
		{"unwrap failure", "<html>502 Bad Gateway</html>", AdvisorySyncFailed},
		{"decrypt failure", `{"status":"OK","data":"{\"iv\":\"AAAAAAAAAAAAAAAAAAAAAA==\",\"data\":\"Zm9v\"}"}`, AdvisorySyncFailed},
		{"remote error", `{"status":"NOOK","message":"apikey invalida"}`, AdvisorySyncFailed},
		{"not a record list", `{"status":"OK","data":[1,2,3]}`, AdvisoryValidation},
		{"data is a number", `{"status":"OK","data":42}`, AdvisoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := []models.AssessmentRecord{record("1", "2024-01-01T00:00:00.000Z", "local")}
			store := newMemStore("u1", local...)
			r := newReconciler(t, store, &fakeRemote{fetch: body(tt.body)})

			out, err := r.Refresh(context.Background())
			if err != nil {
				t.Fatalf("Soft failures must not return an error: %v", err)
			}
			if out.State != StateSoftFailed {
				t.Fatalf("Expected soft failure, got %s", out.State)
			}
			if out.Advisory != tt.advisory {
				t.Errorf("Expected advisory %q, got %q", tt.advisory, out.Advisory)
			}
			if diff := cmp.Diff(local, r.Records()); diff != "" {
				t.Errorf("Local view changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefreshDropsBadRecords(t *testing.T) {
	store := newMemStore("u1")
	remote := &fakeRemote{fetch: body(`{"status":"OK","data":[
		{"id":"ok","timestamp":"2024-01-01","emotionalProfile":{"calma":2},"feedback":"fine"},
		{"id":"bad","timestamp":"2024-01-01","emotionalProfile":[["calma",9]],"feedback":"fine"},
		{"timestamp":"2024-01-01","feedback":"no id"}
	]}`)}

	r := newReconciler(t, store, remote)
	out, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if out.State != StateMerged || out.Accepted != 1 || out.Rejected != 2 {
		t.Fatalf("Expected 1 accepted and 2 rejected, got %+v", out)
	}
	if out.Advisory != AdvisoryNone {
		t.Errorf("Per-record drops must not raise an advisory, got %q", out.Advisory)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	store := newMemStore("u1", record("local", "2024-01-02T00:00:00.000Z", "unsynced"))
	remote := &fakeRemote{fetch: body(`{"status":"OK","data":[
		{"id":"a","timestamp":"2024-01-01 00:00:00","emotionalProfile":{"calma":2},"feedback":"a"},
		{"id":"b","timestamp":"2024-01-01 00:00:00","emotionalProfile":{"calma":2},"feedback":"b"}
	]}`)}

	r := newReconciler(t, store, remote)
	first, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("First refresh failed: %v", err)
	}
	second, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}

	if diff := cmp.Diff(first.Records, second.Records); diff != "" {
		t.Errorf("Refresh drifted (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"local", "a", "b"}, ids(second.Records)); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}
}

func TestLatestRefreshWins(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := newMemStore("u1")
	remote := &fakeRemote{fetch: func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			close(started)
			<-release
			return `{"status":"OK","data":[{"id":"slow","timestamp":"2024-01-01","emotionalProfile":{"calma":2},"feedback":"slow"}]}`, nil
		}
		return `{"status":"OK","data":[{"id":"fast","timestamp":"2024-01-01","emotionalProfile":{"calma":2},"feedback":"fast"}]}`, nil
	}}

	r, err := New(Options{UserID: "u1", Store: store, Remote: remote, Codec: newCodec(t), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}
	defer r.Close()

	slow := make(chan *Outcome, 1)
	go func() {
		out, _ := r.Refresh(context.Background())
		slow <- out
	}()
	<-started

	fast, err := r.Refresh(context.Background())
	if err != nil || fast.State != StateMerged {
		t.Fatalf("Expected newer refresh to merge, got %+v, %v", fast, err)
	}

	close(release)
	old := <-slow

	if old.State != StateSuperseded {
		t.Fatalf("Expected older refresh superseded, got %s", old.State)
	}
	if diff := cmp.Diff([]string{"fast"}, ids(r.Records())); diff != "" {
		t.Errorf("Stale result leaked into view (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fast"}, ids(store.slot("u1"))); diff != "" {
		t.Errorf("Stale result persisted (-want +got):\n%s", diff)
	}
}

func TestCloseDiscardsInFlightRefresh(t *testing.T) {
	started := make(chan struct{})
	local := []models.AssessmentRecord{record("1", "2024-01-01T00:00:00.000Z", "local")}
	store := newMemStore("u1", local...)
	remote := &fakeRemote{fetch: func(ctx context.Context, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}

	r, err := New(Options{UserID: "u1", Store: store, Remote: remote, Codec: newCodec(t), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := r.Refresh(context.Background())
		done <- out
	}()
	<-started
	r.Close()

	select {
	case out := <-done:
		if out.State != StateDiscarded {
			t.Errorf("Expected discarded, got %s", out.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the in-flight fetch")
	}

	if store.saves != 0 {
		t.Errorf("Discarded refresh wrote the store")
	}
	if out, _ := r.Refresh(context.Background()); out.State != StateDiscarded {
		t.Errorf("Refresh after Close should be discarded, got %s", out.State)
	}
}

func TestRefreshStoreFailureIsFatal(t *testing.T) {
	store := newMemStore("u1")
	store.loadErr = fmt.Errorf("%w: disk gone", history.ErrStore)
	r := newReconciler(t, store, &fakeRemote{fetch: body(`[]`)})

	if _, err := r.Refresh(context.Background()); !errors.Is(err, history.ErrStore) {
		t.Fatalf("Expected store error, got %v", err)
	}

	store.loadErr = nil
	store.saveErr = fmt.Errorf("%w: read-only", history.ErrStore)
	if _, err := r.Refresh(context.Background()); !errors.Is(err, history.ErrStore) {
		t.Fatalf("Expected store error on save, got %v", err)
	}
}

func TestStoreFailureLeavesLoadingState(t *testing.T) {
	store := newMemStore("u1")
	store.loadErr = fmt.Errorf("%w: disk gone", history.ErrStore)
	r := newReconciler(t, store, &fakeRemote{fetch: body(`[]`)})

	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Expected store error")
	}
	if r.State() != StateIdle {
		t.Errorf("Expected idle after a failed load, got %s", r.State())
	}

	store.loadErr = nil
	store.saveErr = fmt.Errorf("%w: read-only", history.ErrStore)
	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Expected store error on save")
	}
	if r.State() != StateIdle {
		t.Errorf("Expected idle after a failed save, got %s", r.State())
	}
}

// blockingStore parks Save until released
type blockingStore struct {
	*memStore
	saving  chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, userID string, records []models.AssessmentRecord) error {
	close(s.saving)
	<-s.release
	return s.memStore.Save(ctx, userID, records)
}

func TestViewDoesNotWaitOnStoreIO(t *testing.T) {
	store := &blockingStore{
		memStore: newMemStore("u1", record("1", "2024-01-01T00:00:00.000Z", "local")),
		saving:   make(chan struct{}),
		release:  make(chan struct{}),
	}
	r := newReconciler(t, store, &fakeRemote{fetch: body(`{"status":"OK","data":[]}`)})

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := r.Refresh(context.Background())
		done <- out
	}()
	<-store.saving

	read := make(chan struct{})
	go func() {
		r.Records()
		r.State()
		r.Advisory()
		close(read)
	}()

	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("Reading the view blocked on a slow store save")
	}
	if diff := cmp.Diff([]string{"1"}, ids(r.Records())); diff != "" {
		t.Errorf("Optimistic view changed before save finished (-want +got):\n%s", diff)
	}

	close(store.release)
	if out := <-done; out.State != StateMerged {
		t.Errorf("Expected merged, got %s", out.State)
	}
}

func TestSubmit(t *testing.T) {
	data := models.AssessmentData{
		EmotionalProfile: map[string]float64{"calma": 4},
		PriorityAreas:    []string{"sueño"},
		Feedback:         "Buen día",
	}

	t.Run("accepted", func(t *testing.T) {
		store := newMemStore("u1", record("old", "2024-01-01T00:00:00.000Z", "old"))
		remote := &fakeRemote{}
		r := newReconciler(t, store, remote)

		res, err := r.Submit(context.Background(), data)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if !res.Synced || res.Advisory != AdvisoryNone {
			t.Errorf("Expected synced submit, got %+v", res)
		}
		if res.Record.Timestamp != "2024-03-01T09:30:00.000Z" {
			t.Errorf("Unexpected timestamp %s", res.Record.Timestamp)
		}
		if diff := cmp.Diff([]string{res.Record.ID, "old"}, ids(store.slot("u1"))); diff != "" {
			t.Errorf("Record not persisted newest first (-want +got):\n%s", diff)
		}
		if len(remote.saved) != 1 || remote.saved[0].ID != res.Record.ID {
			t.Errorf("Record not sent to API: %+v", remote.saved)
		}
	})

	t.Run("rejected keeps local copy", func(t *testing.T) {
		store := newMemStore("u1")
		remote := &fakeRemote{saveResp: &models.APIResponse{Status: models.StatusNOOK, Message: "error al guardar"}}
		r := newReconciler(t, store, remote)

		res, err := r.Submit(context.Background(), data)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Synced || !errors.Is(res.Err, ErrRemote) {
			t.Errorf("Expected remote rejection, got %+v", res)
		}
		if r.Advisory() != AdvisorySaveFailed {
			t.Errorf("Expected save-failed advisory, got %q", r.Advisory())
		}
		if len(store.slot("u1")) != 1 {
			t.Errorf("Record should stay in the local cache")
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		store := newMemStore("u1")
		r := newReconciler(t, store, &fakeRemote{saveErr: errors.New("connection refused")})

		res, err := r.Submit(context.Background(), data)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Synced || res.Advisory != AdvisorySaveFailed {
			t.Errorf("Expected soft failure, got %+v", res)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		store := newMemStore("u1")
		remote := &fakeRemote{}
		r := newReconciler(t, store, remote)

		bad := models.AssessmentData{Feedback: "x", EmotionalProfile: map[string]float64{"calma": 7}}
		if _, err := r.Submit(context.Background(), bad); err == nil {
			t.Fatal("Expected validation error for out-of-range score")
		}
		if _, err := r.Submit(context.Background(), models.AssessmentData{}); err == nil {
			t.Fatal("Expected validation error for empty feedback")
		}
		if len(remote.saved) != 0 || store.saves != 0 {
			t.Error("Invalid record must not be stored or sent")
		}
	})
}

func TestSubmittedRecordSurvivesConcurrentRefresh(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := newMemStore("u1")
	remote := &fakeRemote{fetch: func(ctx context.Context, _ int) (string, error) {
		close(started)
		<-release
		return `{"status":"OK","data":[{"id":"r","timestamp":"2024-01-01","emotionalProfile":{"calma":2},"feedback":"remote"}]}`, nil
	}}
	r := newReconciler(t, store, remote)
	r.timeout = 5 * time.Second

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := r.Refresh(context.Background())
		done <- out
	}()
	<-started

	res, err := r.Submit(context.Background(), models.AssessmentData{Feedback: "new"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	close(release)
	out := <-done

	got := strings.Join(ids(out.Records), ",")
	if got != res.Record.ID+",r" {
		t.Errorf("Expected submitted record merged with remote, got %s", got)
	}
}
