package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/campuspass/campuspass/pkg/recognition"
	"github.com/campuspass/campuspass/pkg/storage"
)

// mockStore is an in-memory Store.
type mockStore struct {
	templates map[string]recognition.Embedding
	geofence  map[string]*storage.GeofenceState
	requests  map[string]*storage.AttendanceRequest

	saveTemplateErr error
	saveRequestErr  error
	latestReqErr    error
}

func newMockStore() *mockStore {
	return &mockStore{
		templates: make(map[string]recognition.Embedding),
		geofence:  make(map[string]*storage.GeofenceState),
		requests:  make(map[string]*storage.AttendanceRequest),
	}
}

func (m *mockStore) SubjectExists(subjectID string) bool {
	_, ok := m.templates[subjectID]
	return ok
}

func (m *mockStore) LoadTemplate(subjectID string) (recognition.Embedding, error) {
	t, ok := m.templates[subjectID]
	if !ok {
		return nil, storage.ErrSubjectNotFound
	}
	return t, nil
}

func (m *mockStore) SaveTemplate(subjectID string, template recognition.Embedding) error {
	if m.saveTemplateErr != nil {
		return m.saveTemplateErr
	}
	m.templates[subjectID] = template
	return nil
}

func (m *mockStore) LoadGeofenceState(subjectID string) (*storage.GeofenceState, error) {
	s, ok := m.geofence[subjectID]
	if !ok {
		return nil, storage.ErrNoGeofenceState
	}
	return s, nil
}

func (m *mockStore) SaveRequest(req storage.AttendanceRequest) error {
	if m.saveRequestErr != nil {
		return m.saveRequestErr
	}
	m.requests[req.SubjectID] = &req
	return nil
}

func (m *mockStore) LatestRequest(subjectID string) (*storage.AttendanceRequest, error) {
	if m.latestReqErr != nil {
		return nil, m.latestReqErr
	}
	r, ok := m.requests[subjectID]
	if !ok {
		return nil, storage.ErrNoRequest
	}
	return r, nil
}

// mockCapturer returns a scripted capture outcome.
type mockCapturer struct {
	emb recognition.Embedding
	ok  bool
	err error
}

func (c *mockCapturer) Capture() (recognition.Embedding, bool, error) {
	return c.emb, c.ok, c.err
}

func validEmbedding() recognition.Embedding {
	e := make(recognition.Embedding, recognition.EmbeddingSize)
	e[0] = 1
	return e
}

func farEmbedding() recognition.Embedding {
	e := make(recognition.Embedding, recognition.EmbeddingSize)
	e[1] = 1
	return e
}

const testThreshold = 0.85

func newTestAuthorizer(store Store, cap Capturer) *Authorizer {
	return NewAuthorizer(store, cap, testThreshold, time.UTC)
}

func authError(t *testing.T, err error) *Error {
	t.Helper()
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return perr
}

func TestEnroll(t *testing.T) {
	store := newMockStore()
	a := newTestAuthorizer(store, &mockCapturer{emb: validEmbedding(), ok: true})

	if err := a.Enroll("student-42"); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if !store.SubjectExists("student-42") {
		t.Error("enrollment must persist the template")
	}
}

func TestEnrollErrors(t *testing.T) {
	tests := []struct {
		name     string
		store    *mockStore
		capturer *mockCapturer
		code     ErrorCode
		retry    bool
	}{
		{
			name:     "no candidate",
			store:    newMockStore(),
			capturer: &mockCapturer{ok: false},
			code:     ErrCodeNoCandidate,
			retry:    true,
		},
		{
			name:     "invalid capture",
			store:    newMockStore(),
			capturer: &mockCapturer{emb: make(recognition.Embedding, recognition.EmbeddingSize), ok: true},
			code:     ErrCodeInvalidCapture,
			retry:    true,
		},
		{
			name:     "model not ready",
			store:    newMockStore(),
			capturer: &mockCapturer{err: recognition.ErrModelNotReady},
			code:     ErrCodeNotReady,
			retry:    false,
		},
		{
			name: "storage failure",
			store: func() *mockStore {
				s := newMockStore()
				s.saveTemplateErr = errors.New("disk full")
				return s
			}(),
			capturer: &mockCapturer{emb: validEmbedding(), ok: true},
			code:     ErrCodeStorage,
			retry:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthorizer(tt.store, tt.capturer)
			perr := authError(t, a.Enroll("student-42"))
			if perr.Code != tt.code {
				t.Errorf("code = %s, want %s", perr.Code, tt.code)
			}
			if perr.Retry != tt.retry {
				t.Errorf("retry = %v, want %v", perr.Retry, tt.retry)
			}
		})
	}
}

func TestVerifyMatch(t *testing.T) {
	store := newMockStore()
	store.templates["student-42"] = validEmbedding()
	a := newTestAuthorizer(store, &mockCapturer{emb: validEmbedding(), ok: true})

	result := a.Verify("student-42")
	if result.Err != nil {
		t.Fatalf("Verify failed: %v", result.Err)
	}
	if !result.Verified {
		t.Error("identical embedding must verify")
	}
	if result.Distance > 1e-9 {
		t.Errorf("unexpected distance %f", result.Distance)
	}
}

func TestVerifyErrors(t *testing.T) {
	enrolled := func() *mockStore {
		s := newMockStore()
		s.templates["student-42"] = validEmbedding()
		return s
	}

	tests := []struct {
		name     string
		store    *mockStore
		capturer *mockCapturer
		code     ErrorCode
	}{
		{
			name:     "not enrolled",
			store:    newMockStore(),
			capturer: &mockCapturer{emb: validEmbedding(), ok: true},
			code:     ErrCodeNotEnrolled,
		},
		{
			name:     "no candidate",
			store:    enrolled(),
			capturer: &mockCapturer{ok: false},
			code:     ErrCodeNoCandidate,
		},
		{
			name:     "model not ready",
			store:    enrolled(),
			capturer: &mockCapturer{err: recognition.ErrModelNotReady},
			code:     ErrCodeNotReady,
		},
		{
			name:     "capture pipeline error",
			store:    enrolled(),
			capturer: &mockCapturer{err: errors.New("decode failed")},
			code:     ErrCodeInvalidCapture,
		},
		{
			name:     "degenerate embedding",
			store:    enrolled(),
			capturer: &mockCapturer{emb: make(recognition.Embedding, recognition.EmbeddingSize), ok: true},
			code:     ErrCodeInvalidCapture,
		},
		{
			name:     "not recognized",
			store:    enrolled(),
			capturer: &mockCapturer{emb: farEmbedding(), ok: true},
			code:     ErrCodeNotRecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthorizer(tt.store, tt.capturer)
			result := a.Verify("student-42")
			if result.Verified {
				t.Fatal("expected verification failure")
			}
			perr := authError(t, result.Err)
			if perr.Code != tt.code {
				t.Errorf("code = %s, want %s", perr.Code, tt.code)
			}
		})
	}
}

func TestEligibleToday(t *testing.T) {
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	inside := &storage.GeofenceState{SubjectID: "student-42", Inside: true, At: now}
	outside := &storage.GeofenceState{SubjectID: "student-42", Inside: false, At: now}

	tests := []struct {
		name     string
		state    *storage.GeofenceState
		request  *storage.AttendanceRequest
		eligible bool
		code     ErrorCode
	}{
		{
			name:     "inside, no prior request",
			state:    inside,
			eligible: true,
		},
		{
			name: "no geofence state",
			code: ErrCodeNotOnCampus,
		},
		{
			name:  "outside",
			state: outside,
			code:  ErrCodeNotOnCampus,
		},
		{
			name:    "request earlier today",
			state:   inside,
			request: &storage.AttendanceRequest{SubjectID: "student-42", RequestedAt: now.Add(-2 * time.Hour)},
			code:    ErrCodeAlreadyRequested,
		},
		{
			name:     "request yesterday",
			state:    inside,
			request:  &storage.AttendanceRequest{SubjectID: "student-42", RequestedAt: now.Add(-24 * time.Hour)},
			eligible: true,
		},
		{
			name:  "request at the very start of today",
			state: inside,
			request: &storage.AttendanceRequest{
				SubjectID:   "student-42",
				RequestedAt: time.Date(2026, 3, 9, 0, 0, 1, 0, time.UTC),
			},
			code: ErrCodeAlreadyRequested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			if tt.state != nil {
				store.geofence["student-42"] = tt.state
			}
			if tt.request != nil {
				store.requests["student-42"] = tt.request
			}

			a := newTestAuthorizer(store, &mockCapturer{})
			a.now = func() time.Time { return now }

			eligible, perr := a.EligibleToday("student-42")
			if eligible != tt.eligible {
				t.Errorf("eligible = %v, want %v", eligible, tt.eligible)
			}
			if !tt.eligible && perr.Code != tt.code {
				t.Errorf("code = %s, want %s", perr.Code, tt.code)
			}
		})
	}
}

func TestEligibilityRespectsTimeZone(t *testing.T) {
	// 2026-03-09 23:30 UTC and 2026-03-10 00:30 UTC are the same calendar
	// day in UTC-2 but different days in UTC.
	zone := time.FixedZone("UTC-2", -2*60*60)
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)

	store := newMockStore()
	store.geofence["student-42"] = &storage.GeofenceState{SubjectID: "student-42", Inside: true}
	store.requests["student-42"] = &storage.AttendanceRequest{
		SubjectID:   "student-42",
		RequestedAt: time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC),
	}

	a := NewAuthorizer(store, &mockCapturer{}, testThreshold, zone)
	a.now = func() time.Time { return now }

	eligible, perr := a.EligibleToday("student-42")
	if eligible {
		t.Fatal("same local day must block a second request")
	}
	if perr.Code != ErrCodeAlreadyRequested {
		t.Errorf("code = %s, want %s", perr.Code, ErrCodeAlreadyRequested)
	}

	utc := NewAuthorizer(store, &mockCapturer{}, testThreshold, time.UTC)
	utc.now = func() time.Time { return now }
	if eligible, _ := utc.EligibleToday("student-42"); !eligible {
		t.Error("different UTC day must allow a new request")
	}
}

func TestAuthorize(t *testing.T) {
	store := newMockStore()
	store.templates["student-42"] = validEmbedding()
	store.geofence["student-42"] = &storage.GeofenceState{SubjectID: "student-42", Inside: true}

	a := newTestAuthorizer(store, &mockCapturer{emb: validEmbedding(), ok: true})

	result := a.Authorize("student-42")
	if result.Err != nil {
		t.Fatalf("Authorize failed: %v", result.Err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
	if result.RequestID == "" {
		t.Error("expected a request ID")
	}

	saved := store.requests["student-42"]
	if saved == nil {
		t.Fatal("request not persisted")
	}
	if saved.Status != storage.RequestVerified {
		t.Errorf("status = %s, want %s", saved.Status, storage.RequestVerified)
	}
	if saved.ID != result.RequestID {
		t.Error("persisted request ID differs from the result")
	}
}

func TestAuthorizeBlockedOffCampus(t *testing.T) {
	store := newMockStore()
	store.templates["student-42"] = validEmbedding()
	store.geofence["student-42"] = &storage.GeofenceState{SubjectID: "student-42", Inside: false}

	capturer := &mockCapturer{emb: validEmbedding(), ok: true}
	a := newTestAuthorizer(store, capturer)

	result := a.Authorize("student-42")
	perr := authError(t, result.Err)
	if perr.Code != ErrCodeNotOnCampus {
		t.Errorf("code = %s, want %s", perr.Code, ErrCodeNotOnCampus)
	}
	if store.requests["student-42"] != nil {
		t.Error("blocked authorization must not persist a request")
	}
}

func TestAuthorizeFaceMismatchPersistsNothing(t *testing.T) {
	store := newMockStore()
	store.templates["student-42"] = validEmbedding()
	store.geofence["student-42"] = &storage.GeofenceState{SubjectID: "student-42", Inside: true}

	a := newTestAuthorizer(store, &mockCapturer{emb: farEmbedding(), ok: true})

	result := a.Authorize("student-42")
	perr := authError(t, result.Err)
	if perr.Code != ErrCodeNotRecognized {
		t.Errorf("code = %s, want %s", perr.Code, ErrCodeNotRecognized)
	}
	if store.requests["student-42"] != nil {
		t.Error("unrecognized face must not persist a request")
	}
}

func TestAuthorizeRequestWriteFailure(t *testing.T) {
	store := newMockStore()
	store.templates["student-42"] = validEmbedding()
	store.geofence["student-42"] = &storage.GeofenceState{SubjectID: "student-42", Inside: true}
	store.saveRequestErr = errors.New("disk full")

	a := newTestAuthorizer(store, &mockCapturer{emb: validEmbedding(), ok: true})

	result := a.Authorize("student-42")
	if result.Verified {
		t.Error("failed persistence must not report verified")
	}
	perr := authError(t, result.Err)
	if perr.Code != ErrCodeStorage || !perr.Retry {
		t.Errorf("expected retryable storage error, got %+v", perr)
	}
}
