// Package presence authorizes presence claims. It combines a facial
// identity match against the enrolled template with the campus geofence
// state and the one-request-per-day attendance policy.
package presence

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campuspass/campuspass/pkg/logging"
	"github.com/campuspass/campuspass/pkg/recognition"
	"github.com/campuspass/campuspass/pkg/storage"
)

// ErrorCode represents a specific authorization error type.
type ErrorCode string

const (
	ErrCodeNotEnrolled      ErrorCode = "NOT_ENROLLED"
	ErrCodeNotReady         ErrorCode = "NOT_READY"
	ErrCodeNoCandidate      ErrorCode = "NO_CANDIDATE"
	ErrCodeInvalidCapture   ErrorCode = "INVALID_CAPTURE"
	ErrCodeNotRecognized    ErrorCode = "NOT_RECOGNIZED"
	ErrCodeNotOnCampus      ErrorCode = "NOT_ON_CAMPUS"
	ErrCodeAlreadyRequested ErrorCode = "ALREADY_REQUESTED"
	ErrCodeStorage          ErrorCode = "STORAGE"
)

// User-facing error messages
var errorMessages = map[ErrorCode]string{
	ErrCodeNotEnrolled:      "No face template enrolled for this subject",
	ErrCodeNotReady:         "Face verification is not ready yet",
	ErrCodeNoCandidate:      "No face captured yet. Please look at the camera",
	ErrCodeInvalidCapture:   "Could not read your face. Please try again",
	ErrCodeNotRecognized:    "Face not recognized",
	ErrCodeNotOnCampus:      "You are not inside the campus boundary",
	ErrCodeAlreadyRequested: "An attendance request was already made today",
	ErrCodeStorage:          "Failed to save the result. Please retry",
}

// Error is a structured authorization error.
type Error struct {
	Code    ErrorCode
	Message string
	Retry   bool
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates an authorization error for a code.
func NewError(code ErrorCode, retry bool) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Authorization failed"
	}
	return &Error{Code: code, Message: msg, Retry: retry}
}

// Store is the persistence surface the authorizer needs.
type Store interface {
	SubjectExists(subjectID string) bool
	LoadTemplate(subjectID string) (recognition.Embedding, error)
	SaveTemplate(subjectID string, template recognition.Embedding) error
	LoadGeofenceState(subjectID string) (*storage.GeofenceState, error)
	SaveRequest(req storage.AttendanceRequest) error
	LatestRequest(subjectID string) (*storage.AttendanceRequest, error)
}

// Capturer produces one embedding from the retained camera candidate.
// ok is false when no candidate was available.
type Capturer interface {
	Capture() (emb recognition.Embedding, ok bool, err error)
}

// Result is the outcome of a verification or authorization attempt.
type Result struct {
	SubjectID string
	Verified  bool
	Distance  float64
	RequestID string
	Duration  time.Duration
	Reason    string
	Err       error
}

// Authorizer runs the enroll and verify workflows.
type Authorizer struct {
	store     Store
	capturer  Capturer
	threshold float64
	loc       *time.Location
	now       func() time.Time
	log       *logrus.Entry
}

// NewAuthorizer creates an authorizer. The threshold is the calibrated
// match threshold from configuration; loc is the time zone used for the
// one-request-per-calendar-day policy (nil means local time).
func NewAuthorizer(store Store, capturer Capturer, threshold float64, loc *time.Location) *Authorizer {
	if loc == nil {
		loc = time.Local
	}
	return &Authorizer{
		store:     store,
		capturer:  capturer,
		threshold: threshold,
		loc:       loc,
		now:       time.Now,
		log:       logging.Component("presence"),
	}
}

// Enroll captures one embedding and stores it as the subject's template,
// overwriting any prior template.
func (a *Authorizer) Enroll(subjectID string) error {
	emb, ok, err := a.capturer.Capture()
	if err != nil {
		return a.captureError(err)
	}
	if !ok {
		return NewError(ErrCodeNoCandidate, true)
	}
	if emb.IsZero() {
		return NewError(ErrCodeInvalidCapture, true)
	}

	if err := a.store.SaveTemplate(subjectID, emb); err != nil {
		a.log.WithError(err).Error("failed to store template")
		return NewError(ErrCodeStorage, true)
	}

	a.log.WithField("subject", subjectID).Info("subject enrolled")
	return nil
}

// Verify captures one embedding and matches it against the subject's
// enrolled template. It does not consult the geofence; see Authorize for
// the full presence decision.
func (a *Authorizer) Verify(subjectID string) Result {
	start := a.now()
	result := Result{SubjectID: subjectID}

	if !a.store.SubjectExists(subjectID) {
		result.Err = NewError(ErrCodeNotEnrolled, false)
		result.Reason = "subject not enrolled"
		result.Duration = a.now().Sub(start)
		return result
	}

	template, err := a.store.LoadTemplate(subjectID)
	if err != nil {
		result.Err = NewError(ErrCodeNotEnrolled, false)
		result.Reason = "failed to load template"
		result.Duration = a.now().Sub(start)
		return result
	}

	emb, ok, err := a.capturer.Capture()
	if err != nil {
		result.Err = a.captureError(err)
		result.Reason = "capture failed"
		result.Duration = a.now().Sub(start)
		return result
	}
	if !ok {
		result.Err = NewError(ErrCodeNoCandidate, true)
		result.Reason = "no retained candidate"
		result.Duration = a.now().Sub(start)
		return result
	}

	match := recognition.Match(emb, template, a.threshold)
	result.Distance = match.Distance
	result.Duration = a.now().Sub(start)

	switch {
	case match.InvalidCapture:
		result.Err = NewError(ErrCodeInvalidCapture, true)
		result.Reason = "degenerate embedding"
	case !match.Matched:
		result.Err = NewError(ErrCodeNotRecognized, false)
		result.Reason = "distance above threshold"
	default:
		result.Verified = true
		a.log.WithFields(logging.Fields{
			"subject":  subjectID,
			"distance": match.Distance,
		}).Info("face verified")
	}
	return result
}

// EligibleToday reports whether the subject may make an attendance
// request now: the latest geofence state must be inside, and no request
// may exist for the current calendar day in the authorizer's time zone. The monitor itself holds no day-boundary
// state; this policy is applied here, on its persisted output.
func (a *Authorizer) EligibleToday(subjectID string) (bool, *Error) {
	state, err := a.store.LoadGeofenceState(subjectID)
	if err != nil || !state.Inside {
		return false, NewError(ErrCodeNotOnCampus, true)
	}

	req, err := a.store.LatestRequest(subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRequest) {
			return true, nil
		}
		return false, NewError(ErrCodeStorage, true)
	}

	if sameDay(req.RequestedAt, a.now(), a.loc) {
		return false, NewError(ErrCodeAlreadyRequested, false)
	}
	return true, nil
}

// Authorize runs the full presence claim: eligibility, face
// verification, and persistence of the decision. The request is marked
// verified only when the face matched.
func (a *Authorizer) Authorize(subjectID string) Result {
	if eligible, perr := a.EligibleToday(subjectID); !eligible {
		return Result{SubjectID: subjectID, Err: perr, Reason: string(perr.Code)}
	}

	result := a.Verify(subjectID)
	if !result.Verified {
		return result
	}

	req := storage.AttendanceRequest{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		RequestedAt: a.now(),
		Status:      storage.RequestVerified,
	}
	if err := a.store.SaveRequest(req); err != nil {
		a.log.WithError(err).Error("failed to persist attendance request")
		result.Verified = false
		result.Err = NewError(ErrCodeStorage, true)
		result.Reason = "request write failed"
		return result
	}

	result.RequestID = req.ID
	a.log.WithFields(logging.Fields{
		"subject": subjectID,
		"request": req.ID,
	}).Info("presence authorized")
	return result
}

// captureError maps pipeline errors onto workflow error codes.
func (a *Authorizer) captureError(err error) *Error {
	if errors.Is(err, recognition.ErrModelNotReady) {
		// Configuration precondition: surface as not-ready, never retry
		// silently per frame.
		return NewError(ErrCodeNotReady, false)
	}
	return NewError(ErrCodeInvalidCapture, true)
}

// sameDay reports whether two instants fall on the same calendar day in
// the given time zone.
func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
