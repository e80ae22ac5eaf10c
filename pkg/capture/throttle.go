// Package capture gates the live frame stream into the face pipeline.
// A single-flight throttle ensures at most one frame is in flight through
// decode and detection at a time, and retains the best frame/face pair
// for the eventual enroll or verify action.
package capture

import (
	"fmt"
	"sync"

	"github.com/campuspass/campuspass/pkg/frame"
	"github.com/campuspass/campuspass/pkg/logging"
	"github.com/campuspass/campuspass/pkg/recognition"
)

// State is the throttle's position in its frame-processing state machine.
type State int

const (
	// StateIdle means no work is in flight and no candidate is retained.
	StateIdle State = iota
	// StateDetecting means a frame is in flight through decode+detect.
	StateDetecting
	// StateReady means a single-face candidate is retained for capture.
	StateReady
	// StateCapturing means an explicit enroll/verify action is running;
	// frame processing is suspended until it completes.
	StateCapturing
	// StateStopped is terminal: the stream was torn down. Results from
	// work started before teardown are discarded.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Candidate is the retained best frame/face pair. The frame is a deep
// copy owned by the throttle; it is never aliased with camera buffers.
type Candidate struct {
	Frame  *frame.RawFrame
	Region recognition.FaceRegion
}

// Options holds the camera orientation applied before detection.
type Options struct {
	FrontFacing     bool
	RotationDegrees int
}

// Throttle is the single-flight controller over the live frame stream.
// Only the frame-stream callback writes the retained candidate; only the
// capture action reads and clears it.
type Throttle struct {
	detector recognition.Detector
	embedder *recognition.Embedder
	opts     Options

	mu        sync.Mutex
	state     State
	candidate *Candidate
}

// NewThrottle creates a throttle over the given detector and embedder.
func NewThrottle(detector recognition.Detector, embedder *recognition.Embedder, opts Options) *Throttle {
	return &Throttle{
		detector: detector,
		embedder: embedder,
		opts:     opts,
		state:    StateIdle,
	}
}

// State returns the current throttle state.
func (t *Throttle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HasCandidate reports whether a single-face candidate is retained.
func (t *Throttle) HasCandidate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.candidate != nil
}

// OnFrame feeds one frame from the live stream. Frames arriving while
// detection or capture is in flight are dropped, not queued: freshness
// matters more than completeness for a live preview. Returns true when
// the frame became the retained candidate.
//
// The frame is copied before any processing; the caller's buffers may be
// recycled as soon as OnFrame returns.
func (t *Throttle) OnFrame(f *frame.RawFrame) bool {
	t.mu.Lock()
	if t.state != StateIdle && t.state != StateReady {
		t.mu.Unlock()
		logging.Debugf("capture: frame dropped in state %s", t.state)
		return false
	}
	t.state = StateDetecting
	// Copy out of the camera-owned buffers while they are still valid.
	owned := f.Clone()
	t.mu.Unlock()

	regions, err := t.detect(owned)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateDetecting {
		// Torn down while this frame was in flight; discard the result.
		// Capture cannot have started meanwhile: it refuses to run while
		// a detection pass is in flight.
		return false
	}

	if err != nil {
		logging.Debugf("capture: frame dropped: %v", err)
		t.settle()
		return false
	}

	if len(regions) != 1 {
		// Zero or ambiguous faces: discard the frame, keep any
		// previously retained candidate.
		logging.Debugf("capture: frame with %d face(s) discarded", len(regions))
		t.settle()
		return false
	}

	// Latest single-face frame wins.
	t.candidate = &Candidate{Frame: owned, Region: regions[0]}
	t.state = StateReady
	return true
}

// detect runs decode and detection outside the lock.
func (t *Throttle) detect(f *frame.RawFrame) ([]recognition.FaceRegion, error) {
	img, err := frame.Decode(f)
	if err != nil {
		return nil, err
	}
	oriented := recognition.Orient(img, t.opts.RotationDegrees, t.opts.FrontFacing)
	regions, err := t.detector.Detect(oriented)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	return regions, nil
}

// settle returns the throttle to Ready or Idle depending on whether a
// candidate is retained.
func (t *Throttle) settle() {
	if t.candidate != nil {
		t.state = StateReady
	} else {
		t.state = StateIdle
	}
}

// Capture runs the retained candidate through preprocessing and the
// embedding model. Triggering capture with no retained candidate is a
// no-op, not an error: that is the normal state right after
// initialization or a rejection, and retrying is the expected recovery.
// A capture attempted while a detection pass or another capture is in
// flight is likewise a no-op; only one decode/preprocess/embed sequence
// runs at a time. ok reports whether a candidate was consumed.
//
// Frame processing is suspended for the duration; the candidate slot is
// read and cleared exactly once.
func (t *Throttle) Capture() (emb recognition.Embedding, ok bool, err error) {
	t.mu.Lock()
	if t.state != StateReady || t.candidate == nil {
		t.mu.Unlock()
		return nil, false, nil
	}
	cand := t.candidate
	t.candidate = nil
	t.state = StateCapturing
	t.mu.Unlock()

	emb, err = t.embed(cand)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateStopped {
		// Teardown raced the capture; discard the result.
		return nil, false, nil
	}

	t.settle()
	if err != nil {
		return nil, true, err
	}
	return emb, true, nil
}

// embed runs the decode -> prepare -> embed pipeline on a candidate.
func (t *Throttle) embed(cand *Candidate) (recognition.Embedding, error) {
	img, err := frame.Decode(cand.Frame)
	if err != nil {
		return nil, err
	}

	tensor, err := recognition.Prepare(img, cand.Region, t.opts.FrontFacing, t.opts.RotationDegrees)
	if err != nil {
		return nil, err
	}

	return t.embedder.Embed(tensor)
}

// Stop tears the throttle down. In-flight work started before Stop may
// complete but its results are discarded; the retained candidate is
// released.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateStopped
	t.candidate = nil
}
