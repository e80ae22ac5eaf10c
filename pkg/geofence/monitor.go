package geofence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campuspass/campuspass/pkg/logging"
)

// Transition is a persisted state-change event. EnteredAt is set only on
// a transition into inside.
type Transition struct {
	Inside    bool
	At        time.Time
	EnteredAt time.Time
}

// StateWriter persists geofence state transitions. Implementations merge
// the transition into a per-subject record so only the latest state is
// retained, not a full transition log.
type StateWriter interface {
	WriteState(t Transition) error
}

// ErrNilWriter is returned when no state writer is supplied.
var ErrNilWriter = errors.New("geofence state writer is nil")

// Monitor consumes a stream of position fixes and maintains a debounced
// inside/outside state. The first fix establishes the baseline; a
// persistence write is issued only when the computed state differs from
// the last written one, so every true transition is recorded exactly
// once and per-fix writes never repeat.
type Monitor struct {
	campus Campus
	writer StateWriter
	log    *logrus.Entry
	now    func() time.Time

	mu           sync.Mutex
	last         Fix
	lastDistance float64
	inside       bool
	hasFix       bool
	lastWritten  bool
	writing      bool
	stopped      bool
	wg           sync.WaitGroup
}

// Snapshot is a read-only view of the monitor state.
type Snapshot struct {
	LastFix        Fix
	DistanceMeters float64
	Inside         bool
	LastWritten    bool
	HasFix         bool
}

// NewMonitor creates a monitor for the given campus. The campus record
// must be complete; monitoring cannot run without it.
func NewMonitor(campus Campus, writer StateWriter) (*Monitor, error) {
	if err := campus.Validate(); err != nil {
		return nil, err
	}
	if writer == nil {
		return nil, ErrNilWriter
	}
	return &Monitor{
		campus: campus,
		writer: writer,
		log:    logging.Component("geofence"),
		now:    time.Now,
	}, nil
}

// OnFix processes one position fix. In-memory state is updated
// immediately; at most one persistence write is in flight at a time, and
// fixes arriving during a write are coalesced into a single follow-up.
func (m *Monitor) OnFix(fix Fix) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	inside, distance := m.campus.Contains(fix)

	first := !m.hasFix
	m.last = fix
	m.lastDistance = distance
	m.inside = inside
	m.hasFix = true

	if first {
		// Baseline: the first fix defines the reference state without a
		// write; only subsequent changes are transitions.
		m.lastWritten = inside
		m.log.WithFields(logging.Fields{
			"inside":   inside,
			"distance": distance,
		}).Debug("baseline fix")
		return
	}

	m.maybeWriteLocked()
}

// maybeWriteLocked issues a persistence write when the in-memory state
// differs from the last written one and no write is already in flight.
// Callers must hold m.mu.
func (m *Monitor) maybeWriteLocked() {
	if m.writing || m.stopped {
		return
	}
	if m.inside == m.lastWritten {
		return
	}

	t := Transition{Inside: m.inside, At: m.now()}
	if t.Inside {
		t.EnteredAt = t.At
	}

	m.writing = true
	m.wg.Add(1)
	go m.flush(t)
}

// flush performs one persistence write. On failure lastWritten is left
// unchanged so the next fix retries; a transition is never silently
// dropped. On success, state superseded during the write triggers one
// coalesced follow-up.
func (m *Monitor) flush(t Transition) {
	defer m.wg.Done()

	err := m.writer.WriteState(t)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writing = false
	if err != nil {
		m.log.WithError(err).Warn("state write failed; retrying on next fix")
		return
	}

	m.lastWritten = t.Inside
	m.log.WithField("inside", t.Inside).Info("geofence transition persisted")

	if m.stopped {
		return
	}
	m.maybeWriteLocked()
}

// Snapshot returns the current monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		LastFix:        m.last,
		DistanceMeters: m.lastDistance,
		Inside:         m.inside,
		LastWritten:    m.lastWritten,
		HasFix:         m.hasFix,
	}
}

// Run consumes fixes from the channel until it is closed or the context
// is canceled, then stops the monitor.
func (m *Monitor) Run(ctx context.Context, fixes <-chan Fix) error {
	defer m.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			m.OnFix(fix)
		}
	}
}

// Stop stops the monitor and waits for any outstanding write to finish.
// Fixes arriving after Stop are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.wg.Wait()
}
