package storage

import "github.com/campuspass/campuspass/pkg/geofence"

// geofenceWriter merges monitor transitions into a subject's latest-state
// record.
type geofenceWriter struct {
	fs        *FileStorage
	subjectID string
}

// GeofenceWriter returns a geofence.StateWriter bound to a subject.
func (fs *FileStorage) GeofenceWriter(subjectID string) geofence.StateWriter {
	return &geofenceWriter{fs: fs, subjectID: subjectID}
}

func (w *geofenceWriter) WriteState(t geofence.Transition) error {
	return w.fs.SaveGeofenceState(GeofenceState{
		SubjectID: w.subjectID,
		Inside:    t.Inside,
		At:        t.At,
		EnteredAt: t.EnteredAt,
	})
}
