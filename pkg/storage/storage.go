// Package storage provides persistent storage for enrolled face
// templates, geofence state and attendance requests. Records are
// encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/campuspass/campuspass/pkg/logging"
	"github.com/campuspass/campuspass/pkg/recognition"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// SubjectRecord contains the enrolled identity data for a subject.
// A subject holds exactly one template; re-enrollment overwrites it.
type SubjectRecord struct {
	SubjectID  string                `json:"subject_id"`
	Template   recognition.Embedding `json:"template"`
	EnrolledAt time.Time             `json:"enrolled_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Metadata   map[string]string     `json:"metadata"`
}

// GeofenceState is the merged per-subject geofence record. Only the
// latest state is retained, not a transition log.
type GeofenceState struct {
	SubjectID string    `json:"subject_id"`
	Inside    bool      `json:"inside"`
	At        time.Time `json:"at"`
	EnteredAt time.Time `json:"entered_at,omitempty"`
}

// RequestStatus is the recorded state of an attendance request.
type RequestStatus string

// RequestVerified marks a request whose face check passed. Requests are
// persisted only after verification, so no earlier status exists.
const RequestVerified RequestStatus = "verified"

// AttendanceRequest is the latest attendance request for a subject.
type AttendanceRequest struct {
	ID          string        `json:"id"`
	SubjectID   string        `json:"subject_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Status      RequestStatus `json:"status"`
}

// ErrSubjectNotFound is returned when the subject is not enrolled.
var ErrSubjectNotFound = errors.New("subject not found")

// ErrNoGeofenceState is returned when no geofence state has been
// persisted for the subject.
var ErrNoGeofenceState = errors.New("no geofence state recorded")

// ErrNoRequest is returned when no attendance request exists.
var ErrNoRequest = errors.New("no attendance request recorded")

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage implements file-based storage under a data directory.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	for _, sub := range []string{"subjects", "geofence", "requests"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	// Combine multiple sources of machine identity
	var identity strings.Builder

	// Machine ID (Linux specific)
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	// Hostname
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	// User ID
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))

	// Add a constant salt for additional security
	identity.WriteString("campuspass-v1-salt")

	// Hash to derive key
	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

func (fs *FileStorage) recordPath(kind, id string) string {
	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(fs.dataDir, kind, id+ext)
}

// writeRecord marshals, optionally encrypts and writes a record.
func (fs *FileStorage) writeRecord(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt record: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// readRecord reads, optionally decrypts and unmarshals a record.
func (fs *FileStorage) readRecord(path string, v interface{}, notFound error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}
		return fmt.Errorf("failed to read record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt record: %w", err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// SaveSubject saves a subject record.
func (fs *FileStorage) SaveSubject(rec SubjectRecord) error {
	if err := fs.writeRecord(fs.recordPath("subjects", rec.SubjectID), rec); err != nil {
		return err
	}
	logging.Debugf("Saved subject record for: %s", rec.SubjectID)
	return nil
}

// LoadSubject loads a subject record.
func (fs *FileStorage) LoadSubject(subjectID string) (*SubjectRecord, error) {
	var rec SubjectRecord
	if err := fs.readRecord(fs.recordPath("subjects", subjectID), &rec, ErrSubjectNotFound); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteSubject removes a subject's records.
func (fs *FileStorage) DeleteSubject(subjectID string) error {
	if err := os.Remove(fs.recordPath("subjects", subjectID)); err != nil {
		if os.IsNotExist(err) {
			return ErrSubjectNotFound
		}
		return fmt.Errorf("failed to delete subject record: %w", err)
	}
	// Companion records are best-effort.
	_ = os.Remove(fs.recordPath("geofence", subjectID))
	_ = os.Remove(fs.recordPath("requests", subjectID))
	logging.Infof("Deleted records for subject: %s", subjectID)
	return nil
}

// ListSubjects returns all enrolled subject IDs.
func (fs *FileStorage) ListSubjects() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, "subjects"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	var subjects []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Handle both encrypted and unencrypted files
		if strings.HasSuffix(name, ".json") {
			subjects = append(subjects, strings.TrimSuffix(name, ".json"))
		} else if strings.HasSuffix(name, ".enc") {
			subjects = append(subjects, strings.TrimSuffix(name, ".enc"))
		}
	}

	return subjects, nil
}

// SubjectExists checks if a subject is enrolled.
func (fs *FileStorage) SubjectExists(subjectID string) bool {
	_, err := os.Stat(fs.recordPath("subjects", subjectID))
	return err == nil
}

// SaveTemplate stores the enrolled template for a subject, overwriting
// any prior template.
func (fs *FileStorage) SaveTemplate(subjectID string, template recognition.Embedding) error {
	now := time.Now()
	rec, err := fs.LoadSubject(subjectID)
	if err != nil {
		if !errors.Is(err, ErrSubjectNotFound) {
			return err
		}
		rec = &SubjectRecord{
			SubjectID:  subjectID,
			EnrolledAt: now,
			Metadata:   make(map[string]string),
		}
	}

	rec.Template = template
	rec.UpdatedAt = now
	return fs.SaveSubject(*rec)
}

// LoadTemplate returns the enrolled template for a subject. Absence
// means "not enrolled".
func (fs *FileStorage) LoadTemplate(subjectID string) (recognition.Embedding, error) {
	rec, err := fs.LoadSubject(subjectID)
	if err != nil {
		return nil, err
	}
	return rec.Template, nil
}

// SaveGeofenceState merges the latest geofence state for a subject,
// replacing any previous record.
func (fs *FileStorage) SaveGeofenceState(state GeofenceState) error {
	return fs.writeRecord(fs.recordPath("geofence", state.SubjectID), state)
}

// LoadGeofenceState returns the latest geofence state for a subject.
func (fs *FileStorage) LoadGeofenceState(subjectID string) (*GeofenceState, error) {
	var state GeofenceState
	if err := fs.readRecord(fs.recordPath("geofence", subjectID), &state, ErrNoGeofenceState); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveRequest stores the latest attendance request for a subject,
// replacing any previous one.
func (fs *FileStorage) SaveRequest(req AttendanceRequest) error {
	return fs.writeRecord(fs.recordPath("requests", req.SubjectID), req)
}

// LatestRequest returns the latest attendance request for a subject.
func (fs *FileStorage) LatestRequest(subjectID string) (*AttendanceRequest, error) {
	var req AttendanceRequest
	if err := fs.readRecord(fs.recordPath("requests", subjectID), &req, ErrNoRequest); err != nil {
		return nil, err
	}
	return &req, nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	// Generate random nonce
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	// Encrypt
	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	// Extract nonce
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	// Decrypt
	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
