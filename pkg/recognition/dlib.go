package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/campuspass/campuspass/pkg/logging"
)

// DlibDetector implements Detector using dlib via go-face. It is the
// default detector for deployments without a platform-native one.
type DlibDetector struct {
	rec    *face.Recognizer
	loaded bool
	mu     sync.RWMutex
}

// NewDlibDetector creates an unloaded DlibDetector.
func NewDlibDetector() *DlibDetector {
	return &DlibDetector{}
}

// LoadModels loads the dlib models from the specified path. The path
// should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
func (d *DlibDetector) LoadModels(modelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}

	logging.Infof("Loading face detection models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	d.rec = rec
	d.loaded = true

	logging.Info("Face detection models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (d *DlibDetector) IsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Close releases the detector resources.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	d.loaded = false
	return nil
}

// Detect finds all faces in an oriented raster and returns their
// bounding boxes.
func (d *DlibDetector) Detect(img *image.RGBA) ([]FaceRegion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.loaded {
		return nil, ErrDetectorNotLoaded
	}

	// go-face consumes encoded images.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode raster: %w", err)
	}

	faces, err := d.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	regions := make([]FaceRegion, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		regions[i] = FaceRegion{
			Left:   rect.Min.X,
			Top:    rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		}
	}

	logging.Debugf("Detected %d face(s) in raster", len(regions))
	return regions, nil
}
