// Package frame converts raw camera frames into canonical RGB rasters.
// It understands the planar and interleaved YUV 4:2:0 layouts produced by
// mobile camera subsystems as well as packed BGRA, and degrades gracefully
// on the stride and size mismatches those subsystems routinely produce.
package frame

import "time"

// PixelFormat identifies the pixel layout of a raw frame.
type PixelFormat int

const (
	// FormatUnknown means the source did not report a usable format.
	// Decode falls back to plane-count dispatch.
	FormatUnknown PixelFormat = iota

	// FormatNV21Single is YUV 4:2:0 delivered as a single buffer:
	// full-resolution luma rows followed by interleaved VU chroma rows.
	FormatNV21Single

	// FormatNV21 is YUV 4:2:0 in two planes: luma, then interleaved VU
	// chroma subsampled 2:1 in both axes.
	FormatNV21

	// FormatYUV420Planar is YUV 4:2:0 in three planes: luma, U, V.
	FormatYUV420Planar

	// FormatBGRA is packed 8-bit BGRA, one plane, four bytes per pixel.
	FormatBGRA
)

// String returns the format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatNV21Single:
		return "nv21-single"
	case FormatNV21:
		return "nv21"
	case FormatYUV420Planar:
		return "yuv420p"
	case FormatBGRA:
		return "bgra"
	default:
		return "unknown"
	}
}

// Plane is one byte plane of a raw frame. RowStride may exceed the
// meaningful bytes per row (row padding). PixelStride is the distance in
// bytes between horizontally adjacent samples; zero selects the layout
// default (1 for luma and planar chroma, 2 for interleaved chroma).
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// RawFrame is a single frame as delivered by a camera subsystem.
// The plane buffers are owned by the camera until copied; use Clone
// before retaining a frame beyond the delivery callback, because the
// source buffers may be recycled as soon as control returns.
type RawFrame struct {
	Width  int
	Height int
	Format PixelFormat
	Planes []Plane
	At     time.Time
}

// Clone returns a deep copy of the frame with freshly owned plane buffers.
func (f *RawFrame) Clone() *RawFrame {
	c := &RawFrame{
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		At:     f.At,
		Planes: make([]Plane, len(f.Planes)),
	}
	for i, p := range f.Planes {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		c.Planes[i] = Plane{
			Data:        data,
			RowStride:   p.RowStride,
			PixelStride: p.PixelStride,
		}
	}
	return c
}
