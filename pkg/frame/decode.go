package frame

import (
	"fmt"
	"image"

	"github.com/campuspass/campuspass/pkg/logging"
)

// DecodeError is returned when a frame's layout cannot be recognized at
// all. Partial or garbled data never produces a DecodeError; the decoder
// degrades per pixel instead.
type DecodeError struct {
	Format PixelFormat
	Planes int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable frame: format %s with %d plane(s)", e.Format, e.Planes)
}

// BT.601 coefficients in 16.16 fixed point.
const (
	coefRV = 91881  // 1.402
	coefGU = 22554  // 0.344136
	coefGV = 46802  // 0.714136
	coefBU = 116130 // 1.772
)

// neutralChroma is substituted for chroma samples that fall outside the
// actual buffer. Stride/size mismatches are common at frame edges.
const neutralChroma = 128

// Decode converts a raw frame into an RGB raster. Dispatch is two-stage:
// first by the declared pixel format, then, when the format is unknown or
// inconsistent with the delivered planes, by plane count. Camera
// subsystems do not always report format metadata reliably.
func Decode(f *RawFrame) (*image.RGBA, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, &DecodeError{Format: f.Format, Planes: len(f.Planes)}
	}

	switch f.Format {
	case FormatNV21Single:
		if len(f.Planes) >= 1 {
			return decodeNV21Single(f), nil
		}
	case FormatNV21:
		if len(f.Planes) >= 2 {
			return decodeNV21(f), nil
		}
	case FormatYUV420Planar:
		if len(f.Planes) >= 3 {
			return decodePlanar(f), nil
		}
	case FormatBGRA:
		if len(f.Planes) >= 1 {
			return decodeBGRA(f), nil
		}
	}

	// Declared format unusable; fall back to plane-count heuristics.
	switch {
	case len(f.Planes) >= 3:
		logging.Debugf("frame: unrecognized format %s, decoding %d planes as planar", f.Format, len(f.Planes))
		return decodePlanar(f), nil
	case len(f.Planes) == 2:
		logging.Debugf("frame: unrecognized format %s, decoding 2 planes as NV21", f.Format)
		return decodeNV21(f), nil
	case len(f.Planes) == 1:
		logging.Debugf("frame: unrecognized format %s, decoding 1 plane as single-buffer NV21", f.Format)
		return decodeNV21Single(f), nil
	}

	return nil, &DecodeError{Format: f.Format, Planes: len(f.Planes)}
}

// sample returns the byte at idx, or fallback when idx is out of range.
func sample(data []byte, idx int, fallback byte) byte {
	if idx < 0 || idx >= len(data) {
		return fallback
	}
	return data[idx]
}

func clampU8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// yuvToRGB applies the BT.601 luma/chroma-to-RGB matrix with each channel
// clamped to [0, 255].
func yuvToRGB(y, u, v int) (uint8, uint8, uint8) {
	u -= 128
	v -= 128
	r := y + ((coefRV * v) >> 16)
	g := y - ((coefGU*u + coefGV*v) >> 16)
	b := y + ((coefBU * u) >> 16)
	return clampU8(r), clampU8(g), clampU8(b)
}

func stride(p Plane, def int) int {
	if p.RowStride > 0 {
		return p.RowStride
	}
	return def
}

func pixelStride(p Plane, def int) int {
	if p.PixelStride > 0 {
		return p.PixelStride
	}
	return def
}

func newRaster(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func setRGB(img *image.RGBA, x, y int, r, g, b uint8) {
	off := img.PixOffset(x, y)
	img.Pix[off+0] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
	img.Pix[off+3] = 255
}

// decodeNV21 decodes two planes: full-resolution luma plus interleaved VU
// chroma subsampled 2:1 in both axes.
func decodeNV21(f *RawFrame) *image.RGBA {
	yp := f.Planes[0]
	cp := f.Planes[1]
	yStride := stride(yp, f.Width)
	cStride := stride(cp, f.Width)
	cPix := pixelStride(cp, 2)

	img := newRaster(f.Width, f.Height)
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			y := int(sample(yp.Data, row*yStride+col, 0))
			cBase := (row/2)*cStride + (col/2)*cPix
			v := int(sample(cp.Data, cBase, neutralChroma))
			u := int(sample(cp.Data, cBase+1, neutralChroma))
			r, g, b := yuvToRGB(y, u, v)
			setRGB(img, col, row, r, g, b)
		}
	}
	return img
}

// decodeNV21Single decodes a single buffer: luma rows followed by
// interleaved VU chroma rows at the same row stride.
func decodeNV21Single(f *RawFrame) *image.RGBA {
	p := f.Planes[0]
	yStride := stride(p, f.Width)
	chromaBase := yStride * f.Height

	img := newRaster(f.Width, f.Height)
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			y := int(sample(p.Data, row*yStride+col, 0))
			cBase := chromaBase + (row/2)*yStride + (col/2)*2
			v := int(sample(p.Data, cBase, neutralChroma))
			u := int(sample(p.Data, cBase+1, neutralChroma))
			r, g, b := yuvToRGB(y, u, v)
			setRGB(img, col, row, r, g, b)
		}
	}
	return img
}

// decodePlanar decodes three planes: luma, U and V, chroma subsampled
// 2:1 in both axes. Chroma pixel stride may exceed one on Android.
func decodePlanar(f *RawFrame) *image.RGBA {
	yp := f.Planes[0]
	up := f.Planes[1]
	vp := f.Planes[2]
	yStride := stride(yp, f.Width)
	uStride := stride(up, f.Width/2)
	vStride := stride(vp, f.Width/2)
	uPix := pixelStride(up, 1)
	vPix := pixelStride(vp, 1)

	img := newRaster(f.Width, f.Height)
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			y := int(sample(yp.Data, row*yStride+col, 0))
			u := int(sample(up.Data, (row/2)*uStride+(col/2)*uPix, neutralChroma))
			v := int(sample(vp.Data, (row/2)*vStride+(col/2)*vPix, neutralChroma))
			r, g, b := yuvToRGB(y, u, v)
			setRGB(img, col, row, r, g, b)
		}
	}
	return img
}

// decodeBGRA decodes packed four-channel data by channel reorder alone;
// no color-space math is involved.
func decodeBGRA(f *RawFrame) *image.RGBA {
	p := f.Planes[0]
	rowStride := stride(p, f.Width*4)

	img := newRaster(f.Width, f.Height)
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			base := row*rowStride + col*4
			b := sample(p.Data, base, 0)
			g := sample(p.Data, base+1, 0)
			r := sample(p.Data, base+2, 0)
			setRGB(img, col, row, r, g, b)
		}
	}
	return img
}
