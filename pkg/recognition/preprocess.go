package recognition

import (
	"image"

	"golang.org/x/image/draw"
)

// regionPadding is the fraction of the box width added on every side.
// Context beyond the tight detector box improves embedding robustness.
const regionPadding = 0.2

// Normalization constants for the embedding model input. These must
// exactly match the normalization the model was trained with; a deviation
// silently degrades match accuracy without raising an error, so they are
// a compatibility contract, not tunables.
const (
	normMean  = 127.5
	normScale = 128.0
)

// Orient applies rotation (0/90/180/270 degrees clockwise) and then
// horizontal mirroring to a raster. Rotation must happen before
// mirroring: the reverse order produces an incorrectly handed image.
func Orient(img *image.RGBA, rotationDegrees int, mirror bool) *image.RGBA {
	out := rotate(img, rotationDegrees)
	if mirror {
		out = mirrorHorizontal(out)
	}
	return out
}

// Prepare crops a detected face region out of the raster and produces the
// fixed-size model input tensor. The raster is oriented first (rotation,
// then mirror for front cameras); region coordinates refer to the
// oriented raster. The region is expanded by 20% of its width on all
// sides and clamped to the raster bounds before a deterministic bilinear
// resize to 112x112.
func Prepare(img *image.RGBA, region FaceRegion, frontFacing bool, rotationDegrees int) (Tensor, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, ErrEmptyRegion
	}

	oriented := Orient(img, rotationDegrees, frontFacing)

	pad := int(float64(region.Width) * regionPadding)
	expanded := image.Rect(
		region.Left-pad,
		region.Top-pad,
		region.Left+region.Width+pad,
		region.Top+region.Height+pad,
	)
	crop := expanded.Intersect(oriented.Bounds())
	if crop.Dx() <= 0 || crop.Dy() <= 0 {
		return nil, ErrEmptyRegion
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), oriented, crop, draw.Src, nil)

	t := make(Tensor, InputSize*InputSize*TensorChannels)
	i := 0
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			off := dst.PixOffset(x, y)
			for c := 0; c < TensorChannels; c++ {
				t[i] = (float32(dst.Pix[off+c]) - normMean) / normScale
				i++
			}
		}
	}
	return t, nil
}

func rotate(img *image.RGBA, degrees int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch degrees % 360 {
	case 90:
		out := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(out, h-1-y, x, img, b.Min.X+x, b.Min.Y+y)
			}
		}
		return out
	case 180:
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(out, w-1-x, h-1-y, img, b.Min.X+x, b.Min.Y+y)
			}
		}
		return out
	case 270:
		out := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(out, y, w-1-x, img, b.Min.X+x, b.Min.Y+y)
			}
		}
		return out
	default:
		return img
	}
}

func mirrorHorizontal(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			copyPixel(out, w-1-x, y, img, b.Min.X+x, b.Min.Y+y)
		}
	}
	return out
}

func copyPixel(dst *image.RGBA, dx, dy int, src *image.RGBA, sx, sy int) {
	d := dst.PixOffset(dx, dy)
	s := src.PixOffset(sx, sy)
	copy(dst.Pix[d:d+4], src.Pix[s:s+4])
}
