package core

import (
	"bytes"
	"image"
	"image/draw"

	"github.com/gen2brain/webp"
)

// WebPFilter encodes/decodes RGBA pixel chunks (4 bytes per pixel,
// exactly Width*Height pixels; RGB input is not accepted) as WebP
// images, for image-typed attributes. Pack-grounded on pspoerri-geotiff2pmtiles's
// decode.go, which uses gen2brain/webp as the pure-Go (cgo-free)
// alternative to native libwebp; we use it exclusively so the module
// has no cgo dependency, matching the teacher's own cgo-free build.
type WebPFilter struct {
	Width, Height int
	Lossless      bool
	Quality       float32
}

func NewWebPFilter(width, height int, lossless bool, quality float32) *WebPFilter {
	if quality == 0 {
		quality = 85
	}
	return &WebPFilter{Width: width, Height: height, Lossless: lossless, Quality: quality}
}

func (f *WebPFilter) Kind() FilterKind { return FilterWebP }

func (f *WebPFilter) Forward(_ Datatype, chunk []byte) ([]byte, []byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, nil, errf(ErrCodec, nil, "webp: width/height not configured")
	}
	expected := f.Width * f.Height * 4
	if len(chunk) != expected {
		return nil, nil, errf(ErrCodec, nil, "webp: chunk is %d bytes, want %d (RGBA %dx%d)", len(chunk), expected, f.Width, f.Height)
	}
	img := &image.NRGBA{Pix: chunk, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}
	var buf bytes.Buffer
	opts := webp.Options{Lossless: f.Lossless, Quality: float32(f.Quality)}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, nil, errf(ErrCodec, err, "webp encode failed")
	}
	return buf.Bytes(), nil, nil
}

func (f *WebPFilter) Reverse(_ Datatype, filtered, _ []byte, originalSize int) ([]byte, error) {
	img, err := webp.Decode(bytes.NewReader(filtered))
	if err != nil {
		return nil, errf(ErrCodec, err, "webp decode failed")
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		b := img.Bounds()
		dst := image.NewNRGBA(b)
		draw.Draw(dst, b, img, b.Min, draw.Src)
		nrgba = dst
	}
	if len(nrgba.Pix) != originalSize {
		out := make([]byte, originalSize)
		copy(out, nrgba.Pix)
		return out, nil
	}
	return nrgba.Pix, nil
}
