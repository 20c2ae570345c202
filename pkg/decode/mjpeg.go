package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// JPEG markers.
const (
	jpegSOI0 = 0xFF
	jpegSOI1 = 0xD8
	jpegEOI1 = 0xD9
)

// soiScanLimit bounds the search for the JPEG start marker: UVC
// payloads may carry a small non-JPEG prefix.
const soiScanLimit = 2048

// JPEGDecoder turns one JPEG byte stream into an image. The default
// binding is the standard library codec; a cgo turbo-jpeg binding can
// be dropped in without touching callers.
type JPEGDecoder func(data []byte) (image.Image, error)

func stdJPEGDecode(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// FindSOI locates the JPEG start-of-image marker within the first
// min(len(data), 2048) bytes. Returns -1 when absent.
func FindSOI(data []byte) int {
	limit := len(data)
	if limit > soiScanLimit {
		limit = soiScanLimit
	}
	for i := 0; i+1 < limit; i++ {
		if data[i] == jpegSOI0 && data[i+1] == jpegSOI1 {
			return i
		}
	}
	return -1
}

// DecodeMJPEGToBGRA decodes one MJPEG frame into a BGRA buffer laid out
// for the negotiated width and height. If the embedded JPEG has
// different dimensions it is decoded at its own size with a matching
// pitch into the top-left corner; nothing is stretched.
func DecodeMJPEGToBGRA(dec JPEGDecoder, dst []byte, src []byte, width, height int) error {
	if dec == nil {
		dec = stdJPEGDecode
	}
	off := FindSOI(src)
	if off < 0 {
		return fmt.Errorf("mjpeg: no SOI marker in frame")
	}
	img, err := dec(src[off:])
	if err != nil {
		return fmt.Errorf("mjpeg: decode failed: %w", err)
	}
	b := img.Bounds()
	jw, jh := b.Dx(), b.Dy()
	if jw > width || jh > height {
		return fmt.Errorf("mjpeg: embedded JPEG %dx%d exceeds negotiated %dx%d", jw, jh, width, height)
	}

	// Rows are written at the negotiated stride; a smaller JPEG lands in
	// the top-left corner over whatever the caller pre-filled.
	dstStride := width * 4
	switch ycc := img.(type) {
	case *image.YCbCr:
		decodeYCbCrToBGRA(dst, ycc, jw, jh, dstStride)
	default:
		for y := 0; y < jh; y++ {
			row := dst[y*dstStride:]
			for x := 0; x < jw; x++ {
				r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				row[x*4+0] = uint8(bb >> 8)
				row[x*4+1] = uint8(g >> 8)
				row[x*4+2] = uint8(r >> 8)
				row[x*4+3] = 255
			}
		}
	}
	return nil
}

// decodeYCbCrToBGRA is the fast path for the stdlib codec's native
// output, reusing the same BT.601 tables as the YUY2 converter.
func decodeYCbCrToBGRA(dst []byte, img *image.YCbCr, width, height, dstStride int) {
	t := yuvLookup()
	b := img.Bounds()
	for y := 0; y < height; y++ {
		row := dst[y*dstStride:]
		yBase := img.YOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < width; x++ {
			yy := img.Y[yBase+x]
			ci := img.COffset(b.Min.X+x, b.Min.Y+y)
			cb := img.Cb[ci]
			cr := img.Cr[ci]

			yVal := t.y[yy]
			row[x*4+0] = clamp8((yVal + t.uB[cb] + 128) >> 8)
			row[x*4+1] = clamp8((yVal + t.uG[cb] + t.vG[cr] + 128) >> 8)
			row[x*4+2] = clamp8((yVal + t.vR[cr] + 128) >> 8)
			row[x*4+3] = 255
		}
	}
}
