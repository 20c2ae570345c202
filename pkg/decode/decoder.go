// Package decode turns assembled raw frames into BGRA8888 images:
// YUY2 through pre-computed BT.601 lookup tables, MJPEG through an
// external JPEG codec binding. Validation runs first; failures become
// statistics, never errors, so frame delivery only ever stops on
// disconnect.
package decode

import (
	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/transfers"
)

// consecutiveInvalidWarn is how many invalid frames in a row earn a log
// line.
const consecutiveInvalidWarn = 10

// preFillByte paints the output dark blue when a failed frame is
// decoded without a cached substitute, so partial output stays
// presentable.
const preFillByte = 0x40

// Decoder converts validated raw frames to BGRA and keeps the
// last-good-frame cache.
type Decoder struct {
	jpeg        JPEGDecoder
	frameRepeat bool
	log         zerolog.Logger

	Stats ValidationStats

	consecutiveInvalid uint32

	lastGood       []byte
	lastGoodWidth  int
	lastGoodHeight int
}

// NewDecoder builds a decoder. jpegDec may be nil for the standard
// library codec. frameRepeat substitutes the last good frame when
// validation fails; disabled, failed frames decode over a dark
// pre-fill instead.
func NewDecoder(jpegDec JPEGDecoder, frameRepeat bool, log zerolog.Logger) *Decoder {
	return &Decoder{jpeg: jpegDec, frameRepeat: frameRepeat, log: log}
}

// Validate classifies a raw frame for the negotiated format.
func (d *Decoder) Validate(frame []byte, format transfers.StreamFormat) ValidationResult {
	var v ValidationResult
	if format.PixelFormat == transfers.PixelFormatMJPEG {
		v = ValidateMJPEG(frame)
	} else {
		v = ValidateYUY2(frame, int(format.Width), int(format.Height))
	}
	d.Stats.record(v)
	if v == FrameValid {
		d.consecutiveInvalid = 0
	} else {
		d.consecutiveInvalid++
		if d.consecutiveInvalid == consecutiveInvalidWarn {
			d.log.Warn().
				Uint32("consecutive", d.consecutiveInvalid).
				Str("result", v.String()).
				Msg("sustained invalid frames")
		}
	}
	return v
}

// Decode validates and converts one raw frame into out, which must hold
// width*height*4 bytes. A valid frame overwrites the whole buffer, so
// no pre-fill happens on that path. Validation failures fall back to
// the cached last-good frame when frame repeat is on, else the buffer
// is pre-filled and the decode attempted anyway. Decode returns no
// error either way, so delivery continues.
func (d *Decoder) Decode(frame []byte, format transfers.StreamFormat, out []byte) {
	w, h := int(format.Width), int(format.Height)
	v := d.Validate(frame, format)

	if v != FrameValid {
		if d.frameRepeat && d.useLastGood(out, w, h) {
			return
		}
		for i := range out {
			out[i] = preFillByte
		}
	}

	if format.PixelFormat == transfers.PixelFormatMJPEG {
		if err := DecodeMJPEGToBGRA(d.jpeg, out, frame, w, h); err != nil {
			d.log.Debug().Err(err).Msg("mjpeg decode failed")
			return
		}
	} else {
		ConvertYUY2ToBGRA(out, frame, w, h)
	}

	if v == FrameValid {
		d.cacheLastGood(out, w, h)
	}
}

// cacheLastGood stores the decoded BGRA output of the latest valid
// frame.
func (d *Decoder) cacheLastGood(out []byte, w, h int) {
	d.lastGood = append(d.lastGood[:0], out...)
	d.lastGoodWidth = w
	d.lastGoodHeight = h
}

func (d *Decoder) useLastGood(out []byte, w, h int) bool {
	if d.lastGood == nil || d.lastGoodWidth != w || d.lastGoodHeight != h || len(d.lastGood) != len(out) {
		return false
	}
	copy(out, d.lastGood)
	d.Stats.Repeated++
	return true
}

// HasLastGood reports whether a cached frame is available for repeat.
func (d *Decoder) HasLastGood() bool { return d.lastGood != nil }

// ResetCache drops the cached frame, used at resolution changes.
func (d *Decoder) ResetCache() {
	d.lastGood = nil
	d.lastGoodWidth = 0
	d.lastGoodHeight = 0
}
