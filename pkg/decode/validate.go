package decode

// ValidationResult classifies a raw frame before decoding.
type ValidationResult int

const (
	FrameValid ValidationResult = iota
	FrameIncomplete
	FrameNoSOI
	FrameNoEOI
	FrameTruncated
)

func (v ValidationResult) String() string {
	switch v {
	case FrameValid:
		return "valid"
	case FrameIncomplete:
		return "incomplete"
	case FrameNoSOI:
		return "no-soi"
	case FrameNoEOI:
		return "no-eoi"
	case FrameTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

const (
	// minMJPEGFrameSize rejects stubs that cannot hold a JPEG header.
	minMJPEGFrameSize = 1024

	// eoiSearchWindow is how far back from the end the EOI marker may
	// sit; devices commonly pad the tail of the last packet.
	eoiSearchWindow = 32

	// minYUY2Percent is the fraction of the nominal frame size an
	// uncompressed frame must reach. The deframer's padding rule makes
	// valid frames exact, but validation does not depend on that.
	minYUY2Percent = 90
)

// ValidateMJPEG checks the SOI marker at the start, an EOI marker
// within the last 32 bytes, and a minimum plausible size.
func ValidateMJPEG(data []byte) ValidationResult {
	if len(data) < minMJPEGFrameSize {
		return FrameTruncated
	}
	if data[0] != jpegSOI0 || data[1] != jpegSOI1 {
		return FrameNoSOI
	}
	start := len(data) - eoiSearchWindow
	if start < 0 {
		start = 0
	}
	for i := start; i+1 < len(data); i++ {
		if data[i] == jpegSOI0 && data[i+1] == jpegEOI1 {
			return FrameValid
		}
	}
	return FrameNoEOI
}

// ValidateYUY2 checks the byte count against the negotiated geometry.
func ValidateYUY2(data []byte, width, height int) ValidationResult {
	expected := width * height * 2
	if len(data) < expected*minYUY2Percent/100 {
		return FrameIncomplete
	}
	return FrameValid
}

// ValidationStats tallies outcomes per session.
type ValidationStats struct {
	Validated  uint64
	Valid      uint64
	Incomplete uint64
	NoSOI      uint64
	NoEOI      uint64
	Truncated  uint64
	Repeated   uint64
}

func (s *ValidationStats) record(v ValidationResult) {
	s.Validated++
	switch v {
	case FrameValid:
		s.Valid++
	case FrameIncomplete:
		s.Incomplete++
	case FrameNoSOI:
		s.NoSOI++
	case FrameNoEOI:
		s.NoEOI++
	case FrameTruncated:
		s.Truncated++
	}
}
