package transfers

import (
	"fmt"
	"time"
)

type PixelFormat int

const (
	PixelFormatYUY2 PixelFormat = iota
	PixelFormatMJPEG
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUY2:
		return "YUY2"
	case PixelFormatMJPEG:
		return "MJPEG"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// StreamFormat is the negotiated video mode, immutable for the lifetime
// of a streaming session.
type StreamFormat struct {
	PixelFormat   PixelFormat
	Width, Height uint16
	FrameInterval time.Duration
	FormatIndex   uint8
	FrameIndex    uint8
}

// RawFrameSize is the byte count of one uncompressed frame. Zero for
// MJPEG, whose frames are self-delimiting.
func (f StreamFormat) RawFrameSize() int {
	if f.PixelFormat != PixelFormatYUY2 {
		return 0
	}
	return int(f.Width) * int(f.Height) * 2
}

// OutputFrameSize is the BGRA output size for this mode.
func (f StreamFormat) OutputFrameSize() int {
	return int(f.Width) * int(f.Height) * 4
}

func (f StreamFormat) FPS() float64 {
	if f.FrameInterval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(f.FrameInterval)
}

// NegotiatedTransport is the endpoint configuration established by
// probe/commit plus alternate selection.
type NegotiatedTransport struct {
	EndpointAddress uint8
	AlternateIndex  uint8
	// BasePacketSize and Transactions come from the endpoint's
	// wMaxPacketSize field; PacketSize is the effective per-microframe
	// byte budget the pump sizes its slots with.
	BasePacketSize uint32
	Transactions   uint32
	PacketSize     uint32

	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32

	Isochronous   bool
	HighBandwidth bool
}

// ResolutionLevel is one rung of the fallback ladder.
type ResolutionLevel struct {
	Width, Height uint16
	FrameIndex    uint8
	FPS           float64
}

// ResolutionLadder lists the device's frame sizes for one format,
// best first. Level 0 is the preferred top of the ladder.
type ResolutionLadder []ResolutionLevel

// MaxLevel is the deepest level the fallback controller may descend to.
func (l ResolutionLadder) MaxLevel() int {
	if len(l) == 0 {
		return 0
	}
	return len(l) - 1
}

// At clamps level into range and returns that rung.
func (l ResolutionLadder) At(level int) ResolutionLevel {
	if len(l) == 0 {
		return ResolutionLevel{Width: 320, Height: 240}
	}
	if level < 0 {
		level = 0
	}
	if level >= len(l) {
		level = len(l) - 1
	}
	return l[level]
}
