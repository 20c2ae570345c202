package transfers

import (
	"encoding/binary"
	"errors"
	"io"
)

// UVC payload header flag bits (byte 1 of every packet).
const (
	HeaderFlagFID uint8 = 0x01
	HeaderFlagEOF uint8 = 0x02
	HeaderFlagPTS uint8 = 0x04
	HeaderFlagSCR uint8 = 0x08
	HeaderFlagERR uint8 = 0x40
	HeaderFlagEOH uint8 = 0x80
)

const (
	MinHeaderLength = 2
	MaxHeaderLength = 12
)

var ErrInvalidPayloadHeader = errors.New("invalid payload header")

// Payload is one parsed UVC payload packet: the header fields plus the
// raw payload bytes that follow the header.
type Payload struct {
	HeaderLength      uint8
	HeaderInfoBitmask uint8
	PTS               uint32
	SCR               struct {
		SourceTimeClock uint32
		TokenCounter    uint16
	}
	Data []byte
}

func (p *Payload) FrameID() bool {
	return p.HeaderInfoBitmask&HeaderFlagFID != 0
}

func (p *Payload) EndOfFrame() bool {
	return p.HeaderInfoBitmask&HeaderFlagEOF != 0
}

func (p *Payload) HasPTS() bool {
	return p.HeaderInfoBitmask&HeaderFlagPTS != 0
}

func (p *Payload) HasSCR() bool {
	return p.HeaderInfoBitmask&HeaderFlagSCR != 0
}

func (p *Payload) Error() bool {
	return p.HeaderInfoBitmask&HeaderFlagERR != 0
}

func (p *Payload) EndOfHeader() bool {
	return p.HeaderInfoBitmask&HeaderFlagEOH != 0
}

// ExpectedHeaderLength is the header size the flag bits imply: 2 bytes
// base, +4 with PTS, +6 with SCR. Devices that disagree get a warning
// from the deframer but are still parsed by the declared length.
func (p *Payload) ExpectedHeaderLength() int {
	n := MinHeaderLength
	if p.HasPTS() {
		n += 4
	}
	if p.HasSCR() {
		n += 6
	}
	return n
}

// HeaderConsistent reports whether the declared header length matches
// what the flag bits imply.
func (p *Payload) HeaderConsistent() bool {
	return int(p.HeaderLength) == p.ExpectedHeaderLength()
}

// UnmarshalBinary parses one packet. The declared header length must be
// within 2..12 and fit inside the packet; anything else is rejected
// without touching the receiver's Data.
func (p *Payload) UnmarshalBinary(buf []byte) error {
	if len(buf) < MinHeaderLength {
		return io.ErrShortBuffer
	}
	hl := buf[0]
	if hl < MinHeaderLength || hl > MaxHeaderLength || int(hl) > len(buf) {
		return ErrInvalidPayloadHeader
	}
	p.HeaderLength = hl
	p.HeaderInfoBitmask = buf[1]
	offset := 2
	if p.HasPTS() && offset+4 <= int(hl) {
		p.PTS = binary.LittleEndian.Uint32(buf[offset : offset+4])
		offset += 4
	}
	if p.HasSCR() && offset+6 <= int(hl) {
		p.SCR.SourceTimeClock = binary.LittleEndian.Uint32(buf[offset : offset+4])
		p.SCR.TokenCounter = binary.LittleEndian.Uint16(buf[offset+4 : offset+6])
	}
	p.Data = buf[hl:]
	return nil
}
