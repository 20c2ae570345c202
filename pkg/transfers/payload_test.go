package transfers

import (
	"io"
	"testing"
)

func TestPayloadUnmarshalBinary_MinimalHeader(t *testing.T) {
	buf := []byte{2, 0x80, 0xDE, 0xAD, 0xBE, 0xEF}

	p := &Payload{}
	if err := p.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if p.HeaderInfoBitmask != 0x80 {
		t.Errorf("HeaderInfoBitmask = %02x, want 80", p.HeaderInfoBitmask)
	}
	if p.HasPTS() || p.HasSCR() {
		t.Error("PTS/SCR flagged on a minimal header")
	}
	if !p.EndOfHeader() {
		t.Error("EndOfHeader() = false, want true")
	}
	if len(p.Data) != 4 || p.Data[0] != 0xDE {
		t.Errorf("Data = %x, want deadbeef", p.Data)
	}
	if !p.HeaderConsistent() {
		t.Error("HeaderConsistent() = false for a matching header")
	}
}

func TestPayloadUnmarshalBinary_WithPTS(t *testing.T) {
	buf := []byte{
		6,
		0x04,
		0x01, 0x02, 0x03, 0x04,
		0xAA, 0xBB,
	}
	p := &Payload{}
	if err := p.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if !p.HasPTS() || p.HasSCR() {
		t.Error("flag decode wrong for PTS-only header")
	}
	if p.PTS != 0x04030201 {
		t.Errorf("PTS = %08x, want 04030201", p.PTS)
	}
	if len(p.Data) != 2 {
		t.Errorf("Data length = %d, want 2", len(p.Data))
	}
}

func TestPayloadUnmarshalBinary_WithPTSAndSCR(t *testing.T) {
	buf := []byte{
		12,
		0x0C,
		0x01, 0x02, 0x03, 0x04,
		0x11, 0x22, 0x33, 0x44,
		0x55, 0x66,
		0xEE, 0xFF,
	}
	p := &Payload{}
	if err := p.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if p.PTS != 0x04030201 {
		t.Errorf("PTS = %08x, want 04030201", p.PTS)
	}
	if p.SCR.SourceTimeClock != 0x44332211 {
		t.Errorf("SourceTimeClock = %08x, want 44332211", p.SCR.SourceTimeClock)
	}
	if p.SCR.TokenCounter != 0x6655 {
		t.Errorf("TokenCounter = %04x, want 6655", p.SCR.TokenCounter)
	}
	if len(p.Data) != 2 {
		t.Errorf("Data length = %d, want 2", len(p.Data))
	}
}

func TestPayloadUnmarshalBinary_HeaderOnly(t *testing.T) {
	// header_length = 2 with no payload is valid and carries no data.
	buf := []byte{2, 0x01}
	p := &Payload{}
	if err := p.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if len(p.Data) != 0 {
		t.Errorf("Data length = %d, want 0", len(p.Data))
	}
}

func TestPayloadUnmarshalBinary_Invalid(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"too short", []byte{2}, io.ErrShortBuffer},
		{"header exceeds packet", []byte{10, 0x00, 0x01, 0x02, 0x03}, ErrInvalidPayloadHeader},
		{"header below minimum", []byte{1, 0x00, 0x01}, ErrInvalidPayloadHeader},
		{"header above maximum", []byte{13, 0x00, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, ErrInvalidPayloadHeader},
	}
	for _, tt := range tests {
		p := &Payload{}
		if err := p.UnmarshalBinary(tt.buf); err != tt.want {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestPayloadBitfieldAccessors(t *testing.T) {
	tests := []struct {
		bitmask  uint8
		name     string
		accessor func(*Payload) bool
		want     bool
	}{
		{0x01, "FrameID(1)", (*Payload).FrameID, true},
		{0x00, "FrameID(0)", (*Payload).FrameID, false},
		{0x02, "EndOfFrame(1)", (*Payload).EndOfFrame, true},
		{0x00, "EndOfFrame(0)", (*Payload).EndOfFrame, false},
		{0x04, "HasPTS(1)", (*Payload).HasPTS, true},
		{0x08, "HasSCR(1)", (*Payload).HasSCR, true},
		{0x40, "Error(1)", (*Payload).Error, true},
		{0x00, "Error(0)", (*Payload).Error, false},
		{0x80, "EndOfHeader(1)", (*Payload).EndOfHeader, true},
		{0xFF, "AllBits", (*Payload).FrameID, true},
	}
	for _, tt := range tests {
		p := &Payload{HeaderInfoBitmask: tt.bitmask}
		if got := tt.accessor(p); got != tt.want {
			t.Errorf("%s with bitmask %08b = %v, want %v", tt.name, tt.bitmask, got, tt.want)
		}
	}
}

func TestPayloadExpectedHeaderLength(t *testing.T) {
	tests := []struct {
		flags uint8
		want  int
	}{
		{0x00, 2},
		{0x04, 6},
		{0x08, 8},
		{0x0C, 12},
	}
	for _, tt := range tests {
		p := &Payload{HeaderInfoBitmask: tt.flags}
		if got := p.ExpectedHeaderLength(); got != tt.want {
			t.Errorf("ExpectedHeaderLength(%02x) = %d, want %d", tt.flags, got, tt.want)
		}
	}
}
