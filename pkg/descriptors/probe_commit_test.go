package descriptors

import (
	"bytes"
	"testing"
	"time"
)

func TestVideoProbeCommitControl_RoundTrip(t *testing.T) {
	original := &VideoProbeCommitControl{
		HintBitmask:            ProbeHintFrameInterval,
		FormatIndex:            1,
		FrameIndex:             2,
		FrameInterval:          33333300 * time.Nanosecond, // ~30fps
		CompQuality:            5000,
		Delay:                  100,
		MaxVideoFrameSize:      1920 * 1080 * 2,
		MaxPayloadTransferSize: 3072,
		ClockFrequency:         48000000,
		FramingInfoBitmask:     0x01,
		PreferedVersion:        0x01,
		MaxVersion:             0x01,
	}

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(data) != ProbeCommitSizeUVC11 {
		t.Fatalf("MarshalBinary length = %d, want %d", len(data), ProbeCommitSizeUVC11)
	}

	decoded := &VideoProbeCommitControl{}
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}

	if *decoded != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestVideoProbeCommitControl_Idempotent(t *testing.T) {
	// Committing the same block twice must produce identical bytes.
	vpcc := &VideoProbeCommitControl{
		FormatIndex:            2,
		FrameIndex:             1,
		FrameInterval:          333333 * 100 * time.Nanosecond,
		MaxVideoFrameSize:      640 * 480 * 2,
		MaxPayloadTransferSize: 1024,
	}
	first := make([]byte, ProbeCommitSizeUVC10)
	second := make([]byte, ProbeCommitSizeUVC10)
	if err := vpcc.MarshalInto(first); err != nil {
		t.Fatal(err)
	}
	round := &VideoProbeCommitControl{}
	if err := round.UnmarshalBinary(first); err != nil {
		t.Fatal(err)
	}
	if err := round.MarshalInto(second); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("marshal not idempotent:\n first %x\nsecond %x", first, second)
	}
}

func TestVideoProbeCommitControl_UVC10Layout(t *testing.T) {
	buf := make([]byte, ProbeCommitSizeUVC10)
	buf[2] = 1                                                  // FormatIndex
	buf[3] = 2                                                  // FrameIndex
	buf[4], buf[5], buf[6], buf[7] = 0x15, 0x16, 0x05, 0x00     // 333333 x 100ns
	buf[18], buf[19], buf[20], buf[21] = 0x00, 0x00, 0x10, 0x00 // 1048576

	vpcc := &VideoProbeCommitControl{}
	if err := vpcc.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if vpcc.FormatIndex != 1 || vpcc.FrameIndex != 2 {
		t.Errorf("indexes = %d/%d, want 1/2", vpcc.FormatIndex, vpcc.FrameIndex)
	}
	if vpcc.FrameInterval != 333333*100*time.Nanosecond {
		t.Errorf("FrameInterval = %v, want 33.3333ms", vpcc.FrameInterval)
	}
	if vpcc.MaxVideoFrameSize != 1048576 {
		t.Errorf("MaxVideoFrameSize = %d, want 1048576", vpcc.MaxVideoFrameSize)
	}
	// 1.1 tail must stay zero when absent from the wire.
	if vpcc.ClockFrequency != 0 || vpcc.PreferedVersion != 0 {
		t.Error("UVC 1.1 fields populated from a 26-byte block")
	}
}

func TestVideoProbeCommitControl_ByteOrder(t *testing.T) {
	vpcc := &VideoProbeCommitControl{
		HintBitmask:       0x1234,
		MaxVideoFrameSize: 0xDEADBEEF,
	}
	data, _ := vpcc.MarshalBinary()
	if data[0] != 0x34 || data[1] != 0x12 {
		t.Errorf("HintBitmask bytes = [%02x %02x], want [34 12]", data[0], data[1])
	}
	if !bytes.Equal(data[18:22], []byte{0xEF, 0xBE, 0xAD, 0xDE}) {
		t.Errorf("MaxVideoFrameSize bytes = %x, want efbeadde", data[18:22])
	}
}

func TestProbeCommitSize(t *testing.T) {
	if n := ProbeCommitSize(0x0100); n != 26 {
		t.Errorf("ProbeCommitSize(1.0) = %d, want 26", n)
	}
	if n := ProbeCommitSize(0x0110); n != 34 {
		t.Errorf("ProbeCommitSize(1.1) = %d, want 34", n)
	}
	if n := ProbeCommitSize(0x0150); n != 34 {
		t.Errorf("ProbeCommitSize(1.5) = %d, want 34", n)
	}
}
