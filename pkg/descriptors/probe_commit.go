package descriptors

import (
	"encoding/binary"
	"io"
	"time"
)

// Hint bit marking dwFrameInterval as the field the host wants the
// device to keep fixed during negotiation.
const ProbeHintFrameInterval uint16 = 0x0001

// VideoProbeCommitControl is the VS_PROBE_CONTROL / VS_COMMIT_CONTROL
// data block. UVC 1.0 devices use the 26-byte layout; 1.1 and later
// append 8 bytes.
type VideoProbeCommitControl struct {
	HintBitmask            uint16
	FormatIndex            uint8
	FrameIndex             uint8
	FrameInterval          time.Duration
	KeyFrameRate           uint16
	PFrameRate             uint16
	CompQuality            uint16
	CompWindowSize         uint16
	Delay                  uint16
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32

	// UVC 1.1 extension.
	ClockFrequency     uint32
	FramingInfoBitmask uint8
	PreferedVersion    uint8
	MinVersion         uint8
	MaxVersion         uint8
}

const (
	ProbeCommitSizeUVC10 = 26
	ProbeCommitSizeUVC11 = 34
)

// ProbeCommitSize returns the control block length for a device version.
func ProbeCommitSize(bcdUVC BinaryCodedDecimal) int {
	if uint16(bcdUVC) > 0x0100 {
		return ProbeCommitSizeUVC11
	}
	return ProbeCommitSizeUVC10
}

func (vpcc *VideoProbeCommitControl) MarshalInto(buf []byte) error {
	if len(buf) < ProbeCommitSizeUVC10 {
		return io.ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(buf[0:2], vpcc.HintBitmask)
	buf[2] = vpcc.FormatIndex
	buf[3] = vpcc.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], uint32(vpcc.FrameInterval/(100*time.Nanosecond)))
	binary.LittleEndian.PutUint16(buf[8:10], vpcc.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], vpcc.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], vpcc.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], vpcc.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], vpcc.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], vpcc.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], vpcc.MaxPayloadTransferSize)
	if len(buf) >= ProbeCommitSizeUVC11 {
		binary.LittleEndian.PutUint32(buf[26:30], vpcc.ClockFrequency)
		buf[30] = vpcc.FramingInfoBitmask
		buf[31] = vpcc.PreferedVersion
		buf[32] = vpcc.MinVersion
		buf[33] = vpcc.MaxVersion
	}
	return nil
}

func (vpcc *VideoProbeCommitControl) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ProbeCommitSizeUVC11)
	return buf, vpcc.MarshalInto(buf)
}

func (vpcc *VideoProbeCommitControl) UnmarshalBinary(buf []byte) error {
	// Not length-prefixed: the transport unwraps control transfers.
	if len(buf) < ProbeCommitSizeUVC10 {
		return io.ErrShortBuffer
	}
	vpcc.HintBitmask = binary.LittleEndian.Uint16(buf[0:2])
	vpcc.FormatIndex = buf[2]
	vpcc.FrameIndex = buf[3]
	vpcc.FrameInterval = time.Duration(binary.LittleEndian.Uint32(buf[4:8])) * 100 * time.Nanosecond
	vpcc.KeyFrameRate = binary.LittleEndian.Uint16(buf[8:10])
	vpcc.PFrameRate = binary.LittleEndian.Uint16(buf[10:12])
	vpcc.CompQuality = binary.LittleEndian.Uint16(buf[12:14])
	vpcc.CompWindowSize = binary.LittleEndian.Uint16(buf[14:16])
	vpcc.Delay = binary.LittleEndian.Uint16(buf[16:18])
	vpcc.MaxVideoFrameSize = binary.LittleEndian.Uint32(buf[18:22])
	vpcc.MaxPayloadTransferSize = binary.LittleEndian.Uint32(buf[22:26])
	if len(buf) >= ProbeCommitSizeUVC11 {
		vpcc.ClockFrequency = binary.LittleEndian.Uint32(buf[26:30])
		vpcc.FramingInfoBitmask = buf[30]
		vpcc.PreferedVersion = buf[31]
		vpcc.MinVersion = buf[32]
		vpcc.MaxVersion = buf[33]
	}
	return nil
}
