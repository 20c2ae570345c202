// Video Streaming interface descriptors, UVC spec 1.5 section 3.9.
package descriptors

import (
	"encoding"
	"encoding/binary"
	"io"
)

type StreamingInterface interface {
	encoding.BinaryUnmarshaler
	isStreamingInterface()
}

type FormatDescriptor interface {
	StreamingInterface
	isFormatDescriptor()
	Index() uint8
}

type FrameDescriptor interface {
	StreamingInterface
	isFrameDescriptor()
	Index() uint8
	Size() (width, height uint16)
}

type VideoStreamingInterfaceDescriptorSubtype byte

const (
	VideoStreamingInterfaceDescriptorSubtypeUndefined          VideoStreamingInterfaceDescriptorSubtype = 0x00
	VideoStreamingInterfaceDescriptorSubtypeInputHeader        VideoStreamingInterfaceDescriptorSubtype = 0x01
	VideoStreamingInterfaceDescriptorSubtypeOutputHeader       VideoStreamingInterfaceDescriptorSubtype = 0x02
	VideoStreamingInterfaceDescriptorSubtypeStillImageFrame    VideoStreamingInterfaceDescriptorSubtype = 0x03
	VideoStreamingInterfaceDescriptorSubtypeFormatUncompressed VideoStreamingInterfaceDescriptorSubtype = 0x04
	VideoStreamingInterfaceDescriptorSubtypeFrameUncompressed  VideoStreamingInterfaceDescriptorSubtype = 0x05
	VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG        VideoStreamingInterfaceDescriptorSubtype = 0x06
	VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG         VideoStreamingInterfaceDescriptorSubtype = 0x07
	VideoStreamingInterfaceDescriptorSubtypeColorFormat        VideoStreamingInterfaceDescriptorSubtype = 0x0D
)

// UnmarshalStreamingInterface parses one class-specific VS descriptor
// block. Subtypes outside the YUY2/MJPEG streaming set are reported as
// ErrUnsupportedDescriptor so callers can skip them.
func UnmarshalStreamingInterface(buf []byte) (StreamingInterface, error) {
	if len(buf) < 3 {
		return nil, io.ErrShortBuffer
	}
	var desc StreamingInterface
	switch VideoStreamingInterfaceDescriptorSubtype(buf[2]) {
	case VideoStreamingInterfaceDescriptorSubtypeInputHeader:
		desc = &InputHeaderDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFormatUncompressed:
		desc = &UncompressedFormatDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFrameUncompressed:
		desc = &UncompressedFrameDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG:
		desc = &MJPEGFormatDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG:
		desc = &MJPEGFrameDescriptor{}
	case VideoStreamingInterfaceDescriptorSubtypeColorFormat:
		desc = &ColorMatchingDescriptor{}
	default:
		return nil, ErrUnsupportedDescriptor
	}
	return desc, desc.UnmarshalBinary(buf)
}

// InputHeaderDescriptor (VS_INPUT_HEADER) names the streaming endpoint
// and per-format control bitmasks.
type InputHeaderDescriptor struct {
	TotalLength        uint16
	EndpointAddress    uint8
	InfoBitmask        uint8
	TerminalLink       uint8
	StillCaptureMethod uint8
	TriggerSupport     uint8
	TriggerUsage       uint8
	ControlBitmasks    [][]byte
}

func (ihd *InputHeaderDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 13 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeInputHeader {
		return ErrInvalidDescriptor
	}
	p := int(buf[3])
	ihd.TotalLength = binary.LittleEndian.Uint16(buf[4:6])
	ihd.EndpointAddress = buf[6]
	ihd.InfoBitmask = buf[7]
	ihd.TerminalLink = buf[8]
	ihd.StillCaptureMethod = buf[9]
	ihd.TriggerSupport = buf[10]
	ihd.TriggerUsage = buf[11]
	n := int(buf[12])
	if len(buf) < 13+p*n {
		return io.ErrShortBuffer
	}
	ihd.ControlBitmasks = make([][]byte, p)
	for i := 0; i < p; i++ {
		ihd.ControlBitmasks[i] = append([]byte(nil), buf[13+i*n:13+(i+1)*n]...)
	}
	return nil
}

func (ihd *InputHeaderDescriptor) isStreamingInterface() {}

// ColorMatchingDescriptor (VS_COLORFORMAT).
type ColorMatchingDescriptor struct {
	ColorPrimaries          uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
}

func (cmd *ColorMatchingDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 6 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeColorFormat {
		return ErrInvalidDescriptor
	}
	cmd.ColorPrimaries = buf[3]
	cmd.TransferCharacteristics = buf[4]
	cmd.MatrixCoefficients = buf[5]
	return nil
}

func (cmd *ColorMatchingDescriptor) isStreamingInterface() {}
