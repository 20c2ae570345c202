package descriptors

import (
	"encoding/binary"
	"io"
	"time"
)

// MJPEGFormatDescriptor (VS_FORMAT_MJPEG).
type MJPEGFormatDescriptor struct {
	FormatIndex                uint8
	NumFrameDescriptors        uint8
	Flags                      uint8
	DefaultFrameIndex          uint8
	AspectRatioX, AspectRatioY uint8
	InterlaceFlags             uint8
	CopyProtect                uint8
}

func (mfd *MJPEGFormatDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 11 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeFormatMJPEG {
		return ErrInvalidDescriptor
	}
	mfd.FormatIndex = buf[3]
	mfd.NumFrameDescriptors = buf[4]
	mfd.Flags = buf[5]
	mfd.DefaultFrameIndex = buf[6]
	mfd.AspectRatioX = buf[7]
	mfd.AspectRatioY = buf[8]
	mfd.InterlaceFlags = buf[9]
	mfd.CopyProtect = buf[10]
	return nil
}

func (mfd *MJPEGFormatDescriptor) isStreamingInterface() {}
func (mfd *MJPEGFormatDescriptor) isFormatDescriptor()   {}
func (mfd *MJPEGFormatDescriptor) Index() uint8          { return mfd.FormatIndex }

// MJPEGFrameDescriptor (VS_FRAME_MJPEG).
type MJPEGFrameDescriptor struct {
	FrameIndex              uint8
	Capabilities            uint8
	Width, Height           uint16
	MinBitRate, MaxBitRate  uint32
	MaxVideoFrameBufferSize uint32
	DefaultFrameInterval    time.Duration

	ContinuousFrameInterval struct {
		MinFrameInterval, MaxFrameInterval, FrameIntervalStep time.Duration
	}
	DiscreteFrameIntervals []time.Duration
}

func (mfd *MJPEGFrameDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 26 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeFrameMJPEG {
		return ErrInvalidDescriptor
	}
	mfd.FrameIndex = buf[3]
	mfd.Capabilities = buf[4]
	mfd.Width = binary.LittleEndian.Uint16(buf[5:7])
	mfd.Height = binary.LittleEndian.Uint16(buf[7:9])
	mfd.MinBitRate = binary.LittleEndian.Uint32(buf[9:13])
	mfd.MaxBitRate = binary.LittleEndian.Uint32(buf[13:17])
	mfd.MaxVideoFrameBufferSize = binary.LittleEndian.Uint32(buf[17:21])
	mfd.DefaultFrameInterval = frameInterval(buf[21:25])
	var err error
	mfd.ContinuousFrameInterval.MinFrameInterval,
		mfd.ContinuousFrameInterval.MaxFrameInterval,
		mfd.ContinuousFrameInterval.FrameIntervalStep,
		mfd.DiscreteFrameIntervals, err = frameIntervals(buf[25:])
	return err
}

func (mfd *MJPEGFrameDescriptor) isStreamingInterface() {}
func (mfd *MJPEGFrameDescriptor) isFrameDescriptor()    {}
func (mfd *MJPEGFrameDescriptor) Index() uint8          { return mfd.FrameIndex }
func (mfd *MJPEGFrameDescriptor) Size() (uint16, uint16) {
	return mfd.Width, mfd.Height
}
