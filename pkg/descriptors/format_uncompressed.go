package descriptors

import (
	"encoding/binary"
	"io"
	"time"
)

// UncompressedFormatDescriptor (VS_FORMAT_UNCOMPRESSED). The GUID
// identifies the pixel layout; only YUY2 is streamed here.
type UncompressedFormatDescriptor struct {
	FormatIndex           uint8
	NumFrameDescriptors   uint8
	GUIDFormat            [16]byte
	BitsPerPixel          uint8
	DefaultFrameIndex     uint8
	AspectRatioX          uint8
	AspectRatioY          uint8
	InterlaceFlagsBitmask uint8
	CopyProtect           uint8
}

func (ufd *UncompressedFormatDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 27 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeFormatUncompressed {
		return ErrInvalidDescriptor
	}
	ufd.FormatIndex = buf[3]
	ufd.NumFrameDescriptors = buf[4]
	copy(ufd.GUIDFormat[:], buf[5:21])
	ufd.BitsPerPixel = buf[21]
	ufd.DefaultFrameIndex = buf[22]
	ufd.AspectRatioX = buf[23]
	ufd.AspectRatioY = buf[24]
	ufd.InterlaceFlagsBitmask = buf[25]
	ufd.CopyProtect = buf[26]
	return nil
}

func (ufd *UncompressedFormatDescriptor) isStreamingInterface() {}
func (ufd *UncompressedFormatDescriptor) isFormatDescriptor()   {}
func (ufd *UncompressedFormatDescriptor) Index() uint8          { return ufd.FormatIndex }

// UncompressedFrameDescriptor (VS_FRAME_UNCOMPRESSED).
type UncompressedFrameDescriptor struct {
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

func (ufd *UncompressedFrameDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 26 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoStreamingInterfaceDescriptorSubtype(buf[2]) != VideoStreamingInterfaceDescriptorSubtypeFrameUncompressed {
		return ErrInvalidDescriptor
	}
	ufd.FrameIndex = buf[3]
	ufd.Capabilities = buf[4]
	ufd.Width = binary.LittleEndian.Uint16(buf[5:7])
	ufd.Height = binary.LittleEndian.Uint16(buf[7:9])
	ufd.MinBitRate = binary.LittleEndian.Uint32(buf[9:13])
	ufd.MaxBitRate = binary.LittleEndian.Uint32(buf[13:17])
	ufd.MaxVideoFrameBufferSize = binary.LittleEndian.Uint32(buf[17:21])
	ufd.DefaultFrameInterval = frameInterval(buf[21:25])
	var err error
	ufd.ContinuousFrameInterval.MinFrameInterval,
		ufd.ContinuousFrameInterval.MaxFrameInterval,
		ufd.ContinuousFrameInterval.FrameIntervalStep,
		ufd.DiscreteFrameIntervals, err = frameIntervals(buf[25:])
	return err
}

func (ufd *UncompressedFrameDescriptor) isStreamingInterface() {}
func (ufd *UncompressedFrameDescriptor) isFrameDescriptor()    {}
func (ufd *UncompressedFrameDescriptor) Index() uint8          { return ufd.FrameIndex }
func (ufd *UncompressedFrameDescriptor) Size() (uint16, uint16) {
	return ufd.Width, ufd.Height
}

func frameInterval(buf []byte) time.Duration {
	return time.Duration(binary.LittleEndian.Uint32(buf)) * 100 * time.Nanosecond
}

// frameIntervals decodes the tail of a frame descriptor: either a
// continuous min/max/step triple (interval count 0) or a discrete list.
func frameIntervals(buf []byte) (min, max, step time.Duration, discrete []time.Duration, err error) {
	n := int(buf[0])
	if n == 0 {
		if len(buf) < 13 {
			return 0, 0, 0, nil, io.ErrShortBuffer
		}
		return frameInterval(buf[1:5]), frameInterval(buf[5:9]), frameInterval(buf[9:13]), nil, nil
	}
	if len(buf) < 1+4*n {
		return 0, 0, 0, nil, io.ErrShortBuffer
	}
	discrete = make([]time.Duration, n)
	for i := 0; i < n; i++ {
		discrete[i] = frameInterval(buf[1+4*i : 5+4*i])
	}
	return 0, 0, 0, discrete, nil
}
