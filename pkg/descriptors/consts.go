package descriptors

import "errors"

var (
	ErrInvalidDescriptor     = errors.New("invalid descriptor")
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor subtype")
)

type ClassCode byte

const (
	ClassCodeAudio ClassCode = 0x01
	ClassCodeVideo ClassCode = 0x0E
)

type SubclassCode byte

const (
	SubclassCodeUndefined                SubclassCode = 0x00
	SubclassCodeVideoControl             SubclassCode = 0x01
	SubclassCodeVideoStreaming           SubclassCode = 0x02
	SubclassCodeVideoInterfaceCollection SubclassCode = 0x03
)

type AudioSubclassCode byte

const (
	AudioSubclassCodeUndefined      AudioSubclassCode = 0x00
	AudioSubclassCodeAudioControl   AudioSubclassCode = 0x01
	AudioSubclassCodeAudioStreaming AudioSubclassCode = 0x02
	AudioSubclassCodeMIDIStreaming  AudioSubclassCode = 0x03
)

type ClassSpecificDescriptorType int

const (
	ClassSpecificDescriptorTypeUndefined     ClassSpecificDescriptorType = 0x20
	ClassSpecificDescriptorTypeDevice        ClassSpecificDescriptorType = 0x21
	ClassSpecificDescriptorTypeConfiguration ClassSpecificDescriptorType = 0x22
	ClassSpecificDescriptorTypeString        ClassSpecificDescriptorType = 0x23
	ClassSpecificDescriptorTypeInterface     ClassSpecificDescriptorType = 0x24
	ClassSpecificDescriptorTypeEndpoint      ClassSpecificDescriptorType = 0x25
)

// BinaryCodedDecimal holds a bcdUVC / bcdADC version field. 0x0100 is
// UVC 1.0, anything above selects the 34-byte probe/commit layout.
type BinaryCodedDecimal uint16

func (bcd BinaryCodedDecimal) Major() int { return int(bcd >> 8) }
func (bcd BinaryCodedDecimal) Minor() int { return int(bcd & 0xFF) }

func copyGUID(dst []byte, src []byte) {
	// GUID wire layout per UVC spec 1.5 section 2.9: first three groups
	// little-endian, the remainder byte-for-byte.
	dst[0] = src[3]
	dst[1] = src[2]
	dst[2] = src[1]
	dst[3] = src[0]
	dst[4] = src[5]
	dst[5] = src[4]
	dst[6] = src[7]
	dst[7] = src[6]
	copy(dst[8:16], src[8:16])
}
