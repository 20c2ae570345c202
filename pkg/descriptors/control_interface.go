// Video Control interface descriptors, UVC spec 1.5 section 3.7.
package descriptors

import (
	"encoding"
	"encoding/binary"
	"io"
)

type ControlInterface interface {
	encoding.BinaryUnmarshaler
	isControlInterface()
}

func UnmarshalControlInterface(buf []byte) (ControlInterface, error) {
	if len(buf) < 3 {
		return nil, io.ErrShortBuffer
	}
	var desc ControlInterface
	switch VideoControlInterfaceDescriptorSubtype(buf[2]) {
	case VideoControlInterfaceDescriptorSubtypeHeader:
		desc = &HeaderDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeInputTerminal:
		desc = &InputTerminalDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeOutputTerminal:
		desc = &OutputTerminalDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeSelectorUnit:
		desc = &SelectorUnitDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeProcessingUnit:
		desc = &ProcessingUnitDescriptor{}
	case VideoControlInterfaceDescriptorSubtypeExtensionUnit:
		desc = &ExtensionUnitDescriptor{}
	default:
		return nil, ErrInvalidDescriptor
	}
	return desc, desc.UnmarshalBinary(buf)
}

type VideoControlInterfaceDescriptorSubtype byte

const (
	VideoControlInterfaceDescriptorSubtypeUndefined      VideoControlInterfaceDescriptorSubtype = 0x00
	VideoControlInterfaceDescriptorSubtypeHeader         VideoControlInterfaceDescriptorSubtype = 0x01
	VideoControlInterfaceDescriptorSubtypeInputTerminal  VideoControlInterfaceDescriptorSubtype = 0x02
	VideoControlInterfaceDescriptorSubtypeOutputTerminal VideoControlInterfaceDescriptorSubtype = 0x03
	VideoControlInterfaceDescriptorSubtypeSelectorUnit   VideoControlInterfaceDescriptorSubtype = 0x04
	VideoControlInterfaceDescriptorSubtypeProcessingUnit VideoControlInterfaceDescriptorSubtype = 0x05
	VideoControlInterfaceDescriptorSubtypeExtensionUnit  VideoControlInterfaceDescriptorSubtype = 0x06
)

type InputTerminalType uint16

const (
	InputTerminalTypeVendorSpecific      InputTerminalType = 0x0200
	InputTerminalTypeCamera              InputTerminalType = 0x0201
	InputTerminalTypeMediaTransportInput InputTerminalType = 0x0202
)

type OutputTerminalType uint16

const (
	OutputTerminalTypeVendorSpecific       OutputTerminalType = 0x0300
	OutputTerminalTypeDisplay              OutputTerminalType = 0x0301
	OutputTerminalTypeMediaTransportOutput OutputTerminalType = 0x0302
	OutputTerminalTypeStreaming            OutputTerminalType = 0x0101
)

// HeaderDescriptor (VC_HEADER) carries the class version and the list
// of streaming interface numbers hanging off this control interface.
type HeaderDescriptor struct {
	UVC                            BinaryCodedDecimal
	TotalLength                    uint16
	ClockFrequency                 uint32
	VideoStreamingInterfaceIndexes []uint8
}

func (hd *HeaderDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 12 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeHeader {
		return ErrInvalidDescriptor
	}
	hd.UVC = BinaryCodedDecimal(binary.LittleEndian.Uint16(buf[3:5]))
	hd.TotalLength = binary.LittleEndian.Uint16(buf[5:7])
	hd.ClockFrequency = binary.LittleEndian.Uint32(buf[7:11])
	n := int(buf[11])
	if len(buf) < 12+n {
		return io.ErrShortBuffer
	}
	hd.VideoStreamingInterfaceIndexes = append([]uint8(nil), buf[12:12+n]...)
	return nil
}

func (hd *HeaderDescriptor) isControlInterface() {}

// InputTerminalDescriptor (VC_INPUT_TERMINAL).
type InputTerminalDescriptor struct {
	TerminalID           uint8
	TerminalType         InputTerminalType
	AssociatedTerminalID uint8
	DescriptionIndex     uint8
}

func (itd *InputTerminalDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 8 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeInputTerminal {
		return ErrInvalidDescriptor
	}
	itd.TerminalID = buf[3]
	itd.TerminalType = InputTerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	itd.AssociatedTerminalID = buf[6]
	itd.DescriptionIndex = buf[7]
	return nil
}

func (itd *InputTerminalDescriptor) isControlInterface() {}

// OutputTerminalDescriptor (VC_OUTPUT_TERMINAL).
type OutputTerminalDescriptor struct {
	TerminalID           uint8
	TerminalType         OutputTerminalType
	AssociatedTerminalID uint8
	SourceID             uint8
}

func (otd *OutputTerminalDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 8 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeOutputTerminal {
		return ErrInvalidDescriptor
	}
	otd.TerminalID = buf[3]
	otd.TerminalType = OutputTerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	otd.AssociatedTerminalID = buf[6]
	otd.SourceID = buf[7]
	return nil
}

func (otd *OutputTerminalDescriptor) isControlInterface() {}

// SelectorUnitDescriptor (VC_SELECTOR_UNIT).
type SelectorUnitDescriptor struct {
	UnitID           uint8
	SourceIDs        []uint8
	DescriptionIndex uint8
}

func (sud *SelectorUnitDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 5 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeSelectorUnit {
		return ErrInvalidDescriptor
	}
	sud.UnitID = buf[3]
	p := int(buf[4])
	if len(buf) < 6+p {
		return io.ErrShortBuffer
	}
	sud.SourceIDs = append([]uint8(nil), buf[5:5+p]...)
	sud.DescriptionIndex = buf[5+p]
	return nil
}

func (sud *SelectorUnitDescriptor) isControlInterface() {}

// ProcessingUnitDescriptor (VC_PROCESSING_UNIT) is the source of the
// image-quality control capability bits.
type ProcessingUnitDescriptor struct {
	UnitID                uint8
	SourceID              uint8
	MaxMultiplier         uint16
	ControlsBitmask       []byte
	DescriptionIndex      uint8
	VideoStandardsBitmask uint8
}

func (pud *ProcessingUnitDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 8 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeProcessingUnit {
		return ErrInvalidDescriptor
	}
	pud.UnitID = buf[3]
	pud.SourceID = buf[4]
	pud.MaxMultiplier = binary.LittleEndian.Uint16(buf[5:7])
	n := int(buf[7])
	if len(buf) < 9+n {
		return io.ErrShortBuffer
	}
	pud.ControlsBitmask = append([]byte(nil), buf[8:8+n]...)
	pud.DescriptionIndex = buf[8+n]
	if len(buf) > 9+n {
		// UVC 1.0 devices with the shorter 9+n layout omit this byte.
		pud.VideoStandardsBitmask = buf[9+n]
	}
	return nil
}

func (pud *ProcessingUnitDescriptor) isControlInterface() {}

// HasControl reports whether the feature bit for a control is set in
// the unit's capability bitmask.
func (pud *ProcessingUnitDescriptor) HasControl(featureBit int) bool {
	byteIndex := featureBit / 8
	bitIndex := featureBit % 8
	if byteIndex >= len(pud.ControlsBitmask) {
		return false
	}
	return pud.ControlsBitmask[byteIndex]&(1<<bitIndex) != 0
}

// ExtensionUnitDescriptor (VC_EXTENSION_UNIT).
type ExtensionUnitDescriptor struct {
	UnitID            uint8
	GUIDExtensionCode [16]byte
	NumControls       uint8
	SourceIDs         []uint8
	ControlsBitmask   []byte
	DescriptionIndex  uint8
}

func (eud *ExtensionUnitDescriptor) UnmarshalBinary(buf []byte) error {
	if len(buf) < int(buf[0]) || len(buf) < 23 {
		return io.ErrShortBuffer
	}
	if ClassSpecificDescriptorType(buf[1]) != ClassSpecificDescriptorTypeInterface {
		return ErrInvalidDescriptor
	}
	if VideoControlInterfaceDescriptorSubtype(buf[2]) != VideoControlInterfaceDescriptorSubtypeExtensionUnit {
		return ErrInvalidDescriptor
	}
	eud.UnitID = buf[3]
	copyGUID(eud.GUIDExtensionCode[:], buf[4:20])
	eud.NumControls = buf[20]
	p := int(buf[21])
	if len(buf) < 23+p {
		return io.ErrShortBuffer
	}
	eud.SourceIDs = append([]uint8(nil), buf[22:22+p]...)
	n := int(buf[22+p])
	if len(buf) < 24+p+n {
		return io.ErrShortBuffer
	}
	eud.ControlsBitmask = append([]byte(nil), buf[23+p:23+p+n]...)
	eud.DescriptionIndex = buf[23+p+n]
	return nil
}

func (eud *ExtensionUnitDescriptor) isControlInterface() {}
