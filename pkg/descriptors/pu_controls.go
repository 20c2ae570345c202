package descriptors

import "encoding/binary"

type ProcessingUnitControlSelector uint16

const (
	ProcessingUnitControlSelectorUndefined       ProcessingUnitControlSelector = 0x00
	ProcessingUnitBacklightCompensationControl   ProcessingUnitControlSelector = 0x01
	ProcessingUnitBrightnessControl              ProcessingUnitControlSelector = 0x02
	ProcessingUnitContrastControl                ProcessingUnitControlSelector = 0x03
	ProcessingUnitGainControl                    ProcessingUnitControlSelector = 0x04
	ProcessingUnitPowerLineFrequencyControl      ProcessingUnitControlSelector = 0x05
	ProcessingUnitHueControl                     ProcessingUnitControlSelector = 0x06
	ProcessingUnitSaturationControl              ProcessingUnitControlSelector = 0x07
	ProcessingUnitSharpnessControl               ProcessingUnitControlSelector = 0x08
	ProcessingUnitGammaControl                   ProcessingUnitControlSelector = 0x09
	ProcessingUnitWhiteBalanceTemperatureControl ProcessingUnitControlSelector = 0x0A
	ProcessingUnitWhiteBalanceTempAutoControl    ProcessingUnitControlSelector = 0x0B
	ProcessingUnitHueAutoControl                 ProcessingUnitControlSelector = 0x10
)

// PUControl describes one processing-unit control: its wire selector,
// position in the unit's capability bitmask, payload size, signedness,
// and the selector of its auto-mode companion if one exists.
type PUControl struct {
	Name         string
	Selector     ProcessingUnitControlSelector
	FeatureBit   int
	Len          int
	Signed       bool
	AutoSelector ProcessingUnitControlSelector
	AutoBit      int
}

// PUControls is the fixed set of image-quality controls the driver
// exposes, in UVC feature-bit order.
var PUControls = []PUControl{
	{Name: "brightness", Selector: ProcessingUnitBrightnessControl, FeatureBit: 0, Len: 2, Signed: true},
	{Name: "contrast", Selector: ProcessingUnitContrastControl, FeatureBit: 1, Len: 2},
	{Name: "hue", Selector: ProcessingUnitHueControl, FeatureBit: 2, Len: 2, Signed: true,
		AutoSelector: ProcessingUnitHueAutoControl, AutoBit: 11},
	{Name: "saturation", Selector: ProcessingUnitSaturationControl, FeatureBit: 3, Len: 2},
	{Name: "sharpness", Selector: ProcessingUnitSharpnessControl, FeatureBit: 4, Len: 2},
	{Name: "gamma", Selector: ProcessingUnitGammaControl, FeatureBit: 5, Len: 2},
	{Name: "white-balance-temperature", Selector: ProcessingUnitWhiteBalanceTemperatureControl, FeatureBit: 6, Len: 2,
		AutoSelector: ProcessingUnitWhiteBalanceTempAutoControl, AutoBit: 12},
	{Name: "backlight-compensation", Selector: ProcessingUnitBacklightCompensationControl, FeatureBit: 8, Len: 2},
	{Name: "gain", Selector: ProcessingUnitGainControl, FeatureBit: 9, Len: 2},
	{Name: "power-line-frequency", Selector: ProcessingUnitPowerLineFrequencyControl, FeatureBit: 10, Len: 1},
}

// DecodeControlValue interprets a control payload as a host integer.
func (c PUControl) DecodeControlValue(buf []byte) int32 {
	switch c.Len {
	case 1:
		if c.Signed {
			return int32(int8(buf[0]))
		}
		return int32(buf[0])
	default:
		v := binary.LittleEndian.Uint16(buf[:2])
		if c.Signed {
			return int32(int16(v))
		}
		return int32(v)
	}
}

// EncodeControlValue packs a host integer for the wire.
func (c PUControl) EncodeControlValue(v int32, buf []byte) {
	switch c.Len {
	case 1:
		buf[0] = uint8(v)
	default:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
	}
}
