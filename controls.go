package uvchost

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/requests"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

// ControlID names one user-visible control.
type ControlID int

const (
	ControlBrightness ControlID = iota
	ControlContrast
	ControlHue
	ControlSaturation
	ControlSharpness
	ControlGamma
	ControlWhiteBalanceTemp
	ControlGain
	ControlBacklightComp
	ControlPowerLineFreq
	ControlResolutionIndex
	ControlMute
	ControlVolume
)

func (c ControlID) String() string {
	names := []string{"brightness", "contrast", "hue", "saturation",
		"sharpness", "gamma", "white-balance-temperature", "gain",
		"backlight-compensation", "power-line-frequency",
		"resolution-index", "mute", "volume"}
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("control(%d)", int(c))
}

var ErrControlUnsupported = errors.New("control not supported by device")

// ControlInfo is the cached state and range of one control.
type ControlInfo struct {
	Current int32
	Min     int32
	Max     int32
	Step    int32
	Default int32
	HasAuto bool
}

// Audio feature unit control selectors (UAC 1.0).
const (
	audioMuteControl   uint16 = 0x01
	audioVolumeControl uint16 = 0x02
)

var puControlByID = map[ControlID]int{
	ControlBrightness:       0,
	ControlContrast:         1,
	ControlHue:              2,
	ControlSaturation:       3,
	ControlSharpness:        4,
	ControlGamma:            5,
	ControlWhiteBalanceTemp: 6,
	ControlBacklightComp:    7,
	ControlGain:             8,
	ControlPowerLineFreq:    9,
}

const controlRequestTimeout = time.Second

// ControlSurface exposes the processing-unit image controls and the
// audio feature-unit mute/volume. Reads come from the cache populated
// at startup; writes go to the device and are serialized by one mutex,
// which also keeps SET_CUR from racing the streaming stop path.
type ControlSurface struct {
	mu     sync.Mutex
	handle usbio.DeviceHandle
	devMu  *sync.Mutex

	controlIfnum uint8
	pu           *descriptors.ProcessingUnitDescriptor

	audioIfnum       uint8
	audioFeatureUnit uint8
	hasAudio         bool

	// Resolution selection is a driver-side control: the device backs
	// it with the fallback ladder instead of a UVC request.
	getResolution func() int32
	setResolution func(int32) error

	info map[ControlID]*ControlInfo
	log  zerolog.Logger
}

func newControlSurface(handle usbio.DeviceHandle, devMu *sync.Mutex, controlIfnum uint8, pu *descriptors.ProcessingUnitDescriptor, log zerolog.Logger) *ControlSurface {
	return &ControlSurface{
		handle:       handle,
		devMu:        devMu,
		controlIfnum: controlIfnum,
		pu:           pu,
		info:         make(map[ControlID]*ControlInfo),
		log:          log,
	}
}

func (cs *ControlSurface) setResolutionHooks(maxLevel int32, get func() int32, set func(int32) error) {
	cs.getResolution = get
	cs.setResolution = set
	cs.mu.Lock()
	cs.info[ControlResolutionIndex] = &ControlInfo{Min: 0, Max: maxLevel, Step: 1}
	cs.mu.Unlock()
}

func (cs *ControlSurface) setAudioUnit(ifnum, featureUnit uint8) {
	cs.audioIfnum = ifnum
	cs.audioFeatureUnit = featureUnit
	cs.hasAudio = true
}

// init probes GET_MIN/MAX/DEF/RES and GET_CUR for every control the
// processing unit advertises. A failed MIN/MAX/DEF probe skips the
// control rather than failing startup; plenty of devices advertise bits
// they do not answer for. A failed RES probe leaves a step of 1 and a
// failed CUR probe starts from the default.
func (cs *ControlSurface) init() {
	if cs.pu == nil {
		return
	}
	for id, idx := range puControlByID {
		pc := descriptors.PUControls[idx]
		if !cs.pu.HasControl(pc.FeatureBit) {
			continue
		}
		info := &ControlInfo{
			HasAuto: pc.AutoSelector != 0 && cs.pu.HasControl(pc.AutoBit),
		}
		var err error
		if info.Min, err = cs.puGet(pc, requests.RequestCodeGetMin); err != nil {
			cs.log.Debug().Err(err).Str("control", id.String()).Msg("range probe failed; skipping control")
			continue
		}
		if info.Max, err = cs.puGet(pc, requests.RequestCodeGetMax); err != nil {
			continue
		}
		if info.Default, err = cs.puGet(pc, requests.RequestCodeGetDef); err != nil {
			continue
		}
		if info.Step, err = cs.puGet(pc, requests.RequestCodeGetRes); err != nil {
			info.Step = 1
		}
		if info.Current, err = cs.puGet(pc, requests.RequestCodeGetCur); err != nil {
			info.Current = info.Default
		}
		cs.mu.Lock()
		cs.info[id] = info
		cs.mu.Unlock()
	}
	if cs.hasAudio {
		cs.mu.Lock()
		cs.info[ControlMute] = &ControlInfo{Min: 0, Max: 1, Step: 1}
		cs.info[ControlVolume] = &ControlInfo{Min: 0, Max: 0x7FFF, Step: 1, Default: 0x7FFF}
		cs.mu.Unlock()
	}
}

// Supported lists the controls the device answers for.
func (cs *ControlSurface) Supported() []ControlID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ids := make([]ControlID, 0, len(cs.info))
	for id := range cs.info {
		ids = append(ids, id)
	}
	return ids
}

// Info returns the cached range and value of a control.
func (cs *ControlSurface) Info(id ControlID) (ControlInfo, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	info, ok := cs.info[id]
	if !ok {
		return ControlInfo{}, ErrControlUnsupported
	}
	return *info, nil
}

// Get reads the current value from the device and refreshes the cache.
func (cs *ControlSurface) Get(id ControlID) (int32, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	info, ok := cs.info[id]
	if !ok {
		return 0, ErrControlUnsupported
	}
	switch id {
	case ControlResolutionIndex:
		info.Current = cs.getResolution()
		return info.Current, nil
	case ControlMute, ControlVolume:
		v, err := cs.audioGet(id)
		if err != nil {
			return 0, err
		}
		info.Current = v
		return v, nil
	default:
		pc := descriptors.PUControls[puControlByID[id]]
		v, err := cs.puGet(pc, requests.RequestCodeGetCur)
		if err != nil {
			return 0, err
		}
		info.Current = v
		return v, nil
	}
}

// Set writes a value through SET_CUR and updates the cache.
func (cs *ControlSurface) Set(id ControlID, value int32) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	info, ok := cs.info[id]
	if !ok {
		return ErrControlUnsupported
	}
	if value < info.Min {
		value = info.Min
	}
	if value > info.Max {
		value = info.Max
	}
	switch id {
	case ControlResolutionIndex:
		if err := cs.setResolution(value); err != nil {
			return err
		}
	case ControlMute, ControlVolume:
		if err := cs.audioSet(id, value); err != nil {
			return err
		}
	default:
		pc := descriptors.PUControls[puControlByID[id]]
		if err := cs.puSet(pc, value); err != nil {
			return err
		}
	}
	info.Current = value
	return nil
}

func (cs *ControlSurface) transfer(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	if cs.devMu != nil {
		cs.devMu.Lock()
		defer cs.devMu.Unlock()
	}
	return cs.handle.ControlTransfer(requestType, request, value, index, data, controlRequestTimeout)
}

func (cs *ControlSurface) puGet(pc descriptors.PUControl, code requests.RequestCode) (int32, error) {
	buf := make([]byte, pc.Len)
	_, err := cs.transfer(
		uint8(requests.RequestTypeVideoInterfaceGetRequest),
		uint8(code),
		uint16(pc.Selector)<<8,
		uint16(cs.pu.UnitID)<<8|uint16(cs.controlIfnum),
		buf)
	if err != nil {
		return 0, fmt.Errorf("request %#02x for %s failed: %w", uint8(code), pc.Name, err)
	}
	return pc.DecodeControlValue(buf), nil
}

func (cs *ControlSurface) puSet(pc descriptors.PUControl, value int32) error {
	buf := make([]byte, pc.Len)
	pc.EncodeControlValue(value, buf)
	_, err := cs.transfer(
		uint8(requests.RequestTypeVideoInterfaceSetRequest),
		uint8(requests.RequestCodeSetCur),
		uint16(pc.Selector)<<8,
		uint16(cs.pu.UnitID)<<8|uint16(cs.controlIfnum),
		buf)
	if err != nil {
		return fmt.Errorf("SET_CUR for %s failed: %w", pc.Name, err)
	}
	return nil
}

func (cs *ControlSurface) audioSelector(id ControlID) uint16 {
	if id == ControlMute {
		return audioMuteControl
	}
	return audioVolumeControl
}

func (cs *ControlSurface) audioLen(id ControlID) int {
	if id == ControlMute {
		return 1
	}
	return 2
}

func (cs *ControlSurface) audioGet(id ControlID) (int32, error) {
	buf := make([]byte, cs.audioLen(id))
	_, err := cs.transfer(
		uint8(requests.RequestTypeVideoInterfaceGetRequest),
		uint8(requests.RequestCodeGetCur),
		cs.audioSelector(id)<<8,
		uint16(cs.audioFeatureUnit)<<8|uint16(cs.audioIfnum),
		buf)
	if err != nil {
		return 0, fmt.Errorf("audio GET_CUR for %s failed: %w", id, err)
	}
	if id == ControlMute {
		return int32(buf[0]), nil
	}
	return int32(int16(uint16(buf[0]) | uint16(buf[1])<<8)), nil
}

func (cs *ControlSurface) audioSet(id ControlID, value int32) error {
	buf := make([]byte, cs.audioLen(id))
	if id == ControlMute {
		buf[0] = uint8(value)
	} else {
		buf[0] = uint8(value)
		buf[1] = uint8(value >> 8)
	}
	_, err := cs.transfer(
		uint8(requests.RequestTypeVideoInterfaceSetRequest),
		uint8(requests.RequestCodeSetCur),
		cs.audioSelector(id)<<8,
		uint16(cs.audioFeatureUnit)<<8|uint16(cs.audioIfnum),
		buf)
	if err != nil {
		return fmt.Errorf("audio SET_CUR for %s failed: %w", id, err)
	}
	return nil
}
