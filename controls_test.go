package uvchost

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/requests"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

// puHandle answers processing-unit control requests from a value table.
type puHandle struct {
	mu      sync.Mutex
	min     uint16
	max     uint16
	def     uint16
	res     uint16
	current uint16
	sets    []controlWrite
}

type controlWrite struct {
	Value uint16
	Index uint16
	Data  []byte
}

func (h *puHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch requests.RequestCode(request) {
	case requests.RequestCodeGetMin:
		binary.LittleEndian.PutUint16(data, h.min)
	case requests.RequestCodeGetMax:
		binary.LittleEndian.PutUint16(data, h.max)
	case requests.RequestCodeGetDef:
		binary.LittleEndian.PutUint16(data, h.def)
	case requests.RequestCodeGetRes:
		binary.LittleEndian.PutUint16(data, h.res)
	case requests.RequestCodeGetCur:
		binary.LittleEndian.PutUint16(data, h.current)
	case requests.RequestCodeSetCur:
		h.sets = append(h.sets, controlWrite{value, index, append([]byte(nil), data...)})
		if len(data) >= 2 {
			h.current = binary.LittleEndian.Uint16(data)
		}
	}
	return len(data), nil
}

func (h *puHandle) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return 0, usbio.ErrDisconnected
}

func (h *puHandle) NewIsoTransfer(endpoint uint8, numPackets, packetSize int) (usbio.IsoTransfer, error) {
	return nil, usbio.ErrDisconnected
}

func (h *puHandle) SetAltSetting(iface, alt uint8) error   { return nil }
func (h *puHandle) ClaimInterface(iface uint8) error       { return nil }
func (h *puHandle) ReleaseInterface(iface uint8) error     { return nil }
func (h *puHandle) ClearHalt(endpoint uint8) error         { return nil }

// brightnessOnlyPU advertises brightness (feature bit 0) on unit 5.
func brightnessOnlyPU() *descriptors.ProcessingUnitDescriptor {
	pu := &descriptors.ProcessingUnitDescriptor{}
	raw := []byte{13, 0x24, 0x05, 5, 1, 0, 0x40, 3, 0x01, 0x00, 0x00, 0, 0}
	if err := pu.UnmarshalBinary(raw); err != nil {
		panic(err)
	}
	return pu
}

func TestControlSurfaceRangeProbeAndSet(t *testing.T) {
	handle := &puHandle{min: 10, max: 250, def: 128, res: 2, current: 100}
	var devMu sync.Mutex
	cs := newControlSurface(handle, &devMu, 0, brightnessOnlyPU(), zerolog.Nop())
	cs.init()

	info, err := cs.Info(ControlBrightness)
	require.NoError(t, err)
	require.Equal(t, int32(10), info.Min)
	require.Equal(t, int32(250), info.Max)
	require.Equal(t, int32(128), info.Default)
	require.Equal(t, int32(2), info.Step)
	require.Equal(t, int32(100), info.Current)

	// Only brightness is advertised; contrast stays unsupported.
	_, err = cs.Info(ControlContrast)
	require.ErrorIs(t, err, ErrControlUnsupported)

	require.NoError(t, cs.Set(ControlBrightness, 180))
	v, err := cs.Get(ControlBrightness)
	require.NoError(t, err)
	require.Equal(t, int32(180), v)

	// SET_CUR carried the brightness selector and (unit<<8)|interface.
	require.NotEmpty(t, handle.sets)
	last := handle.sets[len(handle.sets)-1]
	require.Equal(t, uint16(descriptors.ProcessingUnitBrightnessControl)<<8, last.Value)
	require.Equal(t, uint16(5)<<8|uint16(0), last.Index)
}

func TestControlSurfaceSetClampsToRange(t *testing.T) {
	handle := &puHandle{min: 10, max: 100, def: 50, res: 1, current: 50}
	var devMu sync.Mutex
	cs := newControlSurface(handle, &devMu, 0, brightnessOnlyPU(), zerolog.Nop())
	cs.init()

	require.NoError(t, cs.Set(ControlBrightness, 500))
	v, err := cs.Get(ControlBrightness)
	require.NoError(t, err)
	require.Equal(t, int32(100), v)
}

func TestResolutionIndexControl(t *testing.T) {
	handle := &scriptedHandle{maxFrameSize: 16, maxPayload: 64}
	dev := newTestDevice(t, handle)

	info, err := dev.Controls().Info(ControlResolutionIndex)
	require.NoError(t, err)
	require.Equal(t, int32(0), info.Min)
	require.Equal(t, int32(0), info.Max, "single-rung ladder")

	require.NoError(t, dev.Controls().Set(ControlResolutionIndex, 0))
	v, err := dev.Controls().Get(ControlResolutionIndex)
	require.NoError(t, err)
	require.Equal(t, int32(0), v)
}
