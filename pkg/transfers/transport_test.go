package transfers

import (
	"sync"
	"time"

	"github.com/camkit/go-uvchost/pkg/usbio"
)

// fakeIsoTransfer replays scripted rounds of packet outcomes.
type fakeIsoRound struct {
	err     error
	packets []usbio.IsoPacket
	// payloads[i] is copied into slot i's fixed offset.
	payloads [][]byte
}

type fakeIsoTransfer struct {
	mu         sync.Mutex
	packetSize int
	numPackets int
	buf        []byte
	rounds     []fakeIsoRound
	round      int
	submits    int
	cancelled  bool
	current    []usbio.IsoPacket
}

func newFakeIsoTransfer(numPackets, packetSize int, rounds []fakeIsoRound) *fakeIsoTransfer {
	return &fakeIsoTransfer{
		packetSize: packetSize,
		numPackets: numPackets,
		buf:        make([]byte, numPackets*packetSize),
		rounds:     rounds,
	}
}

func (t *fakeIsoTransfer) Submit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return usbio.ErrDisconnected
	}
	t.submits++
	if t.round >= len(t.rounds) {
		// Out of script: report disconnect so pump loops terminate.
		return usbio.ErrDisconnected
	}
	r := t.rounds[t.round]
	t.round++
	t.current = r.packets
	for i, p := range r.payloads {
		if p != nil {
			copy(t.buf[i*t.packetSize:], p)
		}
	}
	return r.err
}

func (t *fakeIsoTransfer) Packets() []usbio.IsoPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *fakeIsoTransfer) Buffer() []byte { return t.buf }

func (t *fakeIsoTransfer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	return nil
}

// controlCall records one control transfer for assertions.
type controlCall struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte
}

// fakeDeviceHandle scripts control responses and hands out fake iso
// transfers.
type fakeDeviceHandle struct {
	mu sync.Mutex

	controlCalls []controlCall
	// controlResponder, when set, fills data for IN requests and
	// returns the transfer length.
	controlResponder func(call controlCall, data []byte) (int, error)

	altSettings []struct{ Iface, Alt uint8 }
	clearHalts  []uint8

	isoTransfer *fakeIsoTransfer
	isoErr      error

	bulkResponder func(data []byte) (int, error)
}

func (h *fakeDeviceHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	call := controlCall{requestType, request, value, index, append([]byte(nil), data...)}
	h.controlCalls = append(h.controlCalls, call)
	responder := h.controlResponder
	h.mu.Unlock()
	if responder != nil {
		return responder(call, data)
	}
	return len(data), nil
}

func (h *fakeDeviceHandle) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if h.bulkResponder != nil {
		return h.bulkResponder(data)
	}
	return 0, usbio.ErrDisconnected
}

func (h *fakeDeviceHandle) NewIsoTransfer(endpoint uint8, numPackets, packetSize int) (usbio.IsoTransfer, error) {
	if h.isoErr != nil {
		return nil, h.isoErr
	}
	if h.isoTransfer == nil {
		h.isoTransfer = newFakeIsoTransfer(numPackets, packetSize, nil)
	}
	return h.isoTransfer, nil
}

func (h *fakeDeviceHandle) SetAltSetting(iface, alt uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.altSettings = append(h.altSettings, struct{ Iface, Alt uint8 }{iface, alt})
	return nil
}

func (h *fakeDeviceHandle) ClaimInterface(iface uint8) error   { return nil }
func (h *fakeDeviceHandle) ReleaseInterface(iface uint8) error { return nil }

func (h *fakeDeviceHandle) ClearHalt(endpoint uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearHalts = append(h.clearHalts, endpoint)
	return nil
}

// sink collecting written packets.
type recordingSink struct {
	mu      sync.Mutex
	packets [][]byte
}

func (s *recordingSink) Write(pkt []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, append([]byte(nil), pkt...))
	return len(pkt)
}

func (s *recordingSink) Packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}
