package usbio

import (
	"fmt"
	"strings"
	"time"

	usb "github.com/kevmo314/go-usb"
)

// GoUSBHandle adapts a go-usb device handle to the DeviceHandle
// contract. This is the production transport; tests drive the core with
// in-memory fakes instead.
type GoUSBHandle struct {
	handle *usb.DeviceHandle
}

func NewGoUSBHandle(handle *usb.DeviceHandle) *GoUSBHandle {
	return &GoUSBHandle{handle: handle}
}

func (h *GoUSBHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	n, err := h.handle.ControlTransfer(requestType, request, value, index, data, timeout)
	if err != nil {
		return n, wrapTransportError(err)
	}
	return n, nil
}

func (h *GoUSBHandle) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	n, err := h.handle.BulkTransfer(endpoint, data, timeout)
	if err != nil {
		return n, wrapTransportError(err)
	}
	return n, nil
}

func (h *GoUSBHandle) SetAltSetting(iface, alt uint8) error {
	return h.handle.SetAltSetting(iface, alt)
}

func (h *GoUSBHandle) ClaimInterface(iface uint8) error {
	return h.handle.ClaimInterface(iface)
}

func (h *GoUSBHandle) ReleaseInterface(iface uint8) error {
	return h.handle.ReleaseInterface(iface)
}

func (h *GoUSBHandle) ClearHalt(endpoint uint8) error {
	return h.handle.ClearHalt(endpoint)
}

func (h *GoUSBHandle) NewIsoTransfer(endpoint uint8, numPackets, packetSize int) (IsoTransfer, error) {
	tx, err := h.handle.NewIsochronousTransfer(endpoint, numPackets, packetSize)
	if err != nil {
		return nil, fmt.Errorf("iso transfer alloc failed: %w", err)
	}
	return &goUSBIsoTransfer{
		tx:         tx,
		packetSize: packetSize,
		buf:        make([]byte, numPackets*packetSize),
		packets:    make([]IsoPacket, 0, numPackets),
	}, nil
}

type goUSBIsoTransfer struct {
	tx         *usb.IsochronousTransfer
	packetSize int
	buf        []byte
	packets    []IsoPacket
}

// Submit runs one transfer to completion and lays the packet payloads
// out at fixed slot offsets in the local buffer.
func (t *goUSBIsoTransfer) Submit() error {
	if err := t.tx.Submit(); err != nil {
		return wrapTransportError(err)
	}
	if err := t.tx.Wait(); err != nil {
		return wrapTransportError(err)
	}
	raw := t.tx.Packets()
	t.packets = t.packets[:0]
	for i, p := range raw {
		pkt := IsoPacket{ActualLength: int(p.ActualLength)}
		if p.Status != 0 {
			pkt.Status = PacketError
		} else if p.ActualLength > 0 {
			data, err := t.tx.IsoPacketBuffer(i)
			if err != nil {
				pkt.Status = PacketError
			} else {
				copy(t.buf[i*t.packetSize:], data)
			}
		}
		t.packets = append(t.packets, pkt)
	}
	return nil
}

func (t *goUSBIsoTransfer) Packets() []IsoPacket { return t.packets }

func (t *goUSBIsoTransfer) Buffer() []byte { return t.buf }

func (t *goUSBIsoTransfer) Cancel() error {
	return t.tx.Cancel()
}

func wrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	// go-usb surfaces errno-style errors; fold the interesting ones onto
	// the sentinels Classify understands.
	switch {
	case isErrno(err, "no such device"), isErrno(err, "no device"):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	case isErrno(err, "timed out"), isErrno(err, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case isErrno(err, "pipe"), isErrno(err, "stall"):
		return fmt.Errorf("%w: %v", ErrStall, err)
	case isErrno(err, "overflow"):
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return err
}

func isErrno(err error, substr string) bool {
	return strings.Contains(strings.ToLower(err.Error()), substr)
}
