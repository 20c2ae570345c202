package usbio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Standard descriptor types and requests used when walking a raw
// configuration descriptor.
const (
	descriptorTypeConfiguration = 0x02
	descriptorTypeInterface     = 0x04
	descriptorTypeEndpoint      = 0x05

	requestGetDescriptor = 0x06
	requestTypeDeviceIn  = 0x80
)

// EndpointInfo is one endpoint of an alternate setting with its raw
// wMaxPacketSize field intact.
type EndpointInfo struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

func (e EndpointInfo) IsIsochronous() bool { return e.Attributes&0x03 == 0x01 }
func (e EndpointInfo) IsInput() bool       { return e.Address&0x80 != 0 }

// InterfaceAlt is one alternate setting of one interface, with the
// class-specific descriptor bytes that followed it in the
// configuration.
type InterfaceAlt struct {
	Number    uint8
	Alternate uint8
	Class     uint8
	SubClass  uint8
	Protocol  uint8
	Extra     []byte
	Endpoints []EndpointInfo
}

// Configuration is a parsed configuration descriptor.
type Configuration struct {
	Raw  []byte
	Alts []InterfaceAlt
}

// ParseConfiguration walks a raw configuration descriptor, grouping
// class-specific blocks and endpoints under the interface alternate
// they follow.
func ParseConfiguration(raw []byte) (*Configuration, error) {
	if len(raw) < 9 || raw[1] != descriptorTypeConfiguration {
		return nil, fmt.Errorf("usb: not a configuration descriptor")
	}
	total := int(binary.LittleEndian.Uint16(raw[2:4]))
	if total > len(raw) {
		return nil, fmt.Errorf("usb: configuration descriptor truncated: %d of %d bytes", len(raw), total)
	}
	cfg := &Configuration{Raw: raw[:total]}

	var current *InterfaceAlt
	for i := int(raw[0]); i < total; {
		l := int(raw[i])
		if l < 2 || i+l > total {
			return nil, fmt.Errorf("usb: malformed descriptor at offset %d", i)
		}
		block := raw[i : i+l]
		switch block[1] {
		case descriptorTypeInterface:
			if l < 9 {
				return nil, fmt.Errorf("usb: short interface descriptor at offset %d", i)
			}
			cfg.Alts = append(cfg.Alts, InterfaceAlt{
				Number:    block[2],
				Alternate: block[3],
				Class:     block[5],
				SubClass:  block[6],
				Protocol:  block[7],
			})
			current = &cfg.Alts[len(cfg.Alts)-1]
		case descriptorTypeEndpoint:
			if current != nil && l >= 7 {
				current.Endpoints = append(current.Endpoints, EndpointInfo{
					Address:       block[2],
					Attributes:    block[3],
					MaxPacketSize: binary.LittleEndian.Uint16(block[4:6]),
					Interval:      block[6],
				})
			}
		default:
			if current != nil {
				current.Extra = append(current.Extra, block...)
			}
		}
		i += l
	}
	return cfg, nil
}

// AltSettings returns all alternates of one interface in order.
func (c *Configuration) AltSettings(ifnum uint8) []InterfaceAlt {
	var alts []InterfaceAlt
	for _, a := range c.Alts {
		if a.Number == ifnum {
			alts = append(alts, a)
		}
	}
	return alts
}

// FindInterface returns the first alternate of the first interface
// matching class and subclass, or nil.
func (c *Configuration) FindInterface(class, subclass uint8) *InterfaceAlt {
	for i, a := range c.Alts {
		if a.Class == class && a.SubClass == subclass && a.Alternate == 0 {
			return &c.Alts[i]
		}
	}
	return nil
}

// IsochronousInAlternates decodes the interface's alternates into the
// selection set the negotiator scans: one entry per alternate carrying
// an isochronous IN endpoint.
func (c *Configuration) IsochronousInAlternates(ifnum uint8) []AltSetting {
	var alts []AltSetting
	for _, a := range c.AltSettings(ifnum) {
		for _, ep := range a.Endpoints {
			if ep.IsIsochronous() && ep.IsInput() {
				alts = append(alts, AltSetting{
					Alternate:       a.Alternate,
					EndpointAddress: ep.Address,
					MaxPacketSize:   ep.MaxPacketSize,
				})
				break
			}
		}
	}
	return alts
}

// FetchConfiguration reads the full active configuration descriptor
// through a standard GET_DESCRIPTOR request: the 9-byte header first
// for wTotalLength, then the whole blob.
func FetchConfiguration(h DeviceHandle) ([]byte, error) {
	header := make([]byte, 9)
	if _, err := h.ControlTransfer(requestTypeDeviceIn, requestGetDescriptor,
		descriptorTypeConfiguration<<8, 0, header, time.Second); err != nil {
		return nil, fmt.Errorf("usb: configuration header read failed: %w", err)
	}
	total := int(binary.LittleEndian.Uint16(header[2:4]))
	if total < 9 {
		return nil, fmt.Errorf("usb: implausible configuration length %d", total)
	}
	raw := make([]byte, total)
	if _, err := h.ControlTransfer(requestTypeDeviceIn, requestGetDescriptor,
		descriptorTypeConfiguration<<8, 0, raw, time.Second); err != nil {
		return nil, fmt.Errorf("usb: configuration read failed: %w", err)
	}
	return raw, nil
}
