package uvchost

import (
	"errors"
	"fmt"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/transfers"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

var ErrNotAVideoDevice = errors.New("uvchost: no video control interface in configuration")

// OpenDevice builds a Device from a transport handle and the raw
// configuration descriptor: it locates the Video Control interface,
// follows its VC_HEADER to the streaming interface, collects the
// isochronous alternates, and picks up an Audio Streaming interface if
// the camera carries a microphone.
func OpenDevice(handle usbio.DeviceHandle, rawConfig []byte, pixelFormat transfers.PixelFormat, cfg Config) (*Device, error) {
	log := cfg.Logger()
	conf, err := usbio.ParseConfiguration(rawConfig)
	if err != nil {
		return nil, err
	}

	vc := conf.FindInterface(uint8(descriptors.ClassCodeVideo), uint8(descriptors.SubclassCodeVideoControl))
	if vc == nil {
		return nil, ErrNotAVideoDevice
	}

	// The VC_HEADER names the streaming interfaces and the class
	// version.
	var header *descriptors.HeaderDescriptor
	for i := 0; i < len(vc.Extra); i += int(vc.Extra[i]) {
		l := int(vc.Extra[i])
		if l < 3 || i+l > len(vc.Extra) {
			break
		}
		block := vc.Extra[i : i+l]
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			continue
		}
		if descriptors.VideoControlInterfaceDescriptorSubtype(block[2]) == descriptors.VideoControlInterfaceDescriptorSubtypeHeader {
			h := &descriptors.HeaderDescriptor{}
			if err := h.UnmarshalBinary(block); err != nil {
				return nil, fmt.Errorf("uvchost: VC header: %w", err)
			}
			header = h
			break
		}
	}
	if header == nil || len(header.VideoStreamingInterfaceIndexes) == 0 {
		return nil, ErrNotAVideoDevice
	}
	vsNum := header.VideoStreamingInterfaceIndexes[0]
	vsAlts := conf.AltSettings(vsNum)
	if len(vsAlts) == 0 {
		return nil, fmt.Errorf("uvchost: streaming interface %d not in configuration", vsNum)
	}

	opts := DeviceOptions{
		Handle:                   handle,
		ControlInterfaceNumber:   vc.Number,
		StreamingInterfaceNumber: vsNum,
		BcdUVC:                   header.UVC,
		ControlDescriptors:       vc.Extra,
		StreamingDescriptors:     vsAlts[0].Extra,
		Alternates:               conf.IsochronousInAlternates(vsNum),
		PixelFormat:              pixelFormat,
		Config:                   cfg,
		Logger:                   &log,
	}

	if audio := findAudioInterface(conf); audio != nil {
		opts.Audio = audio
	}

	return NewDevice(opts)
}

// findAudioInterface picks the first Audio Streaming alternate with an
// isochronous IN endpoint, the microphone path on UVC cameras that
// carry one.
func findAudioInterface(conf *usbio.Configuration) *AudioInterfaceInfo {
	for _, a := range conf.Alts {
		if a.Class != uint8(descriptors.ClassCodeAudio) ||
			a.SubClass != uint8(descriptors.AudioSubclassCodeAudioStreaming) {
			continue
		}
		for _, ep := range a.Endpoints {
			if !ep.IsIsochronous() || !ep.IsInput() {
				continue
			}
			info := &AudioInterfaceInfo{
				InterfaceNumber:  a.Number,
				AlternateSetting: a.Alternate,
				EndpointAddress:  ep.Address,
				MaxPacketSize:    int(ep.MaxPacketSize & 0x07FF),
				Descriptors:      a.Extra,
			}
			// The feature unit, when present, lives in the Audio
			// Control interface's blob.
			if ac := conf.FindInterface(uint8(descriptors.ClassCodeAudio), uint8(descriptors.AudioSubclassCodeAudioControl)); ac != nil {
				for i := 0; i < len(ac.Extra); i += int(ac.Extra[i]) {
					l := int(ac.Extra[i])
					if l < 3 || i+l > len(ac.Extra) {
						break
					}
					block := ac.Extra[i : i+l]
					if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
						continue
					}
					if descriptors.AudioControlInterfaceDescriptorSubtype(block[2]) == descriptors.AudioControlInterfaceDescriptorSubtypeFeatureUnit {
						fu := &descriptors.AudioFeatureUnitDescriptor{}
						if err := fu.UnmarshalBinary(block); err == nil {
							info.FeatureUnitID = fu.UnitID
						}
						break
					}
				}
			}
			return info
		}
	}
	return nil
}
