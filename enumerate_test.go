package uvchost

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camkit/go-uvchost/pkg/transfers"
)

func rawIface(num, alt, class, subclass uint8, eps uint8) []byte {
	return []byte{9, 0x04, num, alt, eps, class, subclass, 0, 0}
}

func rawEndpoint(addr, attrs uint8, maxPacket uint16) []byte {
	b := []byte{7, 0x05, addr, attrs, 0, 0, 1}
	binary.LittleEndian.PutUint16(b[4:6], maxPacket)
	return b
}

// cameraConfig builds a realistic raw configuration: VC interface with
// header pointing at VS interface 1, the VS format/frame set from
// vsBlob, iso alternates, and an audio control + streaming pair.
func cameraConfig() []byte {
	vcExtra := []byte{13, 0x24, 0x01, 0x00, 0x01, 13, 0x00, 0x80, 0x8D, 0x5B, 0x00, 1, 1}
	acExtra := []byte{9, 0x24, 0x01, 0x00, 0x01, 9, 0x00, 1, 2}
	acExtra = append(acExtra, []byte{9, 0x24, 0x06, 5, 2, 1, 0x03, 0x00, 0}...) // feature unit 5
	asExtra := []byte{7, 0x24, 0x01, 2, 1, 0x01, 0x00}
	asExtra = append(asExtra, []byte{11, 0x24, 0x02, 0x01, 1, 2, 16, 1, 0x80, 0xBB, 0x00}...)

	blocks := [][]byte{
		rawIface(0, 0, 0x0E, 0x01, 0),
		vcExtra,
		rawIface(1, 0, 0x0E, 0x02, 0),
		vsBlob(),
		rawIface(1, 1, 0x0E, 0x02, 1),
		rawEndpoint(0x81, 0x05, 0x0040),
		rawIface(2, 0, 0x01, 0x01, 0),
		acExtra,
		rawIface(3, 0, 0x01, 0x02, 0),
		rawIface(3, 1, 0x01, 0x02, 1),
		asExtra,
		rawEndpoint(0x83, 0x05, 0x00C0),
	}
	body := bytes.Join(blocks, nil)
	total := 9 + len(body)
	header := []byte{9, 0x02, 0, 0, 4, 1, 0, 0x80, 50}
	binary.LittleEndian.PutUint16(header[2:4], uint16(total))
	return append(header, body...)
}

func TestOpenDeviceFromRawConfiguration(t *testing.T) {
	handle := &scriptedHandle{maxFrameSize: 16, maxPayload: 64}
	dev, err := OpenDevice(handle, cameraConfig(), transfers.PixelFormatYUY2, Config{DebugLevel: DebugNone})
	require.NoError(t, err)

	// The ladder came from the VS blob reached through the VC header.
	w, h := dev.SuggestVideoFrame()
	require.Equal(t, uint16(4), w)
	require.Equal(t, uint16(2), h)

	// The audio streaming alternate was discovered, with the feature
	// unit from the audio control interface.
	require.NotNil(t, dev.audio)
	require.Equal(t, uint8(3), dev.audio.InterfaceNumber)
	require.Equal(t, uint8(1), dev.audio.AlternateSetting)
	require.Equal(t, uint8(0x83), dev.audio.EndpointAddress)
	require.Equal(t, 192, dev.audio.MaxPacketSize)
	require.Equal(t, uint8(5), dev.audio.FeatureUnitID)

	// Mute/volume showed up on the control surface.
	_, err = dev.Controls().Info(ControlMute)
	require.NoError(t, err)
}

func TestOpenDeviceRejectsNonVideoConfiguration(t *testing.T) {
	blocks := [][]byte{rawIface(0, 0, 0x03, 0x01, 0)} // HID
	body := bytes.Join(blocks, nil)
	total := 9 + len(body)
	header := []byte{9, 0x02, 0, 0, 1, 1, 0, 0x80, 50}
	binary.LittleEndian.PutUint16(header[2:4], uint16(total))
	raw := append(header, body...)

	_, err := OpenDevice(&scriptedHandle{}, raw, transfers.PixelFormatYUY2, Config{DebugLevel: DebugNone})
	require.ErrorIs(t, err, ErrNotAVideoDevice)
}

func TestOpenDeviceSafeModeStartsAtLadderBottom(t *testing.T) {
	handle := &scriptedHandle{maxFrameSize: 16, maxPayload: 64}
	dev, err := OpenDevice(handle, cameraConfig(), transfers.PixelFormatYUY2,
		Config{DebugLevel: DebugNone, SafeMode: true})
	require.NoError(t, err)
	// The test ladder has a single rung, so the bottom is level 0; the
	// point is that SafeMode routes through SetLevel(MaxLevel).
	require.Equal(t, 0, dev.fallback.Level())
}
