package transfers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/requests"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

// probeResponder emulates a device that grants the probe with adjusted
// values: it echoes the host's SET_CUR block on GET_CUR with the max
// sizes filled in.
func probeResponder(t *testing.T, maxFrame, maxPayload uint32) func(controlCall, []byte) (int, error) {
	t.Helper()
	var lastSet []byte
	return func(call controlCall, data []byte) (int, error) {
		switch requests.RequestCode(call.Request) {
		case requests.RequestCodeSetCur:
			lastSet = append([]byte(nil), call.Data...)
			return len(call.Data), nil
		case requests.RequestCodeGetCur:
			require.NotNil(t, lastSet, "GET_CUR before SET_CUR")
			var vpcc descriptors.VideoProbeCommitControl
			require.NoError(t, vpcc.UnmarshalBinary(lastSet))
			vpcc.MaxVideoFrameSize = maxFrame
			vpcc.MaxPayloadTransferSize = maxPayload
			require.NoError(t, vpcc.MarshalInto(data))
			return len(data), nil
		}
		return len(data), nil
	}
}

func testFormat() StreamFormat {
	return StreamFormat{
		PixelFormat:   PixelFormatYUY2,
		Width:         640,
		Height:        480,
		FrameInterval: 333333 * 100 * time.Nanosecond,
		FormatIndex:   1,
		FrameIndex:    1,
	}
}

func TestProbeCommitUsesEchoedValues(t *testing.T) {
	handle := &fakeDeviceHandle{}
	handle.controlResponder = probeResponder(t, 640*480*2, 3072)
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())

	res, err := n.ProbeCommit(testFormat())
	require.NoError(t, err)
	require.Equal(t, uint32(640*480*2), res.MaxVideoFrameSize)
	require.Equal(t, uint32(3072), res.MaxPayloadTransferSize)

	// Three control requests: probe SET_CUR, probe GET_CUR, commit
	// SET_CUR. The commit must carry the device's echoed block.
	require.Len(t, handle.controlCalls, 3)
	probeSet, probeGet, commit := handle.controlCalls[0], handle.controlCalls[1], handle.controlCalls[2]
	require.Equal(t, VideoStreamingProbeControl<<8, probeSet.Value)
	require.Equal(t, VideoStreamingProbeControl<<8, probeGet.Value)
	require.Equal(t, VideoStreamingCommitControl<<8, commit.Value)

	var committed descriptors.VideoProbeCommitControl
	require.NoError(t, committed.UnmarshalBinary(commit.Data))
	require.Equal(t, uint32(3072), committed.MaxPayloadTransferSize,
		"commit must echo the device-adjusted block, not the original request")

	// UVC 1.0 device negotiates with 26-byte blocks.
	require.Len(t, commit.Data, descriptors.ProbeCommitSizeUVC10)
}

func TestProbeCommitIdempotent(t *testing.T) {
	handle := &fakeDeviceHandle{}
	handle.controlResponder = probeResponder(t, 640*480*2, 3072)
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())

	first, err := n.ProbeCommit(testFormat())
	require.NoError(t, err)
	second, err := n.ProbeCommit(testFormat())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestProbeCommitRejectsZeroedSizes(t *testing.T) {
	handle := &fakeDeviceHandle{}
	handle.controlResponder = probeResponder(t, 0, 0)
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())

	_, err := n.ProbeCommit(testFormat())
	require.ErrorIs(t, err, ErrNegotiationRejected)
}

func TestProbeCommitRejectsShortWrite(t *testing.T) {
	handle := &fakeDeviceHandle{}
	handle.controlResponder = func(call controlCall, data []byte) (int, error) {
		if requests.RequestCode(call.Request) == requests.RequestCodeSetCur {
			return len(call.Data) - 4, nil
		}
		return len(data), nil
	}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	_, err := n.ProbeCommit(testFormat())
	require.ErrorIs(t, err, ErrNegotiationRejected)
}

func TestAltSettingWMaxPacketSizeDecode(t *testing.T) {
	tests := []struct {
		raw          uint16
		base         uint32
		transactions uint32
		total        uint32
	}{
		{0x0400, 1024, 1, 1024},        // plain 1024
		{0x0C00, 1024, 2, 2048},        // bits 11-12 = 01: 2 transactions
		{0x1400, 1024, 3, 3072},        // bits 11-12 = 10: 3 transactions
		{0x00C0, 192, 1, 192},          // full-speed audio sized
		{0x0BFF, 0x3FF, 2, 0x3FF * 2},  // base uses bottom 11 bits
	}
	for _, tt := range tests {
		alt := usbio.AltSetting{MaxPacketSize: tt.raw}
		require.Equal(t, tt.base, alt.BasePacketSize(), "raw %#04x", tt.raw)
		require.Equal(t, tt.transactions, alt.Transactions(), "raw %#04x", tt.raw)
		require.Equal(t, tt.total, alt.TotalBandwidth(), "raw %#04x", tt.raw)
	}
}

func testAlternates() []usbio.AltSetting {
	return []usbio.AltSetting{
		{Alternate: 1, EndpointAddress: 0x81, MaxPacketSize: 0x0200}, // 512
		{Alternate: 2, EndpointAddress: 0x81, MaxPacketSize: 0x0400}, // 1024
		{Alternate: 3, EndpointAddress: 0x81, MaxPacketSize: 0x1400}, // 1024x3 high-bandwidth
	}
}

func TestSelectAlternatePrefersHighBandwidth(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	n.SetAlternates(testAlternates())

	tr, err := n.SelectAlternate(2048, ProbeResult{MaxVideoFrameSize: 640 * 480 * 2})
	require.NoError(t, err)
	require.Equal(t, uint8(3), tr.AlternateIndex)
	require.Equal(t, uint32(3072), tr.PacketSize)
	require.Equal(t, uint32(3), tr.Transactions)
	require.True(t, tr.HighBandwidth)
	require.True(t, n.UsingHighBandwidth())
	require.Equal(t, []struct{ Iface, Alt uint8 }{{1, 3}}, handle.altSettings)

	// Pump buffer is base x transactions x 32 packet slots.
	require.Equal(t, 3072*32, PumpBufferSize(tr))
}

func TestSelectAlternateSkipsHighBandwidthWhenBroken(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{HighBandwidthFailureThreshold: 5}, zerolog.Nop())
	n.SetAlternates(testAlternates())

	// Go high-bandwidth first.
	tr, err := n.SelectAlternate(1024, ProbeResult{})
	require.NoError(t, err)
	require.True(t, tr.HighBandwidth)

	// Five consecutive whole-transfer failures demote it.
	restart := false
	for i := 0; i < 5; i++ {
		restart = n.OnTransferFailure()
	}
	require.True(t, restart)
	require.Equal(t, HighBandwidthBroken, n.HighBandwidthMode())

	// The next selection must land on a single-transaction alternate.
	tr, err = n.SelectAlternate(1024, ProbeResult{})
	require.NoError(t, err)
	require.Equal(t, uint8(2), tr.AlternateIndex)
	require.Equal(t, uint32(1), tr.Transactions)
	require.False(t, tr.HighBandwidth)
}

func TestSelectAlternateEnvironmentOverrides(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{DisableHighBandwidth: true}, zerolog.Nop())
	n.SetAlternates(testAlternates())
	tr, err := n.SelectAlternate(512, ProbeResult{})
	require.NoError(t, err)
	require.False(t, tr.HighBandwidth)
	require.Equal(t, uint32(1024), tr.PacketSize)

	n2 := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{ForceHighBandwidth: true}, zerolog.Nop())
	n2.SetAlternates(testAlternates())
	_, err = n2.SelectAlternate(512, ProbeResult{})
	require.NoError(t, err)
	// Even a "broken" verdict cannot override a forced enable.
	for i := 0; i < 10; i++ {
		n2.OnTransferFailure()
	}
	require.Equal(t, HighBandwidthBroken, n2.HighBandwidthMode())
	require.True(t, n2.ShouldUseHighBandwidth())
}

func TestSuccessConfirmsHighBandwidth(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	n.SetAlternates(testAlternates())
	_, err := n.SelectAlternate(1024, ProbeResult{})
	require.NoError(t, err)
	require.Equal(t, HighBandwidthUnknown, n.HighBandwidthMode())
	n.OnTransferSuccess()
	require.Equal(t, HighBandwidthWorking, n.HighBandwidthMode())
}

func TestYUY2FrameIntervalAdaptation(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	// Single 512-byte alternate: 512*8000 = 4.096 MB/s. A 640x480 YUY2
	// frame is 614400 bytes, so ~6.6 fps max; requesting 30 fps must be
	// lowered to ~6 fps (90% margin).
	n.SetAlternates([]usbio.AltSetting{{Alternate: 1, EndpointAddress: 0x81, MaxPacketSize: 0x0200}})

	interval := n.adaptFrameInterval(testFormat())
	fps := float64(time.Second) / float64(interval)
	require.InDelta(t, 6.0, fps, 0.2)

	// Plenty of bandwidth: the requested rate survives.
	n.SetAlternates([]usbio.AltSetting{{Alternate: 1, EndpointAddress: 0x81, MaxPacketSize: 0x1400}})
	interval = n.adaptFrameInterval(testFormat())
	require.Equal(t, 333333*100*time.Nanosecond, interval)
}

func TestSelectIdleAlternateSendsStandardSetInterface(t *testing.T) {
	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	n.SetAlternates(testAlternates())
	_, err := n.SelectAlternate(512, ProbeResult{})
	require.NoError(t, err)

	require.NoError(t, n.SelectIdleAlternate())
	last := handle.controlCalls[len(handle.controlCalls)-1]
	require.Equal(t, uint8(requests.RequestTypeStandardInterfaceSetRequest), last.RequestType)
	require.Equal(t, uint8(requests.RequestCodeSetInterface), last.Request)
	require.Equal(t, uint16(0), last.Value)
	require.Equal(t, uint16(1), last.Index)
	require.Empty(t, last.Data)

	// Already parked: no second request.
	calls := len(handle.controlCalls)
	require.NoError(t, n.SelectIdleAlternate())
	require.Len(t, handle.controlCalls, calls)
}

func TestParseDescriptorsBuildsLadderAndEndpoint(t *testing.T) {
	vs := []byte{}
	// VS_INPUT_HEADER: 1 format, endpoint 0x81.
	vs = append(vs, []byte{14, 0x24, 0x01, 1, 0x00, 0x00, 0x81, 0x00, 0x02, 0x00, 0x00, 0x00, 1, 0x00}...)
	// VS_FORMAT_UNCOMPRESSED (YUY2).
	vs = append(vs, []byte{27, 0x24, 0x04, 1, 2,
		0x59, 0x55, 0x59, 0x32, 0x00, 0x00, 0x10, 0x00,
		0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
		16, 1, 0, 0, 0, 0}...)
	// Two VS_FRAME_UNCOMPRESSED rungs: 640x480 and 320x240.
	frame := func(index uint8, w, h uint16) []byte {
		b := []byte{30, 0x24, 0x05, index, 0,
			byte(w), byte(w >> 8), byte(h), byte(h >> 8),
			0, 0, 0x10, 0, 0, 0, 0x40, 0,
			0, 0x60, 0x09, 0,
			0x15, 0x16, 0x05, 0x00, // 30fps default
			1,
			0x15, 0x16, 0x05, 0x00}
		return b
	}
	vs = append(vs, frame(1, 640, 480)...)
	vs = append(vs, frame(2, 320, 240)...)

	handle := &fakeDeviceHandle{}
	n := NewNegotiator(handle, 1, 0x0100, NegotiatorConfig{}, zerolog.Nop())
	require.NoError(t, n.ParseDescriptors(vs))

	require.Equal(t, uint8(0x81), n.EndpointAddress())
	ladder := n.Ladder(PixelFormatYUY2)
	require.Len(t, ladder, 2)
	require.Equal(t, uint16(640), ladder.At(0).Width)
	require.Equal(t, uint16(240), ladder.At(1).Height)
	require.Equal(t, 1, ladder.MaxLevel())

	idx, err := n.FormatIndexFor(PixelFormatYUY2)
	require.NoError(t, err)
	require.Equal(t, uint8(1), idx)
	_, err = n.FormatIndexFor(PixelFormatMJPEG)
	require.ErrorIs(t, err, ErrNoSuchFormat)
}
