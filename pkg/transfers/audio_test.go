package transfers

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/camkit/go-uvchost/pkg/usbio"
)

func TestAudioRingBackPressure(t *testing.T) {
	r := NewAudioRing(8)
	r.sleep = func(time.Duration) {}

	// 7 bytes fill the ring: one slot always stays empty.
	require.True(t, r.WritePacket([]byte{1, 2, 3, 4, 5, 6, 7}))
	require.Equal(t, 7, r.Available())
	require.Equal(t, 0, r.Free())

	// The next byte cannot fit; the packet is dropped whole.
	require.False(t, r.WritePacket([]byte{8}))
	require.Equal(t, uint64(1), r.Overflows.Load())
	require.Equal(t, 7, r.Available(), "failed write must not move head")

	out := make([]byte, 4)
	require.Equal(t, 4, r.Read(out))
	require.Equal(t, []byte{1, 2, 3, 4}, out)

	// Consumer freed room; a 3-byte write now fits.
	require.True(t, r.WritePacket([]byte{8, 9, 10}))
	require.Equal(t, 6, r.Available())
}

func TestAudioRingInvariant(t *testing.T) {
	r := NewAudioRing(16)
	r.sleep = func(time.Duration) {}
	check := func() {
		require.Equal(t, r.Capacity(), r.Available()+r.Free()+1)
	}
	check()
	r.WritePacket([]byte{1, 2, 3})
	check()
	out := make([]byte, 2)
	r.Read(out)
	check()
	r.WritePacket(bytes.Repeat([]byte{9}, 12))
	check()
}

func TestAudioRingWrapAround(t *testing.T) {
	r := NewAudioRing(8)
	r.sleep = func(time.Duration) {}

	require.True(t, r.WritePacket([]byte{1, 2, 3, 4, 5, 6}))
	out := make([]byte, 6)
	require.Equal(t, 6, r.Read(out))

	// head=tail=6: the next write wraps across the end of the array.
	require.True(t, r.WritePacket([]byte{7, 8, 9, 10}))
	require.Equal(t, 4, r.Read(out[:4]))
	require.Equal(t, []byte{7, 8, 9, 10}, out[:4])
}

func TestAudioRingReadReturnsAvailableWhenShort(t *testing.T) {
	r := NewAudioRing(16)
	slept := 0
	r.sleep = func(time.Duration) { slept++ }
	r.WritePacket([]byte{1, 2, 3})

	out := make([]byte, 8)
	n := r.Read(out)
	require.Equal(t, 3, n, "Read returns min(len(out), available)")
	require.Equal(t, 50, slept, "reader waits in 1ms slices up to 50ms")
}

func TestAudioRingCapacityRoundsToPowerOfTwo(t *testing.T) {
	require.Equal(t, 8, NewAudioRing(7).Capacity())
	require.Equal(t, 8, NewAudioRing(8).Capacity())
	require.Equal(t, DefaultAudioRingCapacity, NewAudioRing(0).Capacity())
}

func TestAudioFormatArithmetic(t *testing.T) {
	f := AudioFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	require.Equal(t, 4, f.BytesPerFrame())
	require.Equal(t, 192, f.BytesPerMillisecond())
}

func TestAudioPumpCopiesPacketsIntoRing(t *testing.T) {
	pcm1 := bytes.Repeat([]byte{0x11}, 8)
	pcm2 := bytes.Repeat([]byte{0x22}, 8)
	rounds := []fakeIsoRound{{
		packets: []usbio.IsoPacket{
			{Status: usbio.PacketCompleted, ActualLength: 8},
			{Status: usbio.PacketError},
			{Status: usbio.PacketCompleted, ActualLength: 8},
		},
		payloads: [][]byte{pcm1, nil, pcm2},
	}}
	// Audio packet slots follow the same fixed-offset rule as video.
	format := AudioFormat{SampleRate: 2000, Channels: 2, BitsPerSample: 16}
	require.Equal(t, 8, format.BytesPerMillisecond())

	handle := &fakeDeviceHandle{isoTransfer: newFakeIsoTransfer(audioPacketsPerTransfer, 8, rounds)}
	pump := NewAudioPump(handle, 0x83, format, 0, NewAudioRing(1024), zerolog.Nop())
	pump.sleep = func(time.Duration) {}
	pump.Ring().sleep = func(time.Duration) {}

	require.NoError(t, pump.Start())
	deadline := time.After(5 * time.Second)
	for pump.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("audio pump did not terminate")
		case <-time.After(time.Millisecond):
		}
	}
	pump.Stop()

	out := make([]byte, 16)
	require.Equal(t, 16, pump.Ring().Read(out))
	require.Equal(t, append(append([]byte{}, pcm1...), pcm2...), out)
	require.Equal(t, uint64(2), pump.Stats().Packets.Load())
	require.Equal(t, uint64(1), pump.Stats().PacketErrors.Load())
}

func TestAudioPumpClampsPacketSizeToEndpoint(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	pump := NewAudioPump(&fakeDeviceHandle{}, 0x83, format, 100, NewAudioRing(1024), zerolog.Nop())
	require.Equal(t, 100, pump.PacketSize())
}
