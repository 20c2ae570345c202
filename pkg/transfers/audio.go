package transfers

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/usbio"
)

// AudioFormat is the PCM layout of the microphone stream.
type AudioFormat struct {
	SampleRate    uint32
	Channels      int
	BitsPerSample int
}

// DefaultAudioFormat matches the most common webcam microphone
// configuration, used when descriptors omit fields.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
}

// BytesPerFrame is one sample across all channels.
func (f AudioFormat) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerMillisecond is the PCM rate per USB frame slot.
func (f AudioFormat) BytesPerMillisecond() int {
	return int(f.SampleRate) * f.BytesPerFrame() / 1000
}

// DefaultAudioRingCapacity is 64 KiB, a power of two for cheap modulo.
const DefaultAudioRingCapacity = 64 * 1024

// AudioRing is a single-producer single-consumer byte ring. The pump
// advances head after copying in, the reader advances tail after
// copying out; the byte array itself needs no lock because each side
// only touches the region the indexes grant it. One slot stays empty:
// available + free + 1 == capacity.
type AudioRing struct {
	buf      []byte
	capacity uint32
	mask     uint32
	head     atomic.Uint32
	tail     atomic.Uint32

	Overflows atomic.Uint64

	sleep func(time.Duration)
}

func NewAudioRing(capacity int) *AudioRing {
	if capacity <= 0 {
		capacity = DefaultAudioRingCapacity
	}
	// Round up to a power of two.
	c := uint32(1)
	for c < uint32(capacity) {
		c <<= 1
	}
	return &AudioRing{
		buf:      make([]byte, c),
		capacity: c,
		mask:     c - 1,
		sleep:    time.Sleep,
	}
}

func (r *AudioRing) Capacity() int { return int(r.capacity) }

// Available is the byte count the consumer may read.
func (r *AudioRing) Available() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int((head - tail) & r.mask)
}

// Free is the byte count the producer may write.
func (r *AudioRing) Free() int {
	return int(r.capacity) - r.Available() - 1
}

// WritePacket copies one packet in, all or nothing. A packet that does
// not fit is dropped whole and counted; partial PCM would shift every
// later sample across channels.
func (r *AudioRing) WritePacket(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	if len(p) > r.Free() {
		r.Overflows.Add(1)
		return false
	}
	head := r.head.Load()
	pos := head & r.mask
	first := copy(r.buf[pos:], p)
	if first < len(p) {
		copy(r.buf, p[first:])
	}
	r.head.Store(head + uint32(len(p)))
	return true
}

const (
	audioReadWait      = 50 * time.Millisecond
	audioReadWaitSlice = time.Millisecond
)

// Read copies up to len(out) bytes, returning min(len(out), available).
// If the ring holds less than requested it snoozes in 1ms slices for up
// to 50ms waiting for the pump to catch up.
func (r *AudioRing) Read(out []byte) int {
	if len(out) == 0 {
		return 0
	}
	deadline := audioReadWait / audioReadWaitSlice
	for i := time.Duration(0); i < deadline; i++ {
		if r.Available() >= len(out) {
			break
		}
		r.sleep(audioReadWaitSlice)
	}
	avail := r.Available()
	if avail == 0 {
		return 0
	}
	n := len(out)
	if n > avail {
		n = avail
	}
	tail := r.tail.Load()
	pos := tail & r.mask
	first := copy(out[:n], r.buf[pos:])
	if first < n {
		copy(out[first:n], r.buf)
	}
	r.tail.Store(tail + uint32(n))
	return n
}

// Audio pump constants: 16 packets per transfer with a short
// per-transfer backoff. Unlike video, a failed audio transfer is
// retried as a whole; PCM has no frame structure to resynchronize.
const (
	audioPacketsPerTransfer = 16
	audioRetryInitial       = time.Millisecond
	audioRetryMax           = 10 * time.Millisecond
	audioMaxAttempts        = 3
)

// AudioPump drives isochronous IN transfers on the audio endpoint and
// feeds the ring.
type AudioPump struct {
	handle     usbio.DeviceHandle
	endpoint   uint8
	format     AudioFormat
	packetSize int
	ring       *AudioRing
	stats      AudioStats
	log        zerolog.Logger

	running atomic.Bool
	done    chan struct{}

	sleep func(time.Duration)
	now   func() time.Time
}

// NewAudioPump sizes the packet slot from the PCM format, clamped to
// the endpoint maximum.
func NewAudioPump(handle usbio.DeviceHandle, endpoint uint8, format AudioFormat, endpointMaxPacket int, ring *AudioRing, log zerolog.Logger) *AudioPump {
	packetSize := format.BytesPerMillisecond()
	if packetSize == 0 {
		packetSize = DefaultAudioFormat().BytesPerMillisecond()
	}
	if endpointMaxPacket > 0 && packetSize > endpointMaxPacket {
		packetSize = endpointMaxPacket
	}
	if ring == nil {
		ring = NewAudioRing(DefaultAudioRingCapacity)
	}
	return &AudioPump{
		handle:     handle,
		endpoint:   endpoint,
		format:     format,
		packetSize: packetSize,
		ring:       ring,
		log:        log,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

func (a *AudioPump) Ring() *AudioRing    { return a.ring }
func (a *AudioPump) Format() AudioFormat { return a.format }
func (a *AudioPump) Stats() *AudioStats  { return &a.stats }
func (a *AudioPump) PacketSize() int     { return a.packetSize }

func (a *AudioPump) Start() error {
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	tx, err := a.handle.NewIsoTransfer(a.endpoint, audioPacketsPerTransfer, a.packetSize)
	if err != nil {
		a.running.Store(false)
		return fmt.Errorf("audio transfer alloc failed: %w", err)
	}
	a.done = make(chan struct{})
	go a.run(tx)
	return nil
}

func (a *AudioPump) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	select {
	case <-a.done:
	case <-time.After(pumpStopTimeout):
		a.log.Warn().Msg("audio pump did not stop within timeout")
	}
}

func (a *AudioPump) IsRunning() bool { return a.running.Load() }

func (a *AudioPump) run(tx usbio.IsoTransfer) {
	defer close(a.done)
	defer tx.Cancel()

	consecutiveErrors := 0
	backoff := audioRetryInitial
	lastReport := a.now()

	for a.running.Load() {
		var err error
		for attempt := 0; attempt < audioMaxAttempts && a.running.Load(); attempt++ {
			err = tx.Submit()
			if err == nil {
				break
			}
			if usbio.Classify(err) == usbio.ErrorDisconnected {
				a.log.Error().Msg("audio device disconnected; stopping pump")
				a.running.Store(false)
				return
			}
			a.sleep(backoff)
			backoff *= 2
			if backoff > audioRetryMax {
				backoff = audioRetryMax
			}
		}
		a.stats.Transfers.Add(1)

		if err != nil {
			a.stats.TransferErrors.Add(1)
			consecutiveErrors++
			if consecutiveErrors == 10 || consecutiveErrors == 100 {
				a.log.Warn().Int("consecutive", consecutiveErrors).Msg("audio transfer errors")
			}
			a.sleep(backoff)
			continue
		}
		if consecutiveErrors > 0 {
			consecutiveErrors = 0
			backoff = audioRetryInitial
		}

		buf := tx.Buffer()
		for i, pkt := range tx.Packets() {
			if pkt.Status != usbio.PacketCompleted {
				a.stats.PacketErrors.Add(1)
				continue
			}
			if pkt.ActualLength <= 0 {
				continue
			}
			offset := i * a.packetSize
			if offset+pkt.ActualLength > len(buf) {
				a.stats.PacketErrors.Add(1)
				continue
			}
			a.stats.Packets.Add(1)
			a.ring.WritePacket(buf[offset : offset+pkt.ActualLength])
		}

		if now := a.now(); now.Sub(lastReport) > statsReportInterval {
			lastReport = now
			if e := a.stats.TransferErrors.Load(); e > 0 {
				a.log.Info().
					Uint64("transfers", a.stats.Transfers.Load()).
					Uint64("errors", e).
					Uint64("overflows", a.ring.Overflows.Load()).
					Msg("audio statistics")
			}
		}
	}
}
