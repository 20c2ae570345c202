package uvchost

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/decode"
	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/requests"
	"github.com/camkit/go-uvchost/pkg/transfers"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

var (
	ErrNotStreaming  = errors.New("uvchost: stream not running")
	ErrDisconnected  = errors.New("uvchost: device disconnected")
	ErrNoAudio       = errors.New("uvchost: device has no audio interface")
	ErrNoResolutions = errors.New("uvchost: device offers no frame descriptors")
)

// AudioInterfaceInfo describes the microphone side of the device, as
// discovered during enumeration.
type AudioInterfaceInfo struct {
	InterfaceNumber  uint8
	AlternateSetting uint8
	EndpointAddress  uint8
	MaxPacketSize    int
	FeatureUnitID    uint8
	Descriptors      []byte // class-specific AS blob
}

// DeviceOptions carries everything enumeration hands the core. The
// enumerator (outside this package) opens the device, claims
// interfaces, and extracts the raw class-specific descriptor blobs.
type DeviceOptions struct {
	Handle usbio.DeviceHandle

	ControlInterfaceNumber   uint8
	StreamingInterfaceNumber uint8
	BcdUVC                   descriptors.BinaryCodedDecimal

	// Class-specific descriptor blobs.
	ControlDescriptors   []byte
	StreamingDescriptors []byte

	// Isochronous IN alternates of the streaming interface.
	Alternates []usbio.AltSetting

	// Audio is nil for cameras without a microphone.
	Audio *AudioInterfaceInfo

	PixelFormat transfers.PixelFormat
	Config      Config
	Logger      *zerolog.Logger
}

// Device is one open UVC camera: the capability set of probe/commit,
// alternate selection, descriptor parsing, transfer start/stop, and
// parameter access, assembled over the streaming core.
type Device struct {
	// devMu serializes control requests with transfer submission; the
	// pump and any control setter never proceed concurrently.
	devMu sync.Mutex
	// sessionMu serializes Start/Stop/Accept against each other.
	sessionMu sync.Mutex

	handle usbio.DeviceHandle
	cfg    Config
	log    zerolog.Logger

	neg      *transfers.Negotiator
	pool     *transfers.FramePool
	deframer *transfers.Deframer
	decoder  *decode.Decoder
	fallback *transfers.FallbackController
	controls *ControlSurface

	pixelFormat transfers.PixelFormat
	ladder      transfers.ResolutionLadder
	format      transfers.StreamFormat
	probe       transfers.ProbeResult
	transport   transfers.NegotiatedTransport

	pump      *transfers.Pump
	streaming bool

	disconnected bool

	lastSuccess uint64
	lastErrors  uint64

	audio     *AudioInterfaceInfo
	audioPump *transfers.AudioPump

	frameTimeout time.Duration
}

const defaultFrameTimeout = 2 * time.Second

// NewDevice parses descriptors and prepares a session. No transfers are
// started; call StartStream.
func NewDevice(opts DeviceOptions) (*Device, error) {
	if opts.Handle == nil {
		return nil, errors.New("uvchost: nil device handle")
	}
	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = opts.Config.Logger()
	}

	neg := transfers.NewNegotiator(opts.Handle, opts.StreamingInterfaceNumber, opts.BcdUVC,
		transfers.NegotiatorConfig{
			DisableHighBandwidth: opts.Config.DisableHighBandwidth,
			ForceHighBandwidth:   opts.Config.ForceHighBandwidth,
		}, log)
	neg.SetAlternates(opts.Alternates)
	if err := neg.ParseDescriptors(opts.StreamingDescriptors); err != nil {
		return nil, fmt.Errorf("uvchost: streaming descriptors: %w", err)
	}
	if err := neg.ParseControlDescriptors(opts.ControlDescriptors); err != nil {
		return nil, fmt.Errorf("uvchost: control descriptors: %w", err)
	}
	if opts.Audio != nil {
		if err := neg.ParseAudioDescriptors(opts.Audio.Descriptors); err != nil {
			return nil, fmt.Errorf("uvchost: audio descriptors: %w", err)
		}
	}

	ladder := neg.Ladder(opts.PixelFormat)
	if len(ladder) == 0 {
		return nil, ErrNoResolutions
	}

	d := &Device{
		handle:       opts.Handle,
		cfg:          opts.Config,
		log:          log,
		neg:          neg,
		pool:         transfers.NewFramePool(transfers.DefaultPoolCapacity),
		decoder:      decode.NewDecoder(nil, opts.Config.FrameRepeat, log),
		pixelFormat:  opts.PixelFormat,
		ladder:       ladder,
		audio:        opts.Audio,
		frameTimeout: defaultFrameTimeout,
	}
	neg.SetDeviceLock(&d.devMu)
	d.deframer = transfers.NewDeframer(d.pool, transfers.DefaultMaxRawFrameSize, log)
	d.fallback = transfers.NewFallbackController(transfers.DefaultFallbackConfig(), ladder, d, log)

	d.controls = newControlSurface(opts.Handle, &d.devMu, opts.ControlInterfaceNumber, neg.ProcessingUnit(), log)
	if opts.Audio != nil {
		d.controls.setAudioUnit(opts.ControlInterfaceNumber, opts.Audio.FeatureUnitID)
	}
	d.controls.setResolutionHooks(int32(ladder.MaxLevel()),
		func() int32 { return int32(d.fallback.Level()) },
		d.selectResolution)
	d.controls.init()

	level := 0
	if opts.Config.SafeMode {
		level = ladder.MaxLevel()
		log.Info().Int("level", level).Msg("safe mode: starting at lowest resolution")
	}
	d.fallback.SetLevel(level)
	start := ladder.At(level)
	d.setFormat(start)
	return d, nil
}

// Controls exposes the parameter surface.
func (d *Device) Controls() *ControlSurface { return d.controls }

// Fallback exposes the resolution fallback state.
func (d *Device) Fallback() *transfers.FallbackController { return d.fallback }

// Format is the currently selected stream format.
func (d *Device) Format() transfers.StreamFormat {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	return d.format
}

func (d *Device) setFormat(level transfers.ResolutionLevel) {
	formatIndex, _ := d.neg.FormatIndexFor(d.pixelFormat)
	interval := time.Duration(0)
	if level.FPS > 0 {
		interval = time.Duration(float64(time.Second) / level.FPS)
	}
	d.format = transfers.StreamFormat{
		PixelFormat:   d.pixelFormat,
		Width:         level.Width,
		Height:        level.Height,
		FrameInterval: interval,
		FormatIndex:   formatIndex,
		FrameIndex:    level.FrameIndex,
	}
}

// selectResolution backs the resolution-index control: it moves the
// session to a ladder rung, restarting the stream if one is running.
func (d *Device) selectResolution(level int32) error {
	rung := d.ladder.At(int(level))
	d.sessionMu.Lock()
	streaming := d.streaming
	d.sessionMu.Unlock()
	if streaming {
		if err := d.StopStream(); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := d.AcceptVideoFrame(rung.Width, rung.Height); err != nil {
		return err
	}
	if streaming {
		return d.StartStream()
	}
	return nil
}

// SuggestVideoFrame returns the dimensions of the current ladder level.
func (d *Device) SuggestVideoFrame() (width, height uint16) {
	cur := d.fallback.Current()
	return cur.Width, cur.Height
}

// AcceptVideoFrame selects the ladder rung closest to the requested
// dimensions. The stream must be restarted for it to take effect.
func (d *Device) AcceptVideoFrame(width, height uint16) error {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	if d.disconnected {
		return ErrDisconnected
	}
	bestLevel := 0
	bestDiff := int(^uint(0) >> 1)
	for i, rung := range d.ladder {
		diff := abs(int(rung.Width)-int(width)) + abs(int(rung.Height)-int(height))
		if diff < bestDiff {
			bestDiff = diff
			bestLevel = i
		}
	}
	d.fallback.SetLevel(bestLevel)
	d.setFormat(d.ladder.At(bestLevel))
	d.log.Info().
		Uint16("width", d.format.Width).
		Uint16("height", d.format.Height).
		Msg("video frame accepted")
	return nil
}

// StartStream runs probe/commit and alternate selection, then starts
// the transfer pump. Session counters reset here.
func (d *Device) StartStream() error {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	if d.disconnected {
		return ErrDisconnected
	}
	if d.streaming {
		return nil
	}

	probe, err := d.neg.ProbeCommit(d.format)
	if err != nil {
		return err
	}
	d.probe = probe
	if probe.FrameInterval > 0 {
		d.format.FrameInterval = probe.FrameInterval
	}

	transport, err := d.neg.SelectAlternate(probe.MaxPayloadTransferSize, probe)
	if err != nil {
		return err
	}
	d.transport = transport

	d.deframer.Flush()
	d.deframer.SetExpectedFrameSize(d.format.RawFrameSize())
	d.decoder.ResetCache()
	d.resetSessionCounters()
	d.fallback.Reset()
	if d.pixelFormat == transfers.PixelFormatMJPEG {
		d.fallback.SetExpectedMJPEGMinSize(d.format.Width, d.format.Height)
	}

	d.pump = transfers.NewPump(d.handle, transport, d.deframer, d.neg, nil, d.log)
	d.pump.SetDeviceLock(&d.devMu)
	if err := d.pump.Start(); err != nil {
		return err
	}
	d.streaming = true
	d.log.Info().
		Str("format", d.format.PixelFormat.String()).
		Uint16("width", d.format.Width).
		Uint16("height", d.format.Height).
		Msg("stream started")
	return nil
}

// StopStream stops the pump and parks the interface on alternate 0.
func (d *Device) StopStream() error {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	return d.stopStreamLocked()
}

func (d *Device) stopStreamLocked() error {
	if !d.streaming {
		return nil
	}
	d.pump.Stop()
	d.streaming = false
	if err := d.neg.SelectIdleAlternate(); err != nil {
		d.log.Warn().Err(err).Msg("failed to park streaming interface")
	}
	d.deframer.Flush()
	d.log.Info().Msg("stream stopped")
	return nil
}

// IsStreaming reports whether the pump task is active.
func (d *Device) IsStreaming() bool {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	return d.streaming && d.pump != nil && d.pump.IsRunning()
}

// ResetSessionStats zeroes the per-session counters; the fallback
// controller calls this around level transitions.
func (d *Device) ResetSessionStats() {
	d.resetSessionCounters()
}

func (d *Device) resetSessionCounters() {
	if d.pump != nil {
		d.pump.Stats().Reset()
	}
	d.deframer.Stats.Reset()
	d.lastSuccess = 0
	d.lastErrors = 0
}

// FillFrame blocks for the next completed frame, decodes it into out
// (which must hold width*height*4 bytes), and returns its wall-clock
// stamp. Validation failures do not error; the decoder substitutes the
// last good frame or a pre-filled buffer. The packet-loss window and
// the MJPEG size monitor feed the fallback controller from here, on
// the consumer's thread.
func (d *Device) FillFrame(out []byte) (time.Time, error) {
	d.sessionMu.Lock()
	if d.disconnected {
		d.sessionMu.Unlock()
		return time.Time{}, ErrDisconnected
	}
	if !d.streaming {
		d.sessionMu.Unlock()
		return time.Time{}, ErrNotStreaming
	}
	pump := d.pump
	format := d.format
	timeout := d.frameTimeout
	d.sessionMu.Unlock()

	if err := d.deframer.WaitFrame(timeout); err != nil {
		if d.neg.UsingHighBandwidth() {
			// Repeated timeouts while multi-transaction usually mean the
			// host controller cannot schedule high-bandwidth iso.
			d.neg.OnTransferFailure()
		}
		return time.Time{}, err
	}
	frame, stamp, ok := d.deframer.GetFrame()
	if !ok {
		return time.Time{}, ErrNotStreaming
	}
	defer d.deframer.Recycle(frame)

	if format.PixelFormat == transfers.PixelFormatMJPEG {
		d.fallback.ObserveMJPEGFrameSize(frame.Len())
	}

	if need := format.OutputFrameSize(); len(out) < need {
		return time.Time{}, fmt.Errorf("uvchost: output buffer %d bytes, need %d", len(out), need)
	}
	d.decoder.Decode(frame.Bytes(), format, out)

	// Feed the loss window with the delta since the last delivery.
	stats := pump.Stats()
	success := stats.Success.Load()
	errors := stats.Errors.Load()
	d.fallback.ObservePackets(success-d.lastSuccess, errors-d.lastErrors)
	d.lastSuccess = success
	d.lastErrors = errors

	if pump.RestartRequested() {
		d.log.Warn().Msg("pump requested restart; recycling stream on low-bandwidth alternate")
		cur := d.fallback.Current()
		if err := d.StopStream(); err == nil {
			time.Sleep(50 * time.Millisecond)
			_ = d.AcceptVideoFrame(cur.Width, cur.Height)
			if err := d.StartStream(); err != nil {
				return stamp, err
			}
		}
	}

	return stamp, nil
}

// Disconnect invalidates the transport; every later operation returns
// ErrDisconnected.
func (d *Device) Disconnect() {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	_ = d.stopStreamLocked()
	d.stopAudioLocked()
	d.disconnected = true
	d.deframer.Close()
}

// StartAudio configures the microphone endpoint and starts the audio
// pump.
func (d *Device) StartAudio() error {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	if d.disconnected {
		return ErrDisconnected
	}
	if d.audio == nil {
		return ErrNoAudio
	}
	if d.audioPump != nil && d.audioPump.IsRunning() {
		return nil
	}

	format := transfers.DefaultAudioFormat()
	if af := d.neg.AudioFormat(); af != nil {
		if len(af.SamplingFreqs) > 0 {
			format.SampleRate = af.SamplingFreqs[0]
		}
		if af.NrChannels > 0 {
			format.Channels = int(af.NrChannels)
		}
		if af.BitResolution > 0 {
			format.BitsPerSample = int(af.BitResolution)
		}
	}

	if err := d.handle.SetAltSetting(d.audio.InterfaceNumber, d.audio.AlternateSetting); err != nil {
		return fmt.Errorf("uvchost: audio alternate: %w", err)
	}

	// UAC 1.0 sampling-frequency SET_CUR on the endpoint, 24-bit LE.
	rate := descriptors.EncodeSampleRate24(format.SampleRate)
	d.devMu.Lock()
	_, err := d.handle.ControlTransfer(
		uint8(requests.RequestTypeAudioEndpointSetRequest),
		uint8(requests.RequestCodeSetCur),
		requests.SamplingFreqControl<<8,
		uint16(d.audio.EndpointAddress),
		rate[:], time.Second)
	d.devMu.Unlock()
	if err != nil {
		d.log.Warn().Err(err).Msg("sampling frequency request not accepted; continuing with endpoint default")
	}

	d.audioPump = transfers.NewAudioPump(d.handle, d.audio.EndpointAddress, format,
		d.audio.MaxPacketSize, transfers.NewAudioRing(transfers.DefaultAudioRingCapacity), d.log)
	if err := d.audioPump.Start(); err != nil {
		return err
	}
	d.log.Info().
		Uint32("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bits", format.BitsPerSample).
		Msg("audio started")
	return nil
}

// StopAudio stops the pump and parks the audio interface.
func (d *Device) StopAudio() {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	d.stopAudioLocked()
}

func (d *Device) stopAudioLocked() {
	if d.audioPump == nil {
		return
	}
	d.audioPump.Stop()
	if d.audio != nil {
		if err := d.handle.SetAltSetting(d.audio.InterfaceNumber, 0); err != nil {
			d.log.Warn().Err(err).Msg("failed to park audio interface")
		}
	}
}

// ReadAudio copies PCM bytes into out, waiting briefly for the pump if
// the ring runs dry. Returns the byte count delivered.
func (d *Device) ReadAudio(out []byte) (int, error) {
	d.sessionMu.Lock()
	pump := d.audioPump
	disconnected := d.disconnected
	d.sessionMu.Unlock()
	if disconnected {
		return 0, ErrDisconnected
	}
	if pump == nil {
		return 0, ErrNoAudio
	}
	return pump.Ring().Read(out), nil
}

// AudioFormat reports the PCM layout of the running audio pump.
func (d *Device) AudioFormat() (transfers.AudioFormat, error) {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	if d.audioPump == nil {
		return transfers.AudioFormat{}, ErrNoAudio
	}
	return d.audioPump.Format(), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
