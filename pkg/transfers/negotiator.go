package transfers

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/formats"
	"github.com/camkit/go-uvchost/pkg/requests"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

// VS interface control selectors (wValue high byte).
const (
	VideoStreamingProbeControl  uint16 = 0x01
	VideoStreamingCommitControl uint16 = 0x02
)

const (
	controlTimeout = time.Second

	// PumpPackets is the fixed packet-descriptor count per isochronous
	// transfer. The pump buffer is sized packetSize*PumpPackets so the
	// host places slot i at offset i*packetSize.
	PumpPackets = 32

	// Microframes per second on a USB 2.0 high-speed bus.
	microframesPerSecond = 8000
)

var (
	ErrNegotiationRejected = errors.New("negotiator: device rejected probe/commit")
	ErrNoAlternate         = errors.New("negotiator: no usable isochronous alternate")
	ErrNoSuchFormat        = errors.New("negotiator: requested format not offered by device")
)

// HighBandwidthMode is the tri-state gate for multi-transaction
// isochronous endpoints.
type HighBandwidthMode int

const (
	HighBandwidthUnknown HighBandwidthMode = iota // untested: try it
	HighBandwidthWorking
	HighBandwidthBroken
)

// NegotiatorConfig carries the policy knobs; zero value means defaults.
type NegotiatorConfig struct {
	DisableHighBandwidth bool
	ForceHighBandwidth   bool
	// HighBandwidthFailureThreshold is the consecutive whole-transfer
	// failure count that demotes high-bandwidth mode. Tuning knob, not
	// a contract; 5 by default.
	HighBandwidthFailureThreshold uint32
}

// ProbeResult is what the device granted during probe/commit.
type ProbeResult struct {
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32
	FrameInterval          time.Duration
	FormatIndex            uint8
	FrameIndex             uint8
}

// Negotiator owns format negotiation and alternate-setting selection
// for one streaming interface.
type Negotiator struct {
	handle usbio.DeviceHandle
	ifnum  uint8
	bcdUVC descriptors.BinaryCodedDecimal
	cfg    NegotiatorConfig
	log    zerolog.Logger

	// devMu, when set, serializes the negotiator's control requests
	// with transfer submission on the same device.
	devMu *sync.Mutex

	endpointAddress uint8
	alternates      []usbio.AltSetting

	yuy2Format  *descriptors.UncompressedFormatDescriptor
	mjpegFormat *descriptors.MJPEGFormatDescriptor
	yuy2Ladder  ResolutionLadder
	mjpegLadder ResolutionLadder

	processingUnit *descriptors.ProcessingUnitDescriptor
	audioFormat    *descriptors.AudioFormatTypeIDescriptor

	currentAlternate uint8

	hbMode     HighBandwidthMode
	hbFailures uint32
	usingHB    bool
}

func NewNegotiator(handle usbio.DeviceHandle, streamingInterface uint8, bcdUVC descriptors.BinaryCodedDecimal, cfg NegotiatorConfig, log zerolog.Logger) *Negotiator {
	if cfg.HighBandwidthFailureThreshold == 0 {
		cfg.HighBandwidthFailureThreshold = 5
	}
	return &Negotiator{
		handle: handle,
		ifnum:  streamingInterface,
		bcdUVC: bcdUVC,
		cfg:    cfg,
		log:    log,
	}
}

// SetDeviceLock installs the device-wide mutex shared with the pumps
// and the control surface.
func (n *Negotiator) SetDeviceLock(mu *sync.Mutex) { n.devMu = mu }

// control issues one control request under the device lock, with the
// standard transient-error backoff for control transfers.
func (n *Negotiator) control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	var written int
	err := usbio.Retry(usbio.DefaultRetryConfig(), nil, func() error {
		if n.devMu != nil {
			n.devMu.Lock()
			defer n.devMu.Unlock()
		}
		var err error
		written, err = n.handle.ControlTransfer(requestType, request, value, index, data, controlTimeout)
		return err
	})
	return written, err
}

// SetAlternates installs the isochronous IN alternates discovered from
// the configuration descriptor.
func (n *Negotiator) SetAlternates(alts []usbio.AltSetting) {
	n.alternates = alts
}

// ParseDescriptors consumes the class-specific descriptor blob of the
// streaming interface and populates the format list, the resolution
// ladders, and the streaming endpoint address. Unknown subtypes are
// skipped.
func (n *Negotiator) ParseDescriptors(raw []byte) error {
	for i := 0; i < len(raw); {
		l := int(raw[i])
		if l < 3 || i+l > len(raw) {
			return fmt.Errorf("negotiator: truncated descriptor block at offset %d", i)
		}
		block := raw[i : i+l]
		i += l
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			continue
		}
		desc, err := descriptors.UnmarshalStreamingInterface(block)
		if err != nil {
			if errors.Is(err, descriptors.ErrUnsupportedDescriptor) {
				continue
			}
			return err
		}
		switch d := desc.(type) {
		case *descriptors.InputHeaderDescriptor:
			n.endpointAddress = d.EndpointAddress
		case *descriptors.UncompressedFormatDescriptor:
			if d.GUIDFormat != formats.CompressionFormatYUY2.WireBytes() {
				n.log.Warn().
					Hex("guid", d.GUIDFormat[:]).
					Msg("uncompressed format is not YUY2; skipping")
				continue
			}
			n.yuy2Format = d
		case *descriptors.UncompressedFrameDescriptor:
			n.yuy2Ladder = append(n.yuy2Ladder, ResolutionLevel{
				Width: d.Width, Height: d.Height,
				FrameIndex: d.FrameIndex,
				FPS:        intervalFPS(d.DefaultFrameInterval),
			})
		case *descriptors.MJPEGFormatDescriptor:
			n.mjpegFormat = d
		case *descriptors.MJPEGFrameDescriptor:
			n.mjpegLadder = append(n.mjpegLadder, ResolutionLevel{
				Width: d.Width, Height: d.Height,
				FrameIndex: d.FrameIndex,
				FPS:        intervalFPS(d.DefaultFrameInterval),
			})
		}
	}
	return nil
}

// ParseControlDescriptors consumes the Video Control interface blob and
// keeps the processing unit, the source of control capability bits.
func (n *Negotiator) ParseControlDescriptors(raw []byte) error {
	for i := 0; i < len(raw); {
		l := int(raw[i])
		if l < 3 || i+l > len(raw) {
			return fmt.Errorf("negotiator: truncated descriptor block at offset %d", i)
		}
		block := raw[i : i+l]
		i += l
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			continue
		}
		desc, err := descriptors.UnmarshalControlInterface(block)
		if err != nil {
			continue
		}
		if pu, ok := desc.(*descriptors.ProcessingUnitDescriptor); ok {
			n.processingUnit = pu
		}
	}
	return nil
}

// ParseAudioDescriptors consumes an Audio Streaming interface blob and
// keeps the type I PCM format if one is present.
func (n *Negotiator) ParseAudioDescriptors(raw []byte) error {
	for i := 0; i < len(raw); {
		l := int(raw[i])
		if l < 3 || i+l > len(raw) {
			return fmt.Errorf("negotiator: truncated descriptor block at offset %d", i)
		}
		block := raw[i : i+l]
		i += l
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			continue
		}
		switch descriptors.AudioStreamingInterfaceDescriptorSubtype(block[2]) {
		case descriptors.AudioStreamingInterfaceDescriptorSubtypeGeneral:
			g := &descriptors.AudioStreamingGeneralDescriptor{}
			if err := g.UnmarshalBinary(block); err == nil && g.FormatTag != descriptors.AudioFormatTagPCM {
				n.log.Warn().
					Uint16("format_tag", g.FormatTag).
					Msg("audio stream is not PCM; microphone disabled")
				n.audioFormat = nil
				return nil
			}
		case descriptors.AudioStreamingInterfaceDescriptorSubtypeFormatType:
			f := &descriptors.AudioFormatTypeIDescriptor{}
			if err := f.UnmarshalBinary(block); err == nil {
				n.audioFormat = f
			}
		}
	}
	return nil
}

// Ladder returns the resolution ladder for a pixel format.
func (n *Negotiator) Ladder(pf PixelFormat) ResolutionLadder {
	if pf == PixelFormatMJPEG {
		return n.mjpegLadder
	}
	return n.yuy2Ladder
}

// ProcessingUnit returns the parsed PU descriptor, nil without one.
func (n *Negotiator) ProcessingUnit() *descriptors.ProcessingUnitDescriptor {
	return n.processingUnit
}

// AudioFormat returns the parsed PCM format, nil without one.
func (n *Negotiator) AudioFormat() *descriptors.AudioFormatTypeIDescriptor {
	return n.audioFormat
}

// EndpointAddress is the streaming endpoint from the input header.
func (n *Negotiator) EndpointAddress() uint8 { return n.endpointAddress }

// FormatIndexFor resolves the device format index for a pixel format.
func (n *Negotiator) FormatIndexFor(pf PixelFormat) (uint8, error) {
	switch pf {
	case PixelFormatYUY2:
		if n.yuy2Format == nil {
			return 0, ErrNoSuchFormat
		}
		return n.yuy2Format.FormatIndex, nil
	case PixelFormatMJPEG:
		if n.mjpegFormat == nil {
			return 0, ErrNoSuchFormat
		}
		return n.mjpegFormat.FormatIndex, nil
	}
	return 0, ErrNoSuchFormat
}

// ProbeCommit runs the UVC two-phase negotiation. The commit phase
// always echoes the device's GET_CUR response, never the original
// request: the device is allowed to adjust any field during probe.
func (n *Negotiator) ProbeCommit(desired StreamFormat) (ProbeResult, error) {
	size := descriptors.ProbeCommitSize(n.bcdUVC)
	interval := n.adaptFrameInterval(desired)

	req := descriptors.VideoProbeCommitControl{
		HintBitmask:   descriptors.ProbeHintFrameInterval,
		FormatIndex:   desired.FormatIndex,
		FrameIndex:    desired.FrameIndex,
		FrameInterval: interval,
	}
	buf := make([]byte, size)
	if err := req.MarshalInto(buf); err != nil {
		return ProbeResult{}, err
	}

	// SET_CUR probe.
	written, err := n.control(
		uint8(requests.RequestTypeVideoInterfaceSetRequest),
		uint8(requests.RequestCodeSetCur),
		VideoStreamingProbeControl<<8, uint16(n.ifnum), buf)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe SET_CUR failed: %w", err)
	}
	if written != size {
		return ProbeResult{}, fmt.Errorf("%w: probe short write %d/%d", ErrNegotiationRejected, written, size)
	}

	// GET_CUR probe: the device's adjusted view.
	echo := make([]byte, size)
	if _, err := n.control(
		uint8(requests.RequestTypeVideoInterfaceGetRequest),
		uint8(requests.RequestCodeGetCur),
		VideoStreamingProbeControl<<8, uint16(n.ifnum), echo); err != nil {
		return ProbeResult{}, fmt.Errorf("probe GET_CUR failed: %w", err)
	}
	var granted descriptors.VideoProbeCommitControl
	if err := granted.UnmarshalBinary(echo); err != nil {
		return ProbeResult{}, err
	}
	if granted.MaxVideoFrameSize == 0 || granted.MaxPayloadTransferSize == 0 {
		return ProbeResult{}, fmt.Errorf("%w: device zeroed frame/payload size", ErrNegotiationRejected)
	}
	if granted.FormatIndex != desired.FormatIndex || granted.FrameIndex != desired.FrameIndex {
		n.log.Warn().
			Uint8("requested_format", desired.FormatIndex).
			Uint8("granted_format", granted.FormatIndex).
			Uint8("requested_frame", desired.FrameIndex).
			Uint8("granted_frame", granted.FrameIndex).
			Msg("device adjusted format selection during probe")
	}

	// SET_CUR commit with the echoed block.
	written, err = n.control(
		uint8(requests.RequestTypeVideoInterfaceSetRequest),
		uint8(requests.RequestCodeSetCur),
		VideoStreamingCommitControl<<8, uint16(n.ifnum), echo)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("commit SET_CUR failed: %w", err)
	}
	if written != size {
		return ProbeResult{}, fmt.Errorf("%w: commit short write %d/%d", ErrNegotiationRejected, written, size)
	}

	n.log.Info().
		Uint32("max_video_frame_size", granted.MaxVideoFrameSize).
		Uint32("max_payload_transfer_size", granted.MaxPayloadTransferSize).
		Dur("frame_interval", granted.FrameInterval).
		Msg("probe/commit complete")

	return ProbeResult{
		MaxVideoFrameSize:      granted.MaxVideoFrameSize,
		MaxPayloadTransferSize: granted.MaxPayloadTransferSize,
		FrameInterval:          granted.FrameInterval,
		FormatIndex:            granted.FormatIndex,
		FrameIndex:             granted.FrameIndex,
	}, nil
}

// adaptFrameInterval lowers the requested YUY2 frame rate when the best
// available isochronous bandwidth cannot carry it. The requested rate
// is kept when it fits within 90% of the achievable rate.
func (n *Negotiator) adaptFrameInterval(desired StreamFormat) time.Duration {
	interval := desired.FrameInterval
	if interval <= 0 {
		interval = 333333 * 100 * time.Nanosecond // 30fps default
	}
	if desired.PixelFormat != PixelFormatYUY2 {
		return interval
	}
	maxBandwidth := n.maxAvailableBandwidth()
	frameSize := desired.RawFrameSize()
	if maxBandwidth == 0 || frameSize == 0 {
		return interval
	}
	bytesPerSecond := float64(maxBandwidth) * microframesPerSecond
	maxFPS := bytesPerSecond / float64(frameSize)
	safeFPS := maxFPS * 0.9
	if safeFPS < 1 {
		safeFPS = 1
	}
	adapted := time.Duration(float64(time.Second) / safeFPS)
	if adapted > interval {
		n.log.Info().
			Float64("max_fps", maxFPS).
			Float64("adapted_fps", safeFPS).
			Msg("lowering requested frame rate to fit isochronous bandwidth")
		return adapted
	}
	return interval
}

// maxAvailableBandwidth is the best effective per-microframe byte
// budget across alternates, honoring the high-bandwidth gate.
func (n *Negotiator) maxAvailableBandwidth() uint32 {
	allowHB := n.ShouldUseHighBandwidth()
	var best uint32
	for _, alt := range n.alternates {
		bw := effectiveBandwidth(alt, allowHB)
		if bw > best {
			best = bw
		}
	}
	return best
}

func effectiveBandwidth(alt usbio.AltSetting, allowHB bool) uint32 {
	if alt.Transactions() > 1 {
		if !allowHB {
			return 0
		}
		return alt.TotalBandwidth()
	}
	return alt.BasePacketSize()
}

// SelectAlternate picks the alternate with the largest effective
// bandwidth, switches the interface onto it, and returns the transport
// the pump streams with. requiredPacketBytes comes from commit; a best
// alternate below it is still used, with a warning, matching devices
// that overstate their payload needs.
func (n *Negotiator) SelectAlternate(requiredPacketBytes uint32, probe ProbeResult) (NegotiatedTransport, error) {
	if len(n.alternates) == 0 {
		return NegotiatedTransport{}, ErrNoAlternate
	}
	allowHB := n.ShouldUseHighBandwidth()

	var best usbio.AltSetting
	var bestBW uint32
	for _, alt := range n.alternates {
		bw := effectiveBandwidth(alt, allowHB)
		if bw == 0 {
			continue
		}
		if alt.Transactions() > 1 {
			n.log.Debug().
				Uint32("transactions", alt.Transactions()).
				Uint32("bandwidth", bw).
				Msg("considering high-bandwidth alternate")
		}
		if bw > bestBW {
			bestBW = bw
			best = alt
		}
	}
	if bestBW == 0 {
		return NegotiatedTransport{}, ErrNoAlternate
	}
	if bestBW < requiredPacketBytes {
		n.log.Warn().
			Uint32("available", bestBW).
			Uint32("required", requiredPacketBytes).
			Msg("best alternate below committed payload size; streaming anyway")
	}

	if err := n.handle.SetAltSetting(n.ifnum, best.Alternate); err != nil {
		return NegotiatedTransport{}, fmt.Errorf("set alternate %d failed: %w", best.Alternate, err)
	}
	n.currentAlternate = best.Alternate
	n.usingHB = best.Transactions() > 1

	if probe.MaxVideoFrameSize > 0 {
		maxFPS := float64(bestBW) * microframesPerSecond / float64(probe.MaxVideoFrameSize)
		if maxFPS < 5 {
			n.log.Warn().
				Float64("max_fps", maxFPS).
				Msg("selected bandwidth likely insufficient for this resolution")
		}
	}
	n.log.Info().
		Uint8("alternate", best.Alternate).
		Uint32("base_packet_size", best.BasePacketSize()).
		Uint32("transactions", best.Transactions()).
		Uint32("effective_bandwidth", bestBW).
		Bool("high_bandwidth", n.usingHB).
		Msg("alternate selected")

	return NegotiatedTransport{
		EndpointAddress:        best.EndpointAddress,
		AlternateIndex:         best.Alternate,
		BasePacketSize:         best.BasePacketSize(),
		Transactions:           best.Transactions(),
		PacketSize:             bestBW,
		MaxVideoFrameSize:      probe.MaxVideoFrameSize,
		MaxPayloadTransferSize: probe.MaxPayloadTransferSize,
		Isochronous:            true,
		HighBandwidth:          n.usingHB,
	}, nil
}

// SelectIdleAlternate parks the streaming interface on alternate 0 via
// a plain SET_INTERFACE request. Streaming stop always goes through
// here; the standard request avoids host-side helpers that re-derive
// endpoint state mid-teardown.
func (n *Negotiator) SelectIdleAlternate() error {
	if n.currentAlternate == 0 {
		return nil
	}
	_, err := n.control(
		uint8(requests.RequestTypeStandardInterfaceSetRequest),
		uint8(requests.RequestCodeSetInterface),
		0, uint16(n.ifnum), nil)
	if err != nil {
		return fmt.Errorf("set interface alternate 0 failed: %w", err)
	}
	n.currentAlternate = 0
	return nil
}

// ShouldUseHighBandwidth evaluates the tri-state gate with environment
// overrides taking precedence over auto-detection.
func (n *Negotiator) ShouldUseHighBandwidth() bool {
	if n.cfg.DisableHighBandwidth {
		return false
	}
	if n.cfg.ForceHighBandwidth {
		return true
	}
	return n.hbMode != HighBandwidthBroken
}

// HighBandwidthMode reports the detection state.
func (n *Negotiator) HighBandwidthMode() HighBandwidthMode { return n.hbMode }

// UsingHighBandwidth reports whether the current alternate multiplies
// transactions.
func (n *Negotiator) UsingHighBandwidth() bool { return n.usingHB }

// OnTransferFailure is the pump's consecutive whole-transfer failure
// hook. Returns true when high-bandwidth was just demoted and the
// caller should restart the stream on a transactions=1 alternate.
func (n *Negotiator) OnTransferFailure() bool {
	n.hbFailures++
	if n.usingHB && n.hbMode != HighBandwidthBroken && n.hbFailures >= n.cfg.HighBandwidthFailureThreshold {
		n.hbMode = HighBandwidthBroken
		n.log.Warn().
			Uint32("consecutive_failures", n.hbFailures).
			Msg("marking high-bandwidth isochronous mode broken; restart will use single-transaction alternates")
		return true
	}
	return false
}

// OnTransferSuccess resets the failure counter and, on the first
// success while multi-transaction, confirms high-bandwidth works.
func (n *Negotiator) OnTransferSuccess() {
	n.hbFailures = 0
	if n.usingHB && n.hbMode == HighBandwidthUnknown {
		n.hbMode = HighBandwidthWorking
		n.log.Info().Msg("high-bandwidth isochronous mode confirmed working")
	}
}

// PumpBufferSize is the exact transfer buffer size for a transport:
// packet slots are contiguous at offsets i*PacketSize.
func PumpBufferSize(t NegotiatedTransport) int {
	return int(t.PacketSize) * PumpPackets
}

func intervalFPS(interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(interval)
}
