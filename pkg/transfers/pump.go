package transfers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/go-uvchost/pkg/usbio"
)

// Pump loop tuning. The thresholds mirror the log-throttle and failure
// ladder contracts; none of them are per-device.
const (
	pumpStopTimeout = 2 * time.Second

	consecutiveFailureWarn  = 10
	consecutiveFailurePause = 50
	failurePauseDuration    = 10 * time.Millisecond

	statsReportInterval = 30 * time.Second

	logVerboseCount  = 5
	logEveryNth      = 1000
	logTimeInterval  = 5 * time.Second
	bulkReadTimeout  = time.Second
)

// PayloadSink receives raw UVC payload packets. The deframer is the
// only production implementation.
type PayloadSink interface {
	Write(pkt []byte) int
}

// TransferEvents is the negotiator-facing side channel: the pump
// reports whole-transfer outcomes, the listener owns high-bandwidth
// demotion and restart requests.
type TransferEvents interface {
	OnTransferFailure() bool
	OnTransferSuccess()
}

// Pump owns the streaming endpoint for the lifetime of a session and
// drives repeated IN transfers, forwarding good packets to the sink.
type Pump struct {
	handle    usbio.DeviceHandle
	transport NegotiatedTransport
	sink      PayloadSink
	events    TransferEvents
	stats     *TransportStats
	log       zerolog.Logger

	running atomic.Bool
	done    chan struct{}

	mu sync.Mutex
	tx usbio.IsoTransfer

	// RestartRequested latches when the events listener asked for a
	// stream restart (high-bandwidth demotion).
	restartRequested atomic.Bool

	// devMu, when set, serializes transfer submission with control
	// requests on the same device. Held only across the submit itself so
	// control setters block the pump briefly, never the reverse for
	// long.
	devMu *sync.Mutex

	sleep func(time.Duration)
	now   func() time.Time
}

// SetDeviceLock installs the device-wide mutex shared with the control
// surface.
func (p *Pump) SetDeviceLock(mu *sync.Mutex) { p.devMu = mu }

func (p *Pump) submitLocked(fn func() error) error {
	if p.devMu != nil {
		p.devMu.Lock()
		defer p.devMu.Unlock()
	}
	return fn()
}

func NewPump(handle usbio.DeviceHandle, transport NegotiatedTransport, sink PayloadSink, events TransferEvents, stats *TransportStats, log zerolog.Logger) *Pump {
	if stats == nil {
		stats = &TransportStats{}
	}
	return &Pump{
		handle:    handle,
		transport: transport,
		sink:      sink,
		events:    events,
		stats:     stats,
		log:       log,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Stats exposes the pump's packet counters.
func (p *Pump) Stats() *TransportStats { return p.stats }

// RestartRequested reports whether the transfer-failure hook demanded a
// stream restart.
func (p *Pump) RestartRequested() bool { return p.restartRequested.Load() }

// Start spawns the transfer task and returns once it is running.
func (p *Pump) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	p.done = make(chan struct{})
	started := make(chan struct{})
	go p.run(started)
	<-started
	return nil
}

// Stop signals the task and waits for a clean exit, bounded by a 2s
// timeout after which the pump is abandoned to die with its transfer.
func (p *Pump) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	if p.tx != nil {
		// Unblock a submit that is waiting in the transport.
		_ = p.tx.Cancel()
	}
	p.mu.Unlock()
	select {
	case <-p.done:
	case <-time.After(pumpStopTimeout):
		p.log.Warn().Msg("pump did not stop within timeout; abandoning transfer task")
	}
}

func (p *Pump) IsRunning() bool { return p.running.Load() }

func (p *Pump) run(started chan<- struct{}) {
	defer close(p.done)
	close(started)
	if p.transport.Isochronous {
		p.runIsochronous()
	} else {
		p.runBulk()
	}
}

func (p *Pump) runIsochronous() {
	packetSize := int(p.transport.PacketSize)
	tx, err := p.handle.NewIsoTransfer(p.transport.EndpointAddress, PumpPackets, packetSize)
	if err != nil {
		p.log.Error().Err(err).Msg("isochronous transfer allocation failed")
		p.running.Store(false)
		return
	}
	p.mu.Lock()
	p.tx = tx
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.tx = nil
		p.mu.Unlock()
		tx.Cancel()
	}()

	var (
		attempts   uint64
		lastLog    time.Time
		lastReport = p.now()
		startTime  = p.now()
	)

	for p.running.Load() {
		err := p.submitLocked(tx.Submit)
		attempts++

		now := p.now()
		if attempts <= logVerboseCount || attempts%logEveryNth == 0 || now.Sub(lastLog) > logTimeInterval {
			lastLog = now
			p.log.Debug().
				Uint64("transfer", attempts).
				Err(err).
				Msg("isochronous transfer completed")
		}

		if err != nil {
			kind := usbio.Classify(err)
			p.stats.RecordTransferResult(kind)
			switch kind {
			case usbio.ErrorDisconnected:
				p.log.Error().Msg("device disconnected; stopping pump")
				p.running.Store(false)
				return
			case usbio.ErrorStall:
				// Best effort; a stalled iso endpoint usually self-clears.
				_ = p.handle.ClearHalt(p.transport.EndpointAddress)
			}
			failures := p.stats.addConsecutiveFailure()
			action := usbio.EscalateRetry(usbio.RecommendedAction(kind),
				p.stats.LossPercent(), failures)
			if action > usbio.RecoveryRetry {
				p.log.Warn().
					Str("error", kind.String()).
					Str("action", action.String()).
					Msg("transfer error recovery escalated")
			}
			if failures == consecutiveFailureWarn {
				p.log.Warn().Uint32("failures", failures).Msg("consecutive transfer failures")
			}
			if failures >= consecutiveFailurePause {
				p.log.Warn().Msg("sustained transfer failures; pausing briefly for bus recovery")
				p.sleep(failurePauseDuration)
				p.stats.resetConsecutiveFailures()
			}
			if p.events != nil && p.events.OnTransferFailure() {
				p.restartRequested.Store(true)
			}
			// Fall through: packets may have completed even when the
			// transfer as a whole reported failure.
		} else {
			if p.stats.ConsecutiveFailures() > 0 && p.events != nil {
				p.events.OnTransferSuccess()
			}
			p.stats.resetConsecutiveFailures()
		}

		buf := tx.Buffer()
		for i, pkt := range tx.Packets() {
			// Slot i lives at a fixed offset regardless of how much the
			// preceding slots actually carried.
			offset := i * packetSize
			if pkt.Status != usbio.PacketCompleted {
				p.stats.RecordPacketError()
				continue
			}
			if pkt.ActualLength <= 0 {
				continue
			}
			if offset+pkt.ActualLength > len(buf) {
				p.stats.RecordPacketError()
				continue
			}
			p.sink.Write(buf[offset : offset+pkt.ActualLength])
			p.stats.RecordPacketSuccess()
		}

		if now.Sub(lastReport) > statsReportInterval {
			p.reportStats(now.Sub(startTime))
			lastReport = now
		}
	}
}

func (p *Pump) runBulk() {
	buf := make([]byte, p.transport.MaxPayloadTransferSize)
	retry := usbio.DefaultRetryConfig()

	var (
		attempts uint64
		lastLog  time.Time
	)
	for p.running.Load() {
		var n int
		err := usbio.Retry(retry, p.sleep, func() error {
			return p.submitLocked(func() error {
				var err error
				n, err = p.handle.BulkTransfer(p.transport.EndpointAddress, buf, bulkReadTimeout)
				return err
			})
		})
		attempts++
		now := p.now()
		if attempts <= logVerboseCount || attempts%logEveryNth == 0 || now.Sub(lastLog) > logTimeInterval {
			lastLog = now
			p.log.Debug().Uint64("transfer", attempts).Int("bytes", n).Err(err).Msg("bulk transfer completed")
		}
		if err != nil {
			kind := usbio.Classify(err)
			p.stats.RecordTransferResult(kind)
			p.stats.RecordPacketError()
			switch kind {
			case usbio.ErrorDisconnected:
				p.log.Error().Msg("device disconnected; stopping pump")
				p.running.Store(false)
				return
			case usbio.ErrorStall:
				_ = p.handle.ClearHalt(p.transport.EndpointAddress)
			}
			continue
		}
		if n > 0 {
			p.sink.Write(buf[:n])
			p.stats.RecordPacketSuccess()
		}
	}
}

func (p *Pump) reportStats(elapsed time.Duration) {
	success := p.stats.Success.Load()
	errors := p.stats.Errors.Load()
	total := success + errors
	rate := 0.0
	if sec := elapsed.Seconds(); sec > 0 {
		rate = float64(total) / sec
	}
	p.log.Info().
		Uint64("success", success).
		Uint64("errors", errors).
		Float64("loss_percent", p.stats.LossPercent()).
		Float64("packets_per_second", rate).
		Msg("transfer statistics")
}
