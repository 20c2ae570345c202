package transfers

import (
	"sync/atomic"

	"github.com/camkit/go-uvchost/pkg/usbio"
)

// TransportStats counts per-packet outcomes on the wire. All counters
// are atomic; the pump thread records while consumers read.
type TransportStats struct {
	Success atomic.Uint64
	Errors  atomic.Uint64

	consecutiveFailures atomic.Uint32

	Histogram usbio.Histogram
}

func (s *TransportStats) RecordPacketSuccess() {
	s.Success.Add(1)
}

func (s *TransportStats) RecordPacketError() {
	s.Errors.Add(1)
}

func (s *TransportStats) RecordTransferResult(kind usbio.ErrorKind) {
	s.Histogram.Record(kind)
}

// ConsecutiveFailures tracks whole-transfer failures in a row.
func (s *TransportStats) ConsecutiveFailures() uint32 {
	return s.consecutiveFailures.Load()
}

func (s *TransportStats) addConsecutiveFailure() uint32 {
	return s.consecutiveFailures.Add(1)
}

func (s *TransportStats) resetConsecutiveFailures() {
	s.consecutiveFailures.Store(0)
}

// LossPercent is the cumulative packet loss over the session.
func (s *TransportStats) LossPercent() float64 {
	success := s.Success.Load()
	errors := s.Errors.Load()
	total := success + errors
	if total == 0 {
		return 0
	}
	return 100 * float64(errors) / float64(total)
}

func (s *TransportStats) Reset() {
	s.Success.Store(0)
	s.Errors.Store(0)
	s.consecutiveFailures.Store(0)
	s.Histogram.Reset()
}

// FrameStats counts deframer outcomes.
type FrameStats struct {
	Completed    atomic.Uint64
	Padded       atomic.Uint64
	Dropped      atomic.Uint64
	FIDChanges   atomic.Uint64
	HeaderErrors atomic.Uint64
	ErrorBits    atomic.Uint64
}

func (s *FrameStats) Reset() {
	s.Completed.Store(0)
	s.Padded.Store(0)
	s.Dropped.Store(0)
	s.FIDChanges.Store(0)
	s.HeaderErrors.Store(0)
	s.ErrorBits.Store(0)
}

// AudioStats counts audio pump outcomes.
type AudioStats struct {
	Transfers      atomic.Uint64
	TransferErrors atomic.Uint64
	Packets        atomic.Uint64
	PacketErrors   atomic.Uint64
	Overflows      atomic.Uint64
}

func (s *AudioStats) Reset() {
	s.Transfers.Store(0)
	s.TransferErrors.Store(0)
	s.Packets.Store(0)
	s.PacketErrors.Store(0)
	s.Overflows.Store(0)
}
