package transfers

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxQueuedFrames bounds the ready queue (Qmax).
const DefaultMaxQueuedFrames = 8

// DefaultMaxRawFrameSize sizes the fixed YUY2 assembly buffer for the
// largest frame a device can produce (1920x1080 YUY2).
const DefaultMaxRawFrameSize = 1920 * 1080 * 2

var (
	ErrFrameTimeout   = errors.New("deframer: wait for frame timed out")
	ErrDeframerClosed = errors.New("deframer: closed")
)

// YUY2BlackPattern is one black macro-pixel (Y=0, U=128, Y=0, V=128),
// used to pad short fixed-size frames so row alignment survives.
var YUY2BlackPattern = [4]byte{0x00, 0x80, 0x00, 0x80}

// Deframer reassembles whole frames from UVC payload packets.
//
// Two modes, switched by SetExpectedFrameSize: a nonzero size selects
// fixed-size assembly (YUY2) into a deframer-owned buffer that is
// clipped and padded to exactly that size; zero selects marker-
// delimited assembly (MJPEG) into growable pool buffers. Completed
// frames land in a bounded FIFO; when the queue is full new frames are
// dropped and counted rather than blocking the pump.
//
// Only the pump thread calls Write. WaitFrame/GetFrame/Recycle run on
// the consumer thread.
type Deframer struct {
	mu     sync.Mutex
	pool   *FramePool
	queue  []*FrameBuffer
	qmax   int
	ready  chan struct{}
	closed bool

	fid      uint8
	fidValid bool

	expectedFrameSize int
	fixed             []byte
	fixedPos          int
	fixedActive       bool // a frame is being assembled in fixed mode

	current *FrameBuffer // marker-mode fill

	Stats FrameStats

	headerWarnings uint32
	log            zerolog.Logger
	now            func() time.Time
}

func NewDeframer(pool *FramePool, maxRawFrameSize int, log zerolog.Logger) *Deframer {
	if pool == nil {
		pool = NewFramePool(DefaultPoolCapacity)
	}
	if maxRawFrameSize <= 0 {
		maxRawFrameSize = DefaultMaxRawFrameSize
	}
	return &Deframer{
		pool:  pool,
		qmax:  DefaultMaxQueuedFrames,
		ready: make(chan struct{}, DefaultMaxQueuedFrames),
		fixed: make([]byte, maxRawFrameSize),
		log:   log,
		now:   time.Now,
	}
}

// Pool exposes the frame pool so the consumer can return buffers.
func (d *Deframer) Pool() *FramePool { return d.pool }

// SetExpectedFrameSize switches assembly mode: 0 means marker-delimited
// (MJPEG), nonzero means fixed-size (YUY2) with exactly that many bytes
// per published frame. Resets any partial fill.
func (d *Deframer) SetExpectedFrameSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.fixed) {
		d.fixed = make([]byte, n)
	}
	d.expectedFrameSize = n
	d.resetFillLocked()
}

// Write consumes one UVC payload packet. It returns the number of bytes
// consumed: the whole packet on every path except a rejected header,
// which consumes nothing and changes no state.
func (d *Deframer) Write(pkt []byte) int {
	var p Payload
	if err := p.UnmarshalBinary(pkt); err != nil {
		n := d.Stats.HeaderErrors.Add(1)
		if n <= 5 {
			d.log.Warn().Int("len", len(pkt)).Msg("rejecting packet with invalid payload header")
		}
		return 0
	}
	if !p.HeaderConsistent() {
		if n := d.headerWarnings + 1; n <= 5 {
			d.headerWarnings = n
			d.log.Warn().
				Uint8("header_length", p.HeaderLength).
				Int("expected", p.ExpectedHeaderLength()).
				Msg("payload header length disagrees with flag bits")
		}
	}
	if p.Error() {
		// Per-packet error bit is advisory; the payload may still be
		// usable.
		d.Stats.ErrorBits.Add(1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return len(pkt)
	}

	fidBit := p.HeaderInfoBitmask & HeaderFlagFID
	fidChanged := false
	if !d.fidValid {
		d.fidValid = true
		d.fid = fidBit
	} else if fidBit != d.fid {
		fidChanged = true
		d.fid = fidBit
		d.Stats.FIDChanges.Add(1)
	}

	if fidChanged {
		if d.expectedFrameSize > 0 {
			// Fixed-size mode: a frame that did not complete before the
			// toggle is torn; discard it rather than publish a frame of
			// the wrong geometry.
			d.resetFillLocked()
		} else if d.current != nil && d.current.Len() > 0 {
			// Marker mode: the toggle is the frame boundary.
			d.publishLocked(d.current)
			d.current = nil
		}
	}

	if len(p.Data) > 0 {
		if d.expectedFrameSize > 0 {
			d.fixedActive = true
			// Clip to the expected size; never write past it.
			space := d.expectedFrameSize - d.fixedPos
			n := len(p.Data)
			if n > space {
				n = space
			}
			copy(d.fixed[d.fixedPos:], p.Data[:n])
			d.fixedPos += n
		} else {
			if d.current == nil {
				d.current = d.pool.Acquire()
			}
			d.current.Append(p.Data)
		}
	}

	if d.expectedFrameSize > 0 {
		switch {
		case d.fixedActive && d.fixedPos >= d.expectedFrameSize:
			d.publishFixedLocked(false)
		case p.EndOfFrame() && d.fixedActive && d.fixedPos > 0:
			// Short frame at EOF: pad with the black pattern so the
			// byte count, and with it the row stride, stays exact.
			for d.fixedPos < d.expectedFrameSize {
				n := copy(d.fixed[d.fixedPos:d.expectedFrameSize], YUY2BlackPattern[:])
				d.fixedPos += n
			}
			d.publishFixedLocked(true)
		}
	} else if p.EndOfFrame() && !fidChanged && d.current != nil && d.current.Len() > 0 {
		d.publishLocked(d.current)
		d.current = nil
	}

	return len(pkt)
}

// publishFixedLocked copies the fixed fill into a pool buffer and
// enqueues it.
func (d *Deframer) publishFixedLocked(padded bool) {
	if len(d.queue) >= d.qmax {
		d.Stats.Dropped.Add(1)
		d.resetFillLocked()
		return
	}
	f := d.pool.Acquire()
	f.SetBytes(d.fixed[:d.expectedFrameSize])
	d.enqueueLocked(f)
	if padded {
		d.Stats.Padded.Add(1)
	}
	d.resetFillLocked()
}

func (d *Deframer) publishLocked(f *FrameBuffer) {
	if len(d.queue) >= d.qmax {
		d.Stats.Dropped.Add(1)
		d.pool.Release(f)
		return
	}
	d.enqueueLocked(f)
}

func (d *Deframer) enqueueLocked(f *FrameBuffer) {
	d.queue = append(d.queue, f)
	d.Stats.Completed.Add(1)
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *Deframer) resetFillLocked() {
	d.fixedPos = 0
	d.fixedActive = false
	if d.current != nil {
		d.pool.Release(d.current)
		d.current = nil
	}
}

// WaitFrame blocks until a frame is queued, the timeout passes, or the
// deframer is flushed/closed.
func (d *Deframer) WaitFrame(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeframerClosed
	}
	if len(d.queue) > 0 {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.ready:
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return ErrDeframerClosed
		}
		return nil
	case <-t.C:
		return ErrFrameTimeout
	}
}

// GetFrame dequeues the oldest completed frame, transferring ownership
// to the caller. The caller returns it with Recycle.
func (d *Deframer) GetFrame() (*FrameBuffer, time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, time.Time{}, false
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	return f, f.Stamp(), true
}

// QueueLen is the number of completed frames waiting for the consumer.
func (d *Deframer) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Recycle returns a consumed frame buffer to the pool.
func (d *Deframer) Recycle(f *FrameBuffer) {
	d.pool.Release(f)
}

// Flush drops all pending frames and resets parsing state. Used at
// resolution changes so stale geometry never reaches the decoder.
func (d *Deframer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.queue {
		d.pool.Release(f)
	}
	d.queue = nil
	d.resetFillLocked()
	d.fidValid = false
	for {
		select {
		case <-d.ready:
		default:
			return
		}
	}
}

// Close releases waiters permanently. A closed deframer drops all
// subsequent writes.
func (d *Deframer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, f := range d.queue {
		d.pool.Release(f)
	}
	d.queue = nil
	d.resetFillLocked()
	d.mu.Unlock()
	close(d.ready)
}
