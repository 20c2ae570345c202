package transfers

import "testing"

func TestFramePoolRecyclesLIFO(t *testing.T) {
	p := NewFramePool(4)
	a := p.Acquire()
	b := p.Acquire()
	p.Release(a)
	p.Release(b)

	// Stack discipline: the most recently released buffer comes first.
	if got := p.Acquire(); got != b {
		t.Error("Acquire did not return the most recently released buffer")
	}
	if got := p.Acquire(); got != a {
		t.Error("second Acquire did not return the older buffer")
	}

	stats := p.Stats()
	if stats.Misses != 2 || stats.Hits != 2 {
		t.Errorf("stats = %+v, want 2 hits / 2 misses", stats)
	}
}

func TestFramePoolAcquireResetsBuffer(t *testing.T) {
	p := NewFramePool(4)
	f := p.Acquire()
	f.Append([]byte{1, 2, 3})
	p.Release(f)

	g := p.Acquire()
	if g.Len() != 0 {
		t.Errorf("recycled buffer length = %d, want 0", g.Len())
	}
	if g.Stamp().IsZero() {
		t.Error("recycled buffer has zero stamp")
	}
}

func TestFramePoolCapacityBound(t *testing.T) {
	p := NewFramePool(2)
	bufs := []*FrameBuffer{p.Acquire(), p.Acquire(), p.Acquire(), p.Acquire()}
	for _, f := range bufs {
		p.Release(f)
	}
	if p.Size() != 2 {
		t.Errorf("pool size = %d, want capped at 2", p.Size())
	}
}

func TestFramePoolDefaultCapacity(t *testing.T) {
	p := NewFramePool(0)
	if p.Capacity() != DefaultPoolCapacity {
		t.Errorf("Capacity = %d, want %d", p.Capacity(), DefaultPoolCapacity)
	}
}
