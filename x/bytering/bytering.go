package bytering

import (
	"context"
	"sync/atomic"

	"linkcore-go/errcode"
	"linkcore-go/x/mathx"
)

// Ring is a single-producer, single-consumer byte ring. The producer side
// is safe to call from interrupt context: it never blocks and never
// allocates. The consumer side may suspend with a bounded context.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	drops atomic.Uint32 // producer-side rejects

	readable chan struct{} // 0->>0 available edge
	writable chan struct{} // 0->>0 space edge
}

func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("bytering: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Space() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(r.size() - (wr - rd))
}

func (r *Ring) Available() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

// Dropped reports how many bytes the producer has rejected so far.
func (r *Ring) Dropped() uint32 { return r.drops.Load() }

// Producer side

// TryWriteByte deposits one byte without blocking. It reports false and
// counts a drop when the ring is full.
func (r *Ring) TryWriteByte(b byte) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	if beforeAvail >= r.size() {
		r.drops.Add(1)
		return false
	}
	r.buf[wr&r.mask] = b
	r.wr.Store(wr + 1) // release

	// Notify reader if we transitioned 0->>0 available
	if beforeAvail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// WriteFrom copies as much of src as fits and returns the count accepted.
func (r *Ring) WriteFrom(src []byte) (n int) {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	space := int(r.size() - beforeAvail)
	if space <= 0 {
		return 0
	}
	n = mathx.Min(len(src), space)

	size := r.size()
	wrIdx := wr & r.mask
	first := mathx.Min(int(size-wrIdx), n)
	copy(r.buf[wrIdx:wrIdx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:n])
	}
	r.wr.Store(wr + uint32(n)) // release

	// Notify reader if we transitioned 0->>0 available
	if beforeAvail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return n
}

// Consumer side

// ReadInto drains up to len(dst) bytes without blocking.
func (r *Ring) ReadInto(dst []byte) (n int) {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	avail := int(wr - rd)
	if avail <= 0 {
		return 0
	}
	n = mathx.Min(len(dst), avail)

	size := r.size()
	rdIdx := rd & r.mask
	first := mathx.Min(int(size-rdIdx), n)
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	r.rd.Store(rd + uint32(n)) // release

	// Notify writer if we transitioned 0->>0 space
	beforeSpace := int(size - (wr - rd))
	if beforeSpace == 0 {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return n
}

// tryReadByte pops one byte if present.
func (r *Ring) tryReadByte() (byte, bool) {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return 0, false
	}
	b := r.buf[rd&r.mask]
	r.rd.Store(rd + 1) // release

	beforeSpace := int(r.size() - (wr - rd))
	if beforeSpace == 0 {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return b, true
}

// ReadByteContext blocks for a single byte or until ctx is done, in which
// case it returns errcode.Timeout. Data already present returns immediately.
func (r *Ring) ReadByteContext(ctx context.Context) (byte, error) {
	if b, ok := r.tryReadByte(); ok {
		return b, nil
	}
	for {
		select {
		case <-r.readable:
			// re-check; coalesced notify may be a spurious wake
			if b, ok := r.tryReadByte(); ok {
				return b, nil
			}
		case <-ctx.Done():
			return 0, errcode.Timeout
		}
	}
}

// Readable exposes a coalesced readiness signal suitable for select.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable exposes a coalesced space signal suitable for select.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

// Watermarks exposes the raw monotonic indices (diagnostics only).
func (r *Ring) Watermarks() (rd, wr uint32) {
	return r.rd.Load(), r.wr.Load()
}
