package device

import (
	"fmt"
	"unsafe"

	"github.com/rs/zerolog/log"
)

// Arena owns one lazily-allocated, reusable scratch region. Acquire resizes
// the region to the requested element count, growing the backing allocation
// when needed but never shrinking it, so repeated calls with varying sizes
// do not churn the allocator. An Arena belongs to exactly one layer instance
// and must not be shared across concurrent forward calls.
type Arena[E any] struct {
	name     string
	maxBytes int64 // admission limit, 0 = unlimited
	buf      []E
}

// NewArena creates an empty arena. maxBytes caps the backing allocation for
// admission control; a request beyond it fails as resource exhaustion.
// maxBytes = 0 disables the cap.
func NewArena[E any](name string, maxBytes int64) *Arena[E] {
	return &Arena[E]{name: name, maxBytes: maxBytes}
}

// Acquire returns a region of exactly n elements, reusing the existing
// allocation when large enough. When zero is set the returned region is
// zero-filled; otherwise its contents are unspecified.
func (a *Arena[E]) Acquire(n int, zero bool) ([]E, error) {
	if n < 0 {
		return nil, fmt.Errorf("device: arena %s: negative size %d", a.name, n)
	}
	elemSize := int64(unsafe.Sizeof(*new(E)))
	bytes := int64(n) * elemSize
	if a.maxBytes > 0 && bytes > a.maxBytes {
		return nil, fmt.Errorf("device: arena %s: request of %d bytes exceeds limit of %d bytes",
			a.name, bytes, a.maxBytes)
	}
	if cap(a.buf) < n {
		arenaGrows.WithLabelValues(a.name).Inc()
		arenaBytes.WithLabelValues(a.name).Set(float64(bytes))
		log.Debug().Str("arena", a.name).Int("elements", n).Int64("bytes", bytes).Msg("growing scratch region")
		a.buf = make([]E, n) // fresh allocation is already zeroed
		return a.buf, nil
	}
	arenaReuses.WithLabelValues(a.name).Inc()
	a.buf = a.buf[:n]
	if zero {
		clear(a.buf)
	}
	return a.buf, nil
}

// Release drops the backing allocation. The next Acquire starts from scratch.
func (a *Arena[E]) Release() {
	if a.buf != nil {
		arenaBytes.WithLabelValues(a.name).Set(0)
		a.buf = nil
	}
}

// Cap reports the current backing capacity in elements.
func (a *Arena[E]) Cap() int {
	return cap(a.buf)
}
