package ffn

// Mode selects the kernel variant for one projection dispatch.
type Mode int

const (
	// ModeGemm is a plain matrix multiply.
	ModeGemm Mode = iota
	// ModeFusedSiluFfn multiplies against a concatenated gate+up kernel and
	// applies the gated SiLU inside the same dispatch, yielding tokens x inter
	// directly.
	ModeFusedSiluFfn
)

// View addresses a scratch region with an optional row pitch, replacing the
// pointer arithmetic the fused layouts would otherwise need. Pitch is the
// element distance between consecutive token rows; 0 means tightly packed.
type View[E any] struct {
	Data  []E
	Pitch int
}

// row returns the width elements of token row i.
func (v View[E]) row(i, width int) []E {
	stride := v.Pitch
	if stride == 0 {
		stride = width
	}
	off := i * stride
	return v.Data[off : off+width]
}

// LinearEngine issues one projection onto the layer's execution queue and
// synchronizes before returning, so a non-nil error is observed immediately
// (fail-fast). dst receives tokens x w.OutputDims elements (tokens x inter
// for ModeFusedSiluFfn).
//
// When w carries an adapter, loraWorkspace receives the tokens x rank
// down-product and the masked up-product is added to dst; mask semantics
// follow Batch.LoraMask. Implementations must treat w as read-only.
type LinearEngine[E any] interface {
	Forward(dst []E, src View[E], tokens int, w *Projection[E], mode Mode, loraWorkspace []E, mask []int32) error
}
