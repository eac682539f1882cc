package ffn

import (
	"fmt"

	"github.com/23skdu/longbow-glu/internal/device"
	"github.com/23skdu/longbow-glu/internal/simd"
)

// ActivationKernel applies the gated nonlinearity
// gate[i] = silu(gate[i]) * up[i] in place over tokens x features elements.
// stride is the element distance between consecutive token rows in BOTH
// regions: inter for separate gate/up buffers, 2*inter when gate and up are
// interleaved halves of one fused-projection output.
type ActivationKernel[E any] interface {
	GatedSilu(gate, up []E, stride, tokens, features int) error
}

// SiluKernel is the reference CPU activation kernel. The nonlinearity is
// computed in float32 and narrowed back to the working precision per element.
type SiluKernel[E any] struct {
	prec device.Precision[E]
}

func NewSiluKernel[E any](prec device.Precision[E]) SiluKernel[E] {
	return SiluKernel[E]{prec: prec}
}

func (k SiluKernel[E]) GatedSilu(gate, up []E, stride, tokens, features int) error {
	if stride < features {
		return fmt.Errorf("ffn: activation stride %d smaller than feature count %d", stride, features)
	}
	need := (tokens-1)*stride + features
	if len(gate) < need || len(up) < need {
		return fmt.Errorf("ffn: activation regions too small for %d tokens", tokens)
	}
	for t := 0; t < tokens; t++ {
		g := gate[t*stride : t*stride+features]
		u := up[t*stride : t*stride+features]
		for i := range g {
			x := k.prec.ToFloat32(g[i])
			y := k.prec.ToFloat32(u[i])
			g[i] = k.prec.FromFloat32(simd.Silu(x) * y)
		}
	}
	return nil
}
