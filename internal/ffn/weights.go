package ffn

import "fmt"

// Adapter is a low-rank additive correction (LoRA) attached to a projection.
// Rank 0 means absent. Down is [InputDims x Rank], Up is [Rank x OutputDims],
// both row-major at the layer's working precision.
type Adapter[E any] struct {
	Rank int
	Down []E
	Up   []E
}

// Projection describes one linear kernel, row-major [InputDims x OutputDims].
// A nil Kernel marks the projection as absent (only valid for the optional
// fused gate+up kernel).
type Projection[E any] struct {
	Kernel     []E
	InputDims  int
	OutputDims int
	Lora       Adapter[E]
}

func (p *Projection[E]) present() bool {
	return p.Kernel != nil
}

// Weights is the immutable per-layer FFN weight configuration.
//
// Gating (w1) and Intermediate (w3) both map hidden -> inter; Output (w2)
// maps inter -> hidden. FusedGatingIntermediate, when present, replaces w1
// and w3 with a single hidden -> 2*inter kernel whose output concatenates
// gate and up halves per token. IsFusedSilu additionally bakes the gated
// SiLU into that kernel, so its output is already tokens x inter.
//
// Weights are read-only after construction and safe to share across layer
// instances.
type Weights[E any] struct {
	HiddenSize int
	InterSize  int

	Gating                  Projection[E] // w1
	Intermediate            Projection[E] // w3
	Output                  Projection[E] // w2
	FusedGatingIntermediate Projection[E]
	IsFusedSilu             bool
}

// pipelineState is the code path selected from the weight configuration,
// fixed for the duration of one forward call. The three states are exhaustive
// and mutually exclusive over every descriptor combination.
type pipelineState int

const (
	stateUnfused pipelineState = iota
	stateFusedUnactivated
	stateFusedSilu
)

func (s pipelineState) String() string {
	switch s {
	case stateFusedSilu:
		return "fused_silu"
	case stateFusedUnactivated:
		return "fused_unactivated"
	default:
		return "unfused"
	}
}

func (w *Weights[E]) state() pipelineState {
	switch {
	case w.FusedGatingIntermediate.present() && w.IsFusedSilu:
		return stateFusedSilu
	case w.FusedGatingIntermediate.present():
		return stateFusedUnactivated
	default:
		return stateUnfused
	}
}

// Validate checks dimensional consistency once at layer construction so the
// per-call path never has to.
func (w *Weights[E]) Validate() error {
	if w.HiddenSize <= 0 || w.InterSize <= 0 {
		return fmt.Errorf("ffn: invalid dimensions hidden=%d inter=%d", w.HiddenSize, w.InterSize)
	}
	if err := checkProjection(&w.Output, "output", w.InterSize, w.HiddenSize); err != nil {
		return err
	}
	if w.Output.Lora.Rank != 0 {
		return fmt.Errorf("ffn: output projection must not carry an adapter")
	}
	if w.FusedGatingIntermediate.present() {
		return checkProjection(&w.FusedGatingIntermediate, "fused_gating_intermediate", w.HiddenSize, 2*w.InterSize)
	}
	if err := checkProjection(&w.Gating, "gating", w.HiddenSize, w.InterSize); err != nil {
		return err
	}
	return checkProjection(&w.Intermediate, "intermediate", w.HiddenSize, w.InterSize)
}

func checkProjection[E any](p *Projection[E], name string, in, out int) error {
	if !p.present() {
		return fmt.Errorf("ffn: missing %s kernel", name)
	}
	if p.InputDims != in || p.OutputDims != out {
		return fmt.Errorf("ffn: %s kernel is %dx%d, want %dx%d", name, p.InputDims, p.OutputDims, in, out)
	}
	if len(p.Kernel) != in*out {
		return fmt.Errorf("ffn: %s kernel has %d elements, want %d", name, len(p.Kernel), in*out)
	}
	if r := p.Lora.Rank; r > 0 {
		if len(p.Lora.Down) != in*r || len(p.Lora.Up) != r*out {
			return fmt.Errorf("ffn: %s adapter rank %d has down=%d up=%d elements, want %d and %d",
				name, r, len(p.Lora.Down), len(p.Lora.Up), in*r, r*out)
		}
	}
	return nil
}
