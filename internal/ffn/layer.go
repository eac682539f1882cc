package ffn

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-glu/internal/device"
)

var tracer = otel.Tracer("longbow-glu/ffn")

// inspectLevel is the severity passed to the inspector after every stage.
const inspectLevel = 3

// Layer computes the gated-linear-unit FFN
//
//	out = w2( silu(w1·x) ⊙ (w3·x) )
//
// for one decoder layer, selecting among the unfused, fused, and
// fused-with-activation kernel variants the weight configuration provides.
// Scratch regions are acquired once per forward call and reused across calls
// unless the free-after-forward policy is enabled. A Layer processes one
// batch at a time; concurrent calls on the same instance are not supported.
type Layer[E any] struct {
	weights *Weights[E]
	linear  LinearEngine[E]
	act     ActivationKernel[E]
	inspect Inspector[E]

	gating *device.Arena[E]
	lora   *device.Arena[E]

	// Views into the arenas, valid for the duration of one forward call.
	gatingBuf []E
	interBuf  []E
	loraBuf   []E

	freeAfterForward bool
}

// Option configures a Layer at construction.
type Option[E any] func(*Layer[E])

// WithFreeBufferAfterForward releases scratch memory at the end of every
// forward call (memory-conservation mode) instead of keeping it for reuse.
func WithFreeBufferAfterForward[E any]() Option[E] {
	return func(l *Layer[E]) { l.freeAfterForward = true }
}

// WithActivationKernel replaces the reference activation kernel.
func WithActivationKernel[E any](k ActivationKernel[E]) Option[E] {
	return func(l *Layer[E]) { l.act = k }
}

// WithInspector replaces the reference anomaly inspector.
func WithInspector[E any](in Inspector[E]) Option[E] {
	return func(l *Layer[E]) { l.inspect = in }
}

// WithScratchLimit caps the gating scratch allocation in bytes.
func WithScratchLimit[E any](maxBytes int64) Option[E] {
	return func(l *Layer[E]) {
		l.gating = device.NewArena[E]("ffn_gating", maxBytes)
	}
}

// NewLayer builds a layer over an immutable weight configuration. The
// projection engine is the caller's; activation and inspection default to the
// reference implementations at the given precision.
func NewLayer[E any](prec device.Precision[E], weights *Weights[E], engine LinearEngine[E], opts ...Option[E]) (*Layer[E], error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	l := &Layer[E]{
		weights: weights,
		linear:  engine,
		act:     NewSiluKernel(prec),
		inspect: NewClampInspector(prec),
		gating:  device.NewArena[E]("ffn_gating", 0),
		lora:    device.NewArena[E]("ffn_lora", 0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Forward runs one batch through the FFN, writing tokens x hidden activations
// into out. Any error aborts the remaining stages and leaves the scratch
// regions in an unspecified state; they are re-derived on the next call.
func (l *Layer[E]) Forward(ctx context.Context, batch *Batch[E], out []E) error {
	hidden := l.weights.HiddenSize
	inter := l.weights.InterSize
	if err := batch.validate(hidden); err != nil {
		return err
	}
	if len(out) < batch.Tokens*hidden {
		return fmt.Errorf("%w: ffn_output has %d elements, want %d", ErrBadShape, len(out), batch.Tokens*hidden)
	}

	st := l.weights.state()
	tokens := batch.Tokens

	ctx, span := tracer.Start(ctx, "ffn", trace.WithAttributes(
		attribute.Int("layer", batch.LayerID),
		attribute.Int("tokens", tokens),
		attribute.String("state", st.String()),
	))
	defer span.End()
	start := time.Now()

	if err := l.allocateBuffers(tokens, st); err != nil {
		return err
	}

	input := View[E]{Data: batch.Input}

	switch st {
	case stateFusedSilu, stateFusedUnactivated:
		mode := ModeGemm
		if st == stateFusedSilu {
			mode = ModeFusedSiluFfn
		}
		_, pspan := tracer.Start(ctx, "fused_silu_ffn")
		err := l.linear.Forward(l.gatingBuf, input, tokens, &l.weights.FusedGatingIntermediate, mode, nil, nil)
		pspan.End()
		if err != nil {
			return fmt.Errorf("ffn: fused gating projection: %w", err)
		}
		if st == stateFusedUnactivated {
			if err := l.activation(ctx, tokens, true); err != nil {
				return err
			}
		}
		l.inspect.InspectAndCorrect(l.gatingBuf, tokens*inter, tag("w1_w3_silu", batch.LayerID), inspectLevel)

	case stateUnfused:
		// w1(x)
		_, w1span := tracer.Start(ctx, "w1")
		err := l.linear.Forward(l.gatingBuf[:tokens*inter], input, tokens, &l.weights.Gating, ModeGemm, l.loraBuf, batch.LoraMask)
		w1span.End()
		if err != nil {
			return fmt.Errorf("ffn: gating projection: %w", err)
		}
		l.inspect.InspectAndCorrect(l.gatingBuf, tokens*inter, tag("w1", batch.LayerID), inspectLevel)

		// w3(x)
		_, w3span := tracer.Start(ctx, "w3")
		err = l.linear.Forward(l.interBuf, input, tokens, &l.weights.Intermediate, ModeGemm, l.loraBuf, batch.LoraMask)
		w3span.End()
		if err != nil {
			return fmt.Errorf("ffn: intermediate projection: %w", err)
		}
		l.inspect.InspectAndCorrect(l.interBuf, tokens*inter, tag("w3", batch.LayerID), inspectLevel)

		// silu(w1(x)) * w3(x)
		if err := l.activation(ctx, tokens, false); err != nil {
			return err
		}
		l.inspect.InspectAndCorrect(l.gatingBuf, tokens*inter, tag("act", batch.LayerID), inspectLevel)
	}

	// w2(x): all states converge on the down-projection. When the fused
	// kernel left gate and up concatenated, the gated halves sit at a
	// 2*inter pitch.
	pitch := 0
	if st == stateFusedUnactivated {
		pitch = 2 * inter
	}
	_, w2span := tracer.Start(ctx, "w2")
	err := l.linear.Forward(out[:tokens*hidden], View[E]{Data: l.gatingBuf, Pitch: pitch}, tokens, &l.weights.Output, ModeGemm, nil, nil)
	w2span.End()
	if err != nil {
		return fmt.Errorf("ffn: output projection: %w", err)
	}
	l.inspect.InspectAndCorrect(out, tokens*hidden, tag("w2", batch.LayerID), inspectLevel)

	if l.freeAfterForward {
		l.freeBuffers()
	}

	forwardTotal.WithLabelValues(st.String()).Inc()
	forwardTokens.Add(float64(tokens))
	forwardDuration.Observe(time.Since(start).Seconds())
	return nil
}

// allocateBuffers re-derives the scratch sizes from the current token count.
// The gating region holds tokens x inter x factor elements, factor 1 when the
// fused kernel already applies the activation (gate and up never coexist),
// else 2. In the unfused path the intermediate region is the second half of
// the gating allocation.
func (l *Layer[E]) allocateBuffers(tokens int, st pipelineState) error {
	inter := l.weights.InterSize
	factor := 2
	if st == stateFusedSilu {
		factor = 1
	}
	sz := tokens * inter

	buf, err := l.gating.Acquire(sz*factor, false)
	if err != nil {
		return fmt.Errorf("ffn: gating scratch: %w", err)
	}
	l.gatingBuf = buf
	l.interBuf = nil
	if factor == 2 {
		l.interBuf = buf[sz : 2*sz]
	}

	l.loraBuf = nil
	if r := l.weights.Gating.Lora.Rank + l.weights.Intermediate.Lora.Rank; r > 0 {
		lb, err := l.lora.Acquire(tokens*r, false)
		if err != nil {
			return fmt.Errorf("ffn: adapter workspace: %w", err)
		}
		l.loraBuf = lb
	}
	return nil
}

func (l *Layer[E]) activation(ctx context.Context, tokens int, chunked bool) error {
	_, span := tracer.Start(ctx, "activation")
	defer span.End()
	inter := l.weights.InterSize
	var err error
	if chunked {
		// gate & up are interleaved halves of the SAME buffer
		err = l.act.GatedSilu(l.gatingBuf, l.gatingBuf[inter:], inter*2, tokens, inter)
	} else {
		// gate & up are in separate regions
		err = l.act.GatedSilu(l.gatingBuf, l.interBuf, inter, tokens, inter)
	}
	if err != nil {
		return fmt.Errorf("ffn: activation: %w", err)
	}
	return nil
}

func (l *Layer[E]) freeBuffers() {
	l.gating.Release()
	l.lora.Release()
	l.gatingBuf = nil
	l.interBuf = nil
	l.loraBuf = nil
}

// Close releases any outstanding scratch allocation. The layer remains
// usable; the next forward call re-acquires fresh regions.
func (l *Layer[E]) Close() error {
	l.freeBuffers()
	return nil
}

func tag(stage string, layerID int) string {
	return fmt.Sprintf("%s_%d", stage, layerID)
}
