package ffn

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput reports an absent required input. Returned before any
	// kernel is dispatched.
	ErrMissingInput = errors.New("ffn: missing required input")

	// ErrBadShape reports an input or output region whose size does not match
	// the declared token count and dimensions.
	ErrBadShape = errors.New("ffn: shape mismatch")
)

// Batch is the per-call input to a forward pass.
//
// Input holds Tokens rows of HiddenSize activations, contiguous row-major.
// LayerID is used only for diagnostic tagging. LoraMask, when non-nil, selects
// per token whether adapter corrections apply (nonzero = apply); a nil mask
// applies adapters to every token.
type Batch[E any] struct {
	Input    []E
	Tokens   int
	LayerID  int
	LoraMask []int32
}

func (b *Batch[E]) validate(hidden int) error {
	if b.Input == nil {
		return fmt.Errorf("%w: ffn_input", ErrMissingInput)
	}
	if b.Tokens <= 0 {
		return fmt.Errorf("%w: token count %d", ErrBadShape, b.Tokens)
	}
	if len(b.Input) < b.Tokens*hidden {
		return fmt.Errorf("%w: ffn_input has %d elements, want %d", ErrBadShape, len(b.Input), b.Tokens*hidden)
	}
	if b.LoraMask != nil && len(b.LoraMask) < b.Tokens {
		return fmt.Errorf("%w: lora_mask has %d entries, want %d", ErrBadShape, len(b.LoraMask), b.Tokens)
	}
	return nil
}
