package device

import (
	"github.com/chewxy/math32"
	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Precision is the element-type capability the compute kernels are
// parameterized over. A Precision converts between the storage representation
// E and the float32 accumulation domain, and reports the largest finite
// magnitude E can hold (used for overflow clamping).
type Precision[E any] interface {
	FromFloat32(float32) E
	ToFloat32(E) float32
	MaxFinite() float32
	Name() string
}

// FP32 stores elements as plain float32.
type FP32 struct{}

func (FP32) FromFloat32(f float32) float32 { return f }
func (FP32) ToFloat32(f float32) float32   { return f }
func (FP32) MaxFinite() float32            { return math32.MaxFloat32 }
func (FP32) Name() string                  { return "fp32" }

// FP16 stores elements as IEEE 754 binary16.
type FP16 struct{}

func (FP16) FromFloat32(f float32) float16.Float16 { return float16.Fromfloat32(f) }
func (FP16) ToFloat32(h float16.Float16) float32   { return h.Float32() }
func (FP16) MaxFinite() float32                    { return 65504 }
func (FP16) Name() string                          { return "fp16" }

// BF16 stores elements as bfloat16: float32 with the mantissa truncated to
// 7 bits. Same exponent range as float32, so overflow clamping only matters
// near the float32 limit.
type BF16 struct{}

func (BF16) FromFloat32(f float32) bfloat16.BF16 { return bfloat16.FromFloat32(f) }
func (BF16) ToFloat32(b bfloat16.BF16) float32   { return bfloat16.ToFloat32(b) }
func (BF16) MaxFinite() float32                  { return 3.3895314e38 }
func (BF16) Name() string                        { return "bf16" }

// ConvertTo widens src into the float32 accumulation domain. dst must be at
// least len(src).
func ConvertTo[E any](p Precision[E], src []E, dst []float32) {
	for i, v := range src {
		dst[i] = p.ToFloat32(v)
	}
}

// ConvertFrom narrows src back to the storage representation. dst must be at
// least len(src).
func ConvertFrom[E any](p Precision[E], src []float32, dst []E) {
	for i, v := range src {
		dst[i] = p.FromFloat32(v)
	}
}
