package simd

import "github.com/chewxy/math32"

// Sigmoid computes 1 / (1 + exp(-x)) in float32.
func Sigmoid(x float32) float32 {
	return 1.0 / (1.0 + math32.Exp(-x))
}

// Silu computes the sigmoid-weighted linear unit x * sigmoid(x).
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// DotProduct computes the dot product of a and b.
// Panics if len(b) < len(a).
func DotProduct(a, b []float32) float32 {
	var sum float32
	// Unrolled by 4 to help the compiler vectorize
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// VecAdd performs dst += src element-wise.
func VecAdd(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale element-wise.
func VecAddScaled(dst, src []float32, scale float32) {
	for i := range dst {
		dst[i] += src[i] * scale
	}
}
