package simd

import (
	"math"
	"testing"
)

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Sigmoid(20); got < 0.999 {
		t.Errorf("Sigmoid(20) = %v, want ~1", got)
	}
	if got := Sigmoid(-20); got > 0.001 {
		t.Errorf("Sigmoid(-20) = %v, want ~0", got)
	}
}

func TestSilu(t *testing.T) {
	// silu(1) = 1 * sigmoid(1) ≈ 0.731058
	if got := Silu(1); math.Abs(float64(got)-0.731058) > 1e-4 {
		t.Errorf("Silu(1) = %v, want ~0.731058", got)
	}
	if got := Silu(0); got != 0 {
		t.Errorf("Silu(0) = %v, want 0", got)
	}
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{5, 4, 3, 2, 1}
	// 5 + 8 + 9 + 8 + 5 = 35
	if got := DotProduct(a, b); got != 35 {
		t.Errorf("DotProduct = %v, want 35", got)
	}
}

func TestVecAddScaled(t *testing.T) {
	dst := []float32{1, 1, 1}
	VecAddScaled(dst, []float32{1, 2, 3}, 2)
	want := []float32{3, 5, 7}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}
