package ffn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-glu/internal/device"
	"github.com/23skdu/longbow-glu/internal/simd"
)

func naiveMatmul(x []float32, rows int, w []float32, common, cols int) []float32 {
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum float32
			for k := 0; k < common; k++ {
				sum += x[r*common+k] * w[k*cols+c]
			}
			out[r*cols+c] = sum
		}
	}
	return out
}

func randSlice(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func TestGemmEngine_MatchesNaive(t *testing.T) {
	const tokens, in, out = 5, 7, 11
	engine := NewGemmEngine[float32](device.FP32{})

	x := randSlice(tokens*in, 1)
	k := randSlice(in*out, 2)
	w := &Projection[float32]{Kernel: k, InputDims: in, OutputDims: out}

	dst := make([]float32, tokens*out)
	require.NoError(t, engine.Forward(dst, View[float32]{Data: x}, tokens, w, ModeGemm, nil, nil))

	want := naiveMatmul(x, tokens, k, in, out)
	for i := range want {
		require.InDeltaf(t, want[i], dst[i], 1e-5, "element %d", i)
	}
}

func TestGemmEngine_FusedSilu(t *testing.T) {
	const tokens, in, inter = 4, 6, 8
	engine := NewGemmEngine[float32](device.FP32{})

	x := randSlice(tokens*in, 3)
	k := randSlice(in*2*inter, 4)
	w := &Projection[float32]{Kernel: k, InputDims: in, OutputDims: 2 * inter}

	dst := make([]float32, tokens*inter)
	require.NoError(t, engine.Forward(dst, View[float32]{Data: x}, tokens, w, ModeFusedSiluFfn, nil, nil))

	full := naiveMatmul(x, tokens, k, in, 2*inter)
	for tok := 0; tok < tokens; tok++ {
		for i := 0; i < inter; i++ {
			g := full[tok*2*inter+i]
			u := full[tok*2*inter+inter+i]
			require.InDeltaf(t, simd.Silu(g)*u, dst[tok*inter+i], 1e-4, "token %d feature %d", tok, i)
		}
	}
}

func TestGemmEngine_AdapterDelta(t *testing.T) {
	const tokens, in, out, rank = 4, 6, 10, 2
	engine := NewGemmEngine[float32](device.FP32{})

	x := randSlice(tokens*in, 5)
	k := randSlice(in*out, 6)
	down := randSlice(in*rank, 7)
	up := randSlice(rank*out, 8)
	w := &Projection[float32]{
		Kernel: k, InputDims: in, OutputDims: out,
		Lora: Adapter[float32]{Rank: rank, Down: down, Up: up},
	}

	workspace := make([]float32, tokens*rank)
	dst := make([]float32, tokens*out)
	require.NoError(t, engine.Forward(dst, View[float32]{Data: x}, tokens, w, ModeGemm, workspace, nil))

	base := naiveMatmul(x, tokens, k, in, out)
	prod := naiveMatmul(x, tokens, down, in, rank)
	delta := naiveMatmul(prod, tokens, up, rank, out)
	for i := range base {
		require.InDeltaf(t, base[i]+delta[i], dst[i], 1e-4, "element %d", i)
	}

	// The down-product must land in the caller's workspace
	for i := range prod {
		require.InDeltaf(t, prod[i], workspace[i], 1e-5, "workspace element %d", i)
	}
}

func TestGemmEngine_AdapterWorkspaceMissing(t *testing.T) {
	const tokens, in, out, rank = 2, 4, 4, 1
	engine := NewGemmEngine[float32](device.FP32{})
	w := &Projection[float32]{
		Kernel: randSlice(in*out, 9), InputDims: in, OutputDims: out,
		Lora: Adapter[float32]{Rank: rank, Down: randSlice(in*rank, 10), Up: randSlice(rank*out, 11)},
	}
	dst := make([]float32, tokens*out)
	x := randSlice(tokens*in, 12)
	err := engine.Forward(dst, View[float32]{Data: x}, tokens, w, ModeGemm, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "adapter workspace")
}

func TestGemmEngine_PitchedInput(t *testing.T) {
	const tokens, in, out = 3, 4, 5
	engine := NewGemmEngine[float32](device.FP32{})

	// Rows packed at a 2*in pitch, second half of each row is garbage the
	// engine must skip over.
	pitched := make([]float32, tokens*2*in)
	dense := make([]float32, tokens*in)
	rng := rand.New(rand.NewSource(13))
	for tok := 0; tok < tokens; tok++ {
		for i := 0; i < in; i++ {
			v := rng.Float32()
			pitched[tok*2*in+i] = v
			dense[tok*in+i] = v
			pitched[tok*2*in+in+i] = 999 // must be ignored
		}
	}
	k := randSlice(in*out, 14)
	w := &Projection[float32]{Kernel: k, InputDims: in, OutputDims: out}

	got := make([]float32, tokens*out)
	require.NoError(t, engine.Forward(got, View[float32]{Data: pitched, Pitch: 2 * in}, tokens, w, ModeGemm, nil, nil))

	want := make([]float32, tokens*out)
	require.NoError(t, engine.Forward(want, View[float32]{Data: dense}, tokens, w, ModeGemm, nil, nil))
	require.Equal(t, want, got)
}

func TestGemmEngine_FP16(t *testing.T) {
	const tokens, in, out = 4, 8, 8
	prec := device.FP16{}
	engine := NewGemmEngine[float16.Float16](prec)

	xf := randSlice(tokens*in, 15)
	kf := randSlice(in*out, 16)
	x := make([]float16.Float16, len(xf))
	k := make([]float16.Float16, len(kf))
	device.ConvertFrom[float16.Float16](prec, xf, x)
	device.ConvertFrom[float16.Float16](prec, kf, k)

	w := &Projection[float16.Float16]{Kernel: k, InputDims: in, OutputDims: out}
	dst := make([]float16.Float16, tokens*out)
	require.NoError(t, engine.Forward(dst, View[float16.Float16]{Data: x}, tokens, w, ModeGemm, nil, nil))

	// Accumulation happens in float32; only the storage rounding differs.
	want := naiveMatmul(xf, tokens, kf, in, out)
	for i := range want {
		require.InDeltaf(t, want[i], dst[i].Float32(), 0.05, "element %d", i)
	}
}
