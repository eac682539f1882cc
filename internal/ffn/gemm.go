package ffn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-glu/internal/device"
	"github.com/23skdu/longbow-glu/internal/simd"
)

// GemmEngine is the reference LinearEngine, backed by gonum BLAS with float32
// accumulation. Elements are widened into reusable staging regions, multiplied
// with sgemm, and narrowed back to the working precision, matching the
// accumulate-wide/store-narrow behavior of the device kernels it stands in
// for. A GemmEngine serves one layer instance at a time.
type GemmEngine[E any] struct {
	prec device.Precision[E]

	src  *device.Arena[float32]
	out  *device.Arena[float32]
	wide *device.Arena[float32] // widened kernel, also fused gate+up product
	rank *device.Arena[float32]
}

func NewGemmEngine[E any](prec device.Precision[E]) *GemmEngine[E] {
	return &GemmEngine[E]{
		prec: prec,
		src:  device.NewArena[float32]("gemm_src", 0),
		out:  device.NewArena[float32]("gemm_out", 0),
		wide: device.NewArena[float32]("gemm_wide", 0),
		rank: device.NewArena[float32]("gemm_rank", 0),
	}
}

func (g *GemmEngine[E]) Forward(dst []E, src View[E], tokens int, w *Projection[E], mode Mode, loraWorkspace []E, mask []int32) error {
	if !w.present() {
		return fmt.Errorf("ffn: gemm: absent kernel")
	}
	outDims := w.OutputDims
	if mode == ModeFusedSiluFfn {
		if outDims%2 != 0 {
			return fmt.Errorf("ffn: gemm: fused silu kernel with odd output dims %d", outDims)
		}
		outDims = w.OutputDims / 2
	}
	if len(dst) < tokens*outDims {
		return fmt.Errorf("ffn: gemm: output region has %d elements, want %d", len(dst), tokens*outDims)
	}

	a, err := g.stageInput(src, tokens, w.InputDims)
	if err != nil {
		return err
	}
	bData, err := g.stageKernel(w)
	if err != nil {
		return err
	}

	cData, err := g.out.Acquire(tokens*w.OutputDims, false)
	if err != nil {
		return err
	}
	b := blas32.General{Rows: w.InputDims, Cols: w.OutputDims, Stride: w.OutputDims, Data: bData}
	c := blas32.General{Rows: tokens, Cols: w.OutputDims, Stride: w.OutputDims, Data: cData}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)

	if mode == ModeFusedSiluFfn {
		// Fold the concatenated gate|up halves into the gated product.
		for t := 0; t < tokens; t++ {
			row := cData[t*w.OutputDims:]
			folded := cData[t*outDims:] // safe: reads stay ahead of writes
			for i := 0; i < outDims; i++ {
				folded[i] = simd.Silu(row[i]) * row[outDims+i]
			}
		}
		cData = cData[:tokens*outDims]
	} else if w.Lora.Rank > 0 {
		if err := g.applyAdapter(a, cData, tokens, w, loraWorkspace, mask); err != nil {
			return err
		}
	}

	device.ConvertFrom(g.prec, cData[:tokens*outDims], dst)
	return nil
}

// stageInput widens src into a dense tokens x cols float32 matrix, honoring
// the view's pitch.
func (g *GemmEngine[E]) stageInput(src View[E], tokens, cols int) (blas32.General, error) {
	buf, err := g.src.Acquire(tokens*cols, false)
	if err != nil {
		return blas32.General{}, err
	}
	for t := 0; t < tokens; t++ {
		device.ConvertTo(g.prec, src.row(t, cols), buf[t*cols:])
	}
	return blas32.General{Rows: tokens, Cols: cols, Stride: cols, Data: buf}, nil
}

func (g *GemmEngine[E]) stageKernel(w *Projection[E]) ([]float32, error) {
	if f, ok := any(w.Kernel).([]float32); ok {
		return f, nil
	}
	buf, err := g.wide.Acquire(len(w.Kernel), false)
	if err != nil {
		return nil, err
	}
	device.ConvertTo(g.prec, w.Kernel, buf)
	return buf, nil
}

// applyAdapter computes the low-rank correction x·down·up and adds it to the
// accumulator rows selected by mask. The down-product is materialized in the
// caller's adapter workspace at working precision, as a device kernel would.
func (g *GemmEngine[E]) applyAdapter(a blas32.General, acc []float32, tokens int, w *Projection[E], workspace []E, mask []int32) error {
	r := w.Lora.Rank
	if len(workspace) < tokens*r {
		return fmt.Errorf("ffn: gemm: adapter workspace has %d elements, want %d", len(workspace), tokens*r)
	}

	downWide, err := g.stageAdapterMat(w.Lora.Down)
	if err != nil {
		return err
	}
	prod, err := g.rank.Acquire(tokens*r, false)
	if err != nil {
		return err
	}
	down := blas32.General{Rows: w.InputDims, Cols: r, Stride: r, Data: downWide}
	p := blas32.General{Rows: tokens, Cols: r, Stride: r, Data: prod}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, down, 0, p)
	device.ConvertFrom(g.prec, prod, workspace)

	upWide, err := g.stageAdapterMat(w.Lora.Up)
	if err != nil {
		return err
	}
	out := w.OutputDims
	for t := 0; t < tokens; t++ {
		if mask != nil && mask[t] == 0 {
			continue
		}
		row := acc[t*out : (t+1)*out]
		for k := 0; k < r; k++ {
			simd.VecAddScaled(row, upWide[k*out:(k+1)*out], g.prec.ToFloat32(workspace[t*r+k]))
		}
	}
	return nil
}

func (g *GemmEngine[E]) stageAdapterMat(m []E) ([]float32, error) {
	if f, ok := any(m).([]float32); ok {
		return f, nil
	}
	buf := make([]float32, len(m))
	device.ConvertTo(g.prec, m, buf)
	return buf, nil
}
