package ffn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-glu/internal/device"
)

func TestClampInspector_Corrects(t *testing.T) {
	// fp32 activations guarded against the fp16 accumulation range
	in := NewClampInspectorWithLimit[float32](device.FP32{}, 65504)

	region := []float32{
		1.0,
		float32(math.NaN()),
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		1e6,
		-1e6,
		-2.5,
	}
	in.InspectAndCorrect(region, len(region), "w1_0", 3)

	require.Equal(t, float32(1.0), region[0])
	require.Equal(t, float32(0), region[1], "NaN must be rewritten to zero")
	require.Equal(t, float32(65504), region[2])
	require.Equal(t, float32(-65504), region[3])
	require.Equal(t, float32(65504), region[4])
	require.Equal(t, float32(-65504), region[5])
	require.Equal(t, float32(-2.5), region[6])
}

func TestClampInspector_Idempotent(t *testing.T) {
	in := NewClampInspectorWithLimit[float32](device.FP32{}, 100)

	region := []float32{float32(math.NaN()), 500, -3}
	in.InspectAndCorrect(region, len(region), "act_1", 3)
	after := append([]float32(nil), region...)

	// Re-inspecting the corrected region, under any tag, must change nothing
	in.InspectAndCorrect(region, len(region), "w2_1", 3)
	require.Equal(t, after, region)
}

func TestClampInspector_CountOnlyLeavesValues(t *testing.T) {
	in := NewClampInspectorWithLimit[float32](device.FP32{}, 100)

	region := []float32{500, -500, 1}
	want := append([]float32(nil), region...)
	in.InspectAndCorrect(region, len(region), "w3_2", 1)
	require.Equal(t, want, region, "level 1 must only count")
}

func TestClampInspector_Disabled(t *testing.T) {
	in := NewClampInspector[float32](device.FP32{})
	region := []float32{float32(math.NaN())}
	in.InspectAndCorrect(region, len(region), "w1_3", 0)
	require.True(t, math.IsNaN(float64(region[0])))
}

func TestClampInspector_RespectsCount(t *testing.T) {
	in := NewClampInspectorWithLimit[float32](device.FP32{}, 100)
	region := []float32{500, 500}
	in.InspectAndCorrect(region, 1, "w1_4", 3)
	require.Equal(t, float32(100), region[0])
	require.Equal(t, float32(500), region[1], "elements beyond count must stay untouched")
}
