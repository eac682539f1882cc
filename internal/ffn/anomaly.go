package ffn

import (
	"github.com/chewxy/math32"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-glu/internal/device"
)

// Inspector examines a freshly written region for numeric anomalies. level
// controls how intrusive the inspection is:
//
//	0 — disabled
//	1 — count only
//	2 — count and log
//	3 — count, log and rewrite anomalous values in place
//
// Inspection never influences the pipeline's control flow, and repeated calls
// with different tags over overlapping regions are safe.
type Inspector[E any] interface {
	InspectAndCorrect(region []E, count int, tag string, level int)
}

// NopInspector ignores everything. Useful for isolating kernels under test.
type NopInspector[E any] struct{}

func (NopInspector[E]) InspectAndCorrect([]E, int, string, int) {}

// ClampInspector detects NaN, infinities and values beyond a finite guard
// range. NaN is rewritten to zero, the rest saturate at the limit.
type ClampInspector[E any] struct {
	prec  device.Precision[E]
	limit float32
}

// NewClampInspector guards against the working precision's own finite range.
func NewClampInspector[E any](prec device.Precision[E]) ClampInspector[E] {
	return ClampInspector[E]{prec: prec, limit: prec.MaxFinite()}
}

// NewClampInspectorWithLimit guards against a narrower range than the working
// precision, e.g. the fp16 range when fp32 activations will later feed a
// half-precision accumulator.
func NewClampInspectorWithLimit[E any](prec device.Precision[E], limit float32) ClampInspector[E] {
	return ClampInspector[E]{prec: prec, limit: limit}
}

func (c ClampInspector[E]) InspectAndCorrect(region []E, count int, tag string, level int) {
	if level <= 0 {
		return
	}
	if count > len(region) {
		count = len(region)
	}
	limit := c.limit
	var nan, inf, sat int
	for i := 0; i < count; i++ {
		f := c.prec.ToFloat32(region[i])
		switch {
		case math32.IsNaN(f):
			nan++
			if level >= 3 {
				region[i] = c.prec.FromFloat32(0)
			}
		case math32.IsInf(f, 0):
			inf++
			if level >= 3 {
				region[i] = c.prec.FromFloat32(math32.Copysign(limit, f))
			}
		case f > limit || f < -limit:
			sat++
			if level >= 3 {
				region[i] = c.prec.FromFloat32(math32.Copysign(limit, f))
			}
		}
	}
	if nan+inf+sat == 0 {
		return
	}
	anomaliesFound.WithLabelValues(tag, "nan").Add(float64(nan))
	anomaliesFound.WithLabelValues(tag, "inf").Add(float64(inf))
	anomaliesFound.WithLabelValues(tag, "saturated").Add(float64(sat))
	if level >= 2 {
		log.Warn().Str("tag", tag).Int("nan", nan).Int("inf", inf).Int("saturated", sat).
			Bool("corrected", level >= 3).Msg("numeric anomalies in activation region")
	}
}
