package artifact

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Comparison summarizes the magnitude difference between two dumps.
type Comparison struct {
	Samples    int
	MeanA      float64
	MeanB      float64
	RMSDiff    float64
	MaxAbsDiff float64
}

// Compare computes per-sample magnitude statistics for two dumps of equal
// length.
func Compare(a, b []complex64) (Comparison, error) {
	if len(a) != len(b) {
		return Comparison{}, fmt.Errorf("sample counts differ: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return Comparison{}, fmt.Errorf("no samples to compare")
	}
	magA, magB := magnitudes(a), magnitudes(b)
	diff := make([]float64, len(a))
	floats.SubTo(diff, magA, magB)
	for i := range diff {
		diff[i] = math.Abs(diff[i])
	}
	return Comparison{
		Samples:    len(a),
		MeanA:      stat.Mean(magA, nil),
		MeanB:      stat.Mean(magB, nil),
		RMSDiff:    floats.Norm(diff, 2) / math.Sqrt(float64(len(diff))),
		MaxAbsDiff: floats.Max(diff),
	}, nil
}

func magnitudes(s []complex64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = cmplx.Abs(complex128(v))
	}
	return out
}
