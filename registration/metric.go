// Package registration estimates the unknown scale of a reconstructed depth map by
// maximizing cross-modal similarity through the transfer operator, aggregates the
// per-view estimates and composites the target modality onto the source view.
package registration

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/thermalign/rimage"
)

// SimilarityMetric scores how well two equally sized patches agree. Higher is
// better; scores are expected to be non-negative.
type SimilarityMetric interface {
	Name() string
	Similarity(a, b *rimage.FloatImage) float64
}

// MutualInformation is H(A) + H(B) - H(A, B) over a joint histogram of samples
// in [0, 255].
type MutualInformation struct {
	Bins int
}

// Name implements SimilarityMetric.
func (MutualInformation) Name() string { return "mi" }

// Similarity implements SimilarityMetric.
func (m MutualInformation) Similarity(a, b *rimage.FloatImage) float64 {
	bins := m.Bins
	if bins <= 0 {
		bins = 256
	}
	av, bv := a.Data(), b.Data()
	if len(av) == 0 || len(av) != len(bv) {
		return 0
	}
	joint := make([]float64, bins*bins)
	pa := make([]float64, bins)
	pb := make([]float64, bins)
	bin := func(v float64) int {
		k := int(v * float64(bins) / 256)
		return max(0, min(bins-1, k))
	}
	inc := 1 / float64(len(av))
	for i := range av {
		ia, ib := bin(av[i]), bin(bv[i])
		joint[ia*bins+ib] += inc
		pa[ia] += inc
		pb[ib] += inc
	}
	return stat.Entropy(pa) + stat.Entropy(pb) - stat.Entropy(joint)
}

// EdgeCorrelation is the zero-mean normalized cross-correlation of the Sobel
// gradient magnitudes of both patches, clamped at zero.
type EdgeCorrelation struct{}

// Name implements SimilarityMetric.
func (EdgeCorrelation) Name() string { return "edge" }

// Similarity implements SimilarityMetric.
func (EdgeCorrelation) Similarity(a, b *rimage.FloatImage) float64 {
	if a.Width() != b.Width() || a.Height() != b.Height() || a.Width()*a.Height() < 2 {
		return 0
	}
	ea := rimage.SobelMagnitude(a).Data()
	eb := rimage.SobelMagnitude(b).Data()
	r := stat.Correlation(ea, eb, nil)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return r
}

var metrics = map[string]func() SimilarityMetric{
	"mi":   func() SimilarityMetric { return MutualInformation{Bins: 256} },
	"edge": func() SimilarityMetric { return EdgeCorrelation{} },
}

// MetricByName returns the metric registered under name.
func MetricByName(name string) (SimilarityMetric, error) {
	ctor, ok := metrics[name]
	if !ok {
		return nil, errors.Errorf("unknown similarity metric %q, expected one of %v", name, MetricNames())
	}
	return ctor(), nil
}

// MetricNames lists the registered metric names.
func MetricNames() []string {
	names := lo.Keys(metrics)
	sort.Strings(names)
	return names
}
