package registration

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrNoObservations is returned when there is nothing to aggregate.
var ErrNoObservations = errors.New("no scale observations")

// ScaleObservation is the best scale found for one view and its score.
type ScaleObservation struct {
	View  string  `json:"view"`
	Scale float64 `json:"scale"`
	Score float64 `json:"score"`
}

// WeightedAverage returns Σ (score_i / Σ score) · scale_i.
func WeightedAverage(obs []ScaleObservation) (float64, error) {
	if len(obs) == 0 {
		return 0, ErrNoObservations
	}
	total := lo.SumBy(obs, func(o ScaleObservation) float64 { return o.Score })
	if total == 0 {
		return 0, errors.New("observation scores sum to zero")
	}
	avg := 0.0
	for _, o := range obs {
		avg += o.Score / total * o.Scale
	}
	return avg, nil
}

// Summary describes the spread of observed scales.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes descriptive statistics of the observed scales.
func Summarize(obs []ScaleObservation) (Summary, error) {
	if len(obs) == 0 {
		return Summary{}, ErrNoObservations
	}
	data := stats.Float64Data(lo.Map(obs, func(o ScaleObservation, _ int) float64 { return o.Scale }))
	var (
		s   = Summary{Count: len(obs)}
		err error
	)
	if s.Mean, err = data.Mean(); err != nil {
		return Summary{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return Summary{}, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return Summary{}, err
	}
	if s.Min, err = data.Min(); err != nil {
		return Summary{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return Summary{}, err
	}
	return s, nil
}
