package detect

import (
	"math"

	"github.com/montanaflynn/stats"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
)

// MedianImputer fills missing values with the per-column median of the
// observed values. Columns with no observed value at all are dropped from
// the output, so the transformed width can be smaller than the input width.
type MedianImputer struct {
	medians []float64
	kept    []int
	width   int
}

// Fit learns the column medians of x.
func (m *MedianImputer) Fit(x [][]float64) error {
	if len(x) == 0 {
		return vwerrors.NewModelError(vwerrors.CodeEmptyInput, "cannot fit imputer on an empty matrix")
	}
	m.width = len(x[0])
	m.medians = make([]float64, m.width)
	m.kept = m.kept[:0]
	for j := 0; j < m.width; j++ {
		var observed stats.Float64Data
		for _, row := range x {
			if !math.IsNaN(row[j]) {
				observed = append(observed, row[j])
			}
		}
		if len(observed) == 0 {
			m.medians[j] = math.NaN()
			continue
		}
		med, err := stats.Median(observed)
		if err != nil {
			return vwerrors.Wrap(vwerrors.ErrCategoryModel, vwerrors.CodeUnexpected, "median", err)
		}
		m.medians[j] = med
		m.kept = append(m.kept, j)
	}
	return nil
}

// Dropped returns the indices of input columns with no observed value.
func (m *MedianImputer) Dropped() []int {
	var out []int
	for j, med := range m.medians {
		if math.IsNaN(med) {
			out = append(out, j)
		}
	}
	return out
}

// Kept returns the indices of input columns present in the output, in order.
func (m *MedianImputer) Kept() []int {
	return append([]int(nil), m.kept...)
}

// Transform returns a copy of x with missing values replaced.
func (m *MedianImputer) Transform(x [][]float64) ([][]float64, error) {
	if m.medians == nil {
		return nil, vwerrors.NewModelError(vwerrors.CodeNotFitted, "imputer is not fitted")
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != m.width {
			return nil, vwerrors.NewModelError(vwerrors.CodeShapeMismatch, "row width differs from fitted width")
		}
		r := make([]float64, len(m.kept))
		for k, j := range m.kept {
			v := row[j]
			if math.IsNaN(v) {
				v = m.medians[j]
			}
			r[k] = v
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits on x and transforms it.
func (m *MedianImputer) FitTransform(x [][]float64) ([][]float64, error) {
	if err := m.Fit(x); err != nil {
		return nil, err
	}
	return m.Transform(x)
}

// epsilon is the float64 machine epsilon.
const epsilon = 2.220446049250313e-16

// StandardScaler centres each column on its mean and divides by its
// population standard deviation. Constant columns are only centred.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit learns per-column mean and scale.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return vwerrors.NewModelError(vwerrors.CodeEmptyInput, "cannot fit scaler on an empty matrix")
	}
	width := len(x[0])
	s.Mean = make([]float64, width)
	s.Scale = make([]float64, width)
	col := make(stats.Float64Data, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return vwerrors.Wrap(vwerrors.ErrCategoryModel, vwerrors.CodeUnexpected, "mean", err)
		}
		sd, err := stats.StandardDeviationPopulation(col)
		if err != nil {
			return vwerrors.Wrap(vwerrors.ErrCategoryModel, vwerrors.CodeUnexpected, "standard deviation", err)
		}
		s.Mean[j] = mean
		// rounding leaves constant columns with a tiny non-zero deviation
		if math.IsNaN(sd) || sd < 10*epsilon*math.Max(1, math.Abs(mean)) {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return nil
}

// Transform standardises x.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, vwerrors.NewModelError(vwerrors.CodeNotFitted, "scaler is not fitted")
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, vwerrors.NewModelError(vwerrors.CodeShapeMismatch, "row width differs from fitted width")
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits on x and transforms it.
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}
