// Package ml implements the anomaly-detection primitives used for behavioral
// verification: a one-class SVM boundary model, an isolation forest, feature
// standardization, multivariate Gaussian sampling, and threshold calibration
// utilities. Models are pure in-memory computations with serializable state;
// persistence and orchestration live with the callers.
package ml

import (
	"fmt"
	"math"
)

// StandardScaler centers features to zero mean and unit variance. The zero
// value is unfitted; fields are exported for serialization.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation. Columns with zero
// variance get std 1 so transformation is a no-op for them.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 || len(data[0]) == 0 {
		return fmt.Errorf("ml: scaler fit on empty data")
	}
	cols := len(data[0])
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)
	for _, row := range data {
		if len(row) != cols {
			return fmt.Errorf("ml: ragged matrix, row has %d columns, want %d", len(row), cols)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return nil
}

// Fitted reports whether Fit has run.
func (s *StandardScaler) Fitted() bool { return len(s.Mean) > 0 }

// Transform scales a matrix, returning a new matrix.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		scaled, err := s.TransformOne(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformOne scales a single vector, returning a new slice.
func (s *StandardScaler) TransformOne(row []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("ml: scaler not fitted")
	}
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("ml: vector has %d features, scaler fitted on %d", len(row), len(s.Mean))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}
