package ml

import (
	"math"
	"testing"
)

func TestScalerFitTransform(t *testing.T) {
	data := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
		{4, 40, 5},
	}
	var s StandardScaler
	if err := s.Fit(data); err != nil {
		t.Fatalf("fit: %v", err)
	}
	out, err := s.Transform(data)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	for j := 0; j < 2; j++ {
		mean, std := 0.0, 0.0
		for _, row := range out {
			mean += row[j]
		}
		mean /= float64(len(out))
		for _, row := range out {
			std += (row[j] - mean) * (row[j] - mean)
		}
		std = math.Sqrt(std / float64(len(out)))
		if math.Abs(mean) > 1e-9 {
			t.Errorf("column %d mean = %v, want 0", j, mean)
		}
		if math.Abs(std-1) > 1e-9 {
			t.Errorf("column %d std = %v, want 1", j, std)
		}
	}
	// Constant column passes through centered, not divided by zero.
	for i, row := range out {
		if row[2] != 0 {
			t.Errorf("row %d constant column = %v, want 0", i, row[2])
		}
	}
}

func TestScalerDimensionMismatch(t *testing.T) {
	var s StandardScaler
	if err := s.Fit([][]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := s.TransformOne([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestScalerUnfitted(t *testing.T) {
	var s StandardScaler
	if s.Fitted() {
		t.Fatal("zero scaler reports fitted")
	}
	if _, err := s.TransformOne([]float64{1}); err == nil {
		t.Fatal("expected unfitted error")
	}
	if err := s.Fit(nil); err == nil {
		t.Fatal("expected error fitting empty data")
	}
}
