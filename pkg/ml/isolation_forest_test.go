package ml

import (
	"encoding/json"
	"testing"
)

func TestIsolationForestSeparatesOutliers(t *testing.T) {
	data := clusterData(60, 4, 3)
	f := NewIsolationForest(IsolationForestConfig{NumTrees: 50, Seed: 1})
	if err := f.Fit(data); err != nil {
		t.Fatalf("fit: %v", err)
	}
	inlier, err := f.AnomalyScore(make([]float64, 4))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	outlier, err := f.AnomalyScore(farPoint(4, 8))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if outlier <= inlier {
		t.Fatalf("outlier anomaly %v not above inlier %v", outlier, inlier)
	}

	dIn, _ := f.DecisionFunction(make([]float64, 4))
	dOut, _ := f.DecisionFunction(farPoint(4, 8))
	if dIn <= dOut {
		t.Fatalf("decision orientation wrong: inlier %v, outlier %v", dIn, dOut)
	}
}

func TestIsolationForestDeterministic(t *testing.T) {
	data := clusterData(50, 3, 9)
	probe := []float64{0.2, -0.1, 0.4}

	a := NewIsolationForest(IsolationForestConfig{NumTrees: 40, Seed: 123})
	if err := a.Fit(data); err != nil {
		t.Fatalf("fit: %v", err)
	}
	b := NewIsolationForest(IsolationForestConfig{NumTrees: 40, Seed: 123})
	if err := b.Fit(data); err != nil {
		t.Fatalf("fit: %v", err)
	}

	sa, _ := a.AnomalyScore(probe)
	sb, _ := b.AnomalyScore(probe)
	if sa != sb {
		t.Fatalf("same seed produced different scores: %v vs %v", sa, sb)
	}
}

func TestIsolationForestStateRoundTrip(t *testing.T) {
	data := clusterData(50, 3, 5)
	f := NewIsolationForest(IsolationForestConfig{NumTrees: 30, Seed: 21})
	if err := f.Fit(data); err != nil {
		t.Fatalf("fit: %v", err)
	}

	blob, err := json.Marshal(f.State())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var state IsolationForestState
	if err := json.Unmarshal(blob, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := RestoreIsolationForest(state)

	probe := []float64{0.3, 0.1, -0.2}
	want, _ := f.AnomalyScore(probe)
	got, err := restored.AnomalyScore(probe)
	if err != nil {
		t.Fatalf("restored score: %v", err)
	}
	if want != got {
		t.Fatalf("restored score %v != original %v", got, want)
	}
}

func TestIsolationForestErrors(t *testing.T) {
	f := NewIsolationForest(IsolationForestConfig{})
	if _, err := f.AnomalyScore([]float64{1}); err == nil {
		t.Fatal("expected error scoring before fit")
	}
	if err := f.Fit(nil); err == nil {
		t.Fatal("expected error fitting empty data")
	}
}
