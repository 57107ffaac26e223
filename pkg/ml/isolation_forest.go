package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// IsolationForest isolates anomalies with randomized binary trees: outliers
// take shorter paths to a leaf. Tree construction is driven by a seeded RNG
// so a fixed seed always grows the same forest.
type IsolationForest struct {
	numTrees   int
	sampleSize int
	maxDepth   int
	seed       int64
	trees      []*IsoNode
}

// IsolationForestConfig holds the forest parameters. Zero values select
// defaults (100 trees, 256-sample subsampling).
type IsolationForestConfig struct {
	NumTrees   int
	SampleSize int
	Seed       int64
}

// IsoNode is one node of an isolation tree. Leaves have nil children.
type IsoNode struct {
	SplitFeature int      `json:"f"`
	SplitValue   float64  `json:"v"`
	Size         int      `json:"n"`
	Left         *IsoNode `json:"l,omitempty"`
	Right        *IsoNode `json:"r,omitempty"`
}

// IsolationForestState is the serializable form of a fitted forest.
type IsolationForestState struct {
	SampleSize int        `json:"sample_size"`
	Seed       int64      `json:"seed"`
	Trees      []*IsoNode `json:"trees"`
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(config IsolationForestConfig) *IsolationForest {
	if config.NumTrees <= 0 {
		config.NumTrees = 100
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 256
	}
	return &IsolationForest{
		numTrees:   config.NumTrees,
		sampleSize: config.SampleSize,
		seed:       config.Seed,
	}
}

// RestoreIsolationForest rebuilds a fitted forest from serialized state.
func RestoreIsolationForest(state IsolationForestState) *IsolationForest {
	return &IsolationForest{
		numTrees:   len(state.Trees),
		sampleSize: state.SampleSize,
		seed:       state.Seed,
		trees:      state.Trees,
	}
}

// State returns the serializable forest.
func (f *IsolationForest) State() IsolationForestState {
	return IsolationForestState{SampleSize: f.sampleSize, Seed: f.seed, Trees: f.trees}
}

// Fit grows the forest on genuine data.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("ml: training data is empty")
	}
	if f.sampleSize > len(data) {
		f.sampleSize = len(data)
	}
	f.maxDepth = int(math.Ceil(math.Log2(math.Max(2, float64(f.sampleSize)))))

	rng := rand.New(rand.NewSource(f.seed))
	f.trees = make([]*IsoNode, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		sample := subsample(data, f.sampleSize, rng)
		f.trees[i] = buildIsoTree(sample, 0, f.maxDepth, rng)
	}
	return nil
}

// Trained reports whether Fit has run.
func (f *IsolationForest) Trained() bool { return len(f.trees) > 0 }

// AnomalyScore returns the standard isolation score in (0, 1]; values near 1
// are strongly anomalous, values around 0.5 and below are ordinary.
func (f *IsolationForest) AnomalyScore(sample []float64) (float64, error) {
	if !f.Trained() {
		return 0, fmt.Errorf("ml: isolation forest not fitted")
	}
	total := 0.0
	for _, tree := range f.trees {
		total += isoPathLength(tree, sample, 0)
	}
	avgPath := total / float64(len(f.trees))
	c := avgUnsuccessfulPath(f.sampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avgPath/c), nil
}

// DecisionFunction mirrors the one-class SVM orientation: higher is more
// genuine. It is 0.5 minus the anomaly score.
func (f *IsolationForest) DecisionFunction(sample []float64) (float64, error) {
	s, err := f.AnomalyScore(sample)
	if err != nil {
		return 0, err
	}
	return 0.5 - s, nil
}

func subsample(data [][]float64, size int, rng *rand.Rand) [][]float64 {
	if len(data) <= size {
		return data
	}
	out := make([][]float64, size)
	for i := range out {
		out[i] = data[rng.Intn(len(data))]
	}
	return out
}

func buildIsoTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *IsoNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &IsoNode{Size: len(data)}
	}

	feature := rng.Intn(len(data[0]))
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &IsoNode{Size: len(data)}
	}

	split := minVal + rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &IsoNode{
		SplitFeature: feature,
		SplitValue:   split,
		Size:         len(data),
		Left:         buildIsoTree(left, depth+1, maxDepth, rng),
		Right:        buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

func isoPathLength(node *IsoNode, sample []float64, depth int) float64 {
	if node.Left == nil && node.Right == nil {
		return float64(depth) + avgUnsuccessfulPath(node.Size)
	}
	if sample[node.SplitFeature] < node.SplitValue {
		return isoPathLength(node.Left, sample, depth+1)
	}
	return isoPathLength(node.Right, sample, depth+1)
}

// avgUnsuccessfulPath is c(n), the average BST unsuccessful-search depth,
// used to normalize path lengths.
func avgUnsuccessfulPath(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
