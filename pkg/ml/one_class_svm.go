package ml

import (
	"fmt"
	"math"
)

// OneClassSVM learns a boundary around genuine samples using an RBF kernel
// and a simplified SMO solver. The decision function follows the usual
// one-class convention: larger values are more genuine, values below zero
// fall outside the learned boundary.
//
// A fitted model is immutable; concurrent DecisionFunction calls are safe.
type OneClassSVM struct {
	nu     float64
	gamma  float64
	kernel string
	degree int

	tolerance float64
	maxIter   int

	supportVectors [][]float64
	alphas         []float64
	rho            float64
	numFeatures    int
	trained        bool
}

// OneClassSVMConfig holds the hyperparameters. Zero values select defaults.
type OneClassSVMConfig struct {
	Nu        float64 // upper bound on the training outlier fraction (default 0.1)
	Gamma     float64 // RBF spread (default 1/num_features)
	Kernel    string  // "rbf", "linear" or "poly" (default "rbf")
	Degree    int     // polynomial degree (default 3)
	Tolerance float64 // SMO convergence tolerance (default 1e-3)
	MaxIter   int     // SMO iteration cap (default 1000)
}

// OneClassSVMState is the serializable form of a fitted model.
type OneClassSVMState struct {
	Nu             float64     `json:"nu"`
	Gamma          float64     `json:"gamma"`
	Kernel         string      `json:"kernel"`
	Degree         int         `json:"degree"`
	SupportVectors [][]float64 `json:"support_vectors"`
	Alphas         []float64   `json:"alphas"`
	Rho            float64     `json:"rho"`
	NumFeatures    int         `json:"num_features"`
}

// NewOneClassSVM creates an unfitted model.
func NewOneClassSVM(config OneClassSVMConfig) *OneClassSVM {
	if config.Nu <= 0 || config.Nu > 1 {
		config.Nu = 0.1
	}
	if config.Kernel == "" {
		config.Kernel = "rbf"
	}
	if config.Degree <= 0 {
		config.Degree = 3
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 1e-3
	}
	if config.MaxIter <= 0 {
		config.MaxIter = 1000
	}
	return &OneClassSVM{
		nu:        config.Nu,
		gamma:     config.Gamma,
		kernel:    config.Kernel,
		degree:    config.Degree,
		tolerance: config.Tolerance,
		maxIter:   config.MaxIter,
	}
}

// RestoreOneClassSVM rebuilds a fitted model from serialized state.
func RestoreOneClassSVM(state OneClassSVMState) *OneClassSVM {
	svm := NewOneClassSVM(OneClassSVMConfig{
		Nu:     state.Nu,
		Gamma:  state.Gamma,
		Kernel: state.Kernel,
		Degree: state.Degree,
	})
	svm.supportVectors = state.SupportVectors
	svm.alphas = state.Alphas
	svm.rho = state.Rho
	svm.numFeatures = state.NumFeatures
	svm.trained = len(state.SupportVectors) > 0
	return svm
}

// State returns the serializable model parameters.
func (svm *OneClassSVM) State() OneClassSVMState {
	return OneClassSVMState{
		Nu:             svm.nu,
		Gamma:          svm.gamma,
		Kernel:         svm.kernel,
		Degree:         svm.degree,
		SupportVectors: svm.supportVectors,
		Alphas:         svm.alphas,
		Rho:            svm.rho,
		NumFeatures:    svm.numFeatures,
	}
}

// Fit trains the boundary on genuine data only.
func (svm *OneClassSVM) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("ml: training data is empty")
	}
	svm.numFeatures = len(data[0])
	n := len(data)

	if svm.gamma <= 0 {
		svm.gamma = 1.0 / float64(svm.numFeatures)
	}

	kernelMatrix := svm.computeKernelMatrix(data)
	alphas, rho := svm.solveQP(kernelMatrix, n)

	// Keep only samples with non-negligible multipliers.
	const keep = 1e-5
	svm.supportVectors = nil
	svm.alphas = nil
	for i := 0; i < n; i++ {
		if alphas[i] > keep {
			sv := make([]float64, len(data[i]))
			copy(sv, data[i])
			svm.supportVectors = append(svm.supportVectors, sv)
			svm.alphas = append(svm.alphas, alphas[i])
		}
	}
	svm.rho = rho
	svm.trained = true
	return nil
}

// DecisionFunction scores a sample: sum(alpha_i K(x_i, x)) - rho. Positive
// means inside the boundary.
func (svm *OneClassSVM) DecisionFunction(sample []float64) (float64, error) {
	if !svm.trained {
		return 0, fmt.Errorf("ml: one-class SVM not fitted")
	}
	if len(sample) != svm.numFeatures {
		return 0, fmt.Errorf("ml: sample dimension mismatch: expected %d, got %d",
			svm.numFeatures, len(sample))
	}
	score := -svm.rho
	for i, sv := range svm.supportVectors {
		score += svm.alphas[i] * svm.kernelFunc(sv, sample)
	}
	return score, nil
}

// NumSupport returns the number of support vectors.
func (svm *OneClassSVM) NumSupport() int { return len(svm.supportVectors) }

// Trained reports whether Fit has run.
func (svm *OneClassSVM) Trained() bool { return svm.trained }

func (svm *OneClassSVM) kernelFunc(x1, x2 []float64) float64 {
	switch svm.kernel {
	case "linear":
		return dot(x1, x2)
	case "poly":
		return math.Pow(dot(x1, x2)+1.0, float64(svm.degree))
	default:
		sumSq := 0.0
		for i := range x1 {
			d := x1[i] - x2[i]
			sumSq += d * d
		}
		return math.Exp(-svm.gamma * sumSq)
	}
}

func dot(x1, x2 []float64) float64 {
	sum := 0.0
	for i := range x1 {
		sum += x1[i] * x2[i]
	}
	return sum
}

func (svm *OneClassSVM) computeKernelMatrix(data [][]float64) [][]float64 {
	n := len(data)
	K := make([][]float64, n)
	for i := 0; i < n; i++ {
		K[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			K[i][j] = svm.kernelFunc(data[i], data[j])
		}
	}
	return K
}

// solveQP runs a simplified SMO pass on the one-class dual problem.
func (svm *OneClassSVM) solveQP(K [][]float64, n int) ([]float64, float64) {
	alphas := make([]float64, n)
	C := 1.0 / (float64(n) * svm.nu)
	for i := range alphas {
		alphas[i] = 0.5 * C
	}

	for iter := 0; iter < svm.maxIter; iter++ {
		changed := 0
		for i := 0; i < n; i++ {
			fi := 0.0
			for j := 0; j < n; j++ {
				fi += alphas[j] * K[i][j]
			}
			Ei := fi - 1.0

			// KKT violation check.
			if !((alphas[i] < C-svm.tolerance && Ei < -svm.tolerance) ||
				(alphas[i] > svm.tolerance && Ei > svm.tolerance)) {
				continue
			}

			j := (i + 1) % n
			fj := 0.0
			for k := 0; k < n; k++ {
				fj += alphas[k] * K[j][k]
			}
			Ej := fj - 1.0

			alphaJOld := alphas[j]
			L := math.Max(0, alphas[i]+alphas[j]-C)
			H := math.Min(C, alphas[i]+alphas[j])
			if math.Abs(L-H) < 1e-8 {
				continue
			}

			eta := 2*K[i][j] - K[i][i] - K[j][j]
			if eta >= -1e-8 {
				continue
			}

			alphas[j] -= (Ej - Ei) / eta
			alphas[j] = math.Max(L, math.Min(H, alphas[j]))
			if math.Abs(alphas[j]-alphaJOld) < 1e-5 {
				continue
			}

			// Preserve sum(alpha) = 1.
			alphas[i] += alphaJOld - alphas[j]
			changed++
		}
		if changed == 0 {
			break
		}
	}

	// rho from on-margin support vectors, falling back to all of them.
	rho := 0.0
	count := 0
	for i := 0; i < n; i++ {
		if alphas[i] > svm.tolerance && alphas[i] < C-svm.tolerance {
			fi := 0.0
			for j := 0; j < n; j++ {
				fi += alphas[j] * K[i][j]
			}
			rho += fi
			count++
		}
	}
	if count == 0 {
		for i := 0; i < n; i++ {
			if alphas[i] > svm.tolerance {
				fi := 0.0
				for j := 0; j < n; j++ {
					fi += alphas[j] * K[i][j]
				}
				rho += fi
				count++
			}
		}
	}
	if count > 0 {
		rho /= float64(count)
	}
	return alphas, rho
}
