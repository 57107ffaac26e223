package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// MultivariateGaussian models the mean and covariance of a sample matrix and
// draws synthetic samples from it. Training uses it to synthesize impostor
// vectors around the genuine distribution when no real attacker data exists.
//
// Sampling uses the Cholesky factor of the covariance when it is positive
// definite, and falls back to independent per-feature draws otherwise.
type MultivariateGaussian struct {
	Mean []float64   `json:"mean"`
	chol [][]float64 // nil when using the diagonal fallback
	diag []float64   // per-feature std for the fallback
}

// FitGaussian estimates mean and covariance from the rows of data.
func FitGaussian(data [][]float64) (*MultivariateGaussian, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ml: no data to fit gaussian")
	}
	n := len(data)
	d := len(data[0])

	mean := make([]float64, d)
	for _, row := range data {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(n)
	}

	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
	}
	for _, row := range data {
		for i := 0; i < d; i++ {
			di := row[i] - mean[i]
			for j := 0; j < d; j++ {
				cov[i][j] += di * (row[j] - mean[j])
			}
		}
	}
	denom := math.Max(1, float64(n-1))
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			cov[i][j] /= denom
		}
		// Small ridge keeps near-singular covariances factorable.
		cov[i][i] += 1e-6
	}

	g := &MultivariateGaussian{Mean: mean}
	if chol, ok := cholesky(cov); ok {
		g.chol = chol
	} else {
		g.diag = make([]float64, d)
		for i := 0; i < d; i++ {
			g.diag[i] = math.Sqrt(math.Max(0, cov[i][i]))
		}
	}
	return g, nil
}

// Diagonal reports whether sampling uses the diagonal fallback.
func (g *MultivariateGaussian) Diagonal() bool { return g.chol == nil }

// Sample draws n vectors.
func (g *MultivariateGaussian) Sample(n int, rng *rand.Rand) [][]float64 {
	d := len(g.Mean)
	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		z := make([]float64, d)
		for i := range z {
			z[i] = rng.NormFloat64()
		}
		x := make([]float64, d)
		if g.chol != nil {
			for i := 0; i < d; i++ {
				sum := g.Mean[i]
				for j := 0; j <= i; j++ {
					sum += g.chol[i][j] * z[j]
				}
				x[i] = sum
			}
		} else {
			for i := 0; i < d; i++ {
				x[i] = g.Mean[i] + g.diag[i]*z[i]
			}
		}
		out[k] = x
	}
	return out
}

// ShiftMean translates the distribution, used to push synthetic impostors
// away from the genuine center.
func (g *MultivariateGaussian) ShiftMean(delta []float64) {
	for i := range g.Mean {
		if i < len(delta) {
			g.Mean[i] += delta[i]
		}
	}
}

// cholesky returns the lower-triangular factor L with A = L L^T, or ok=false
// when A is not positive definite.
func cholesky(a [][]float64) ([][]float64, bool) {
	d := len(a)
	L := make([][]float64, d)
	for i := range L {
		L[i] = make([]float64, d)
	}
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				L[i][i] = math.Sqrt(sum)
			} else {
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L, true
}
