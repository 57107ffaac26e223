package ml

import (
	"math"
	"sort"
)

// ROCAUC computes the area under the ROC curve for positive (genuine) and
// negative (impostor) score samples using the rank-sum formulation, with tied
// scores receiving averaged ranks. An undefined AUC, where either class is
// empty, returns 0: the worst case, so hyperparameter search never prefers a
// degenerate split.
func ROCAUC(pos, neg []float64) float64 {
	if len(pos) == 0 || len(neg) == 0 {
		return 0
	}

	type scored struct {
		v   float64
		pos bool
	}
	all := make([]scored, 0, len(pos)+len(neg))
	for _, v := range pos {
		all = append(all, scored{v, true})
	}
	for _, v := range neg {
		all = append(all, scored{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Average ranks across ties.
	ranks := make([]float64, len(all))
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].v == all[i].v {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}

	posRankSum := 0.0
	for i, s := range all {
		if s.pos {
			posRankSum += ranks[i]
		}
	}
	nPos := float64(len(pos))
	nNeg := float64(len(neg))
	return (posRankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// FalseAcceptRate is the fraction of impostor scores at or above the
// threshold.
func FalseAcceptRate(impostor []float64, threshold float64) float64 {
	if len(impostor) == 0 {
		return 0
	}
	count := 0
	for _, v := range impostor {
		if v >= threshold {
			count++
		}
	}
	return float64(count) / float64(len(impostor))
}

// FalseRejectRate is the fraction of genuine scores below the threshold.
func FalseRejectRate(genuine []float64, threshold float64) float64 {
	if len(genuine) == 0 {
		return 0
	}
	count := 0
	for _, v := range genuine {
		if v < threshold {
			count++
		}
	}
	return float64(count) / float64(len(genuine))
}

// CalibrateThreshold picks the acceptance threshold minimizing the summed
// false-accept and false-reject rates, evaluated over every score observed in
// either set. Ties resolve to the lowest qualifying threshold, which favors
// accepting genuine samples.
func CalibrateThreshold(genuine, impostor []float64) (threshold, far, frr float64) {
	candidates := make([]float64, 0, len(genuine)+len(impostor))
	candidates = append(candidates, genuine...)
	candidates = append(candidates, impostor...)
	if len(candidates) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(candidates)

	best := candidates[0]
	bestFAR := FalseAcceptRate(impostor, best)
	bestFRR := FalseRejectRate(genuine, best)
	bestCost := bestFAR + bestFRR
	for _, t := range candidates[1:] {
		fa := FalseAcceptRate(impostor, t)
		fr := FalseRejectRate(genuine, t)
		if fa+fr < bestCost {
			best, bestFAR, bestFRR, bestCost = t, fa, fr, fa+fr
		}
	}
	return best, bestFAR, bestFRR
}

// MeanStd returns the mean and population standard deviation of values, with
// a zero deviation mapped to 1 so z-normalization stays defined.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 1
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	if std == 0 {
		std = 1
	}
	return mean, std
}
