package keystroke

import (
	"fmt"
	"math"
	"sort"
)

// SchemaVersion identifies the feature-name contract. Any change to the
// feature set or its order invalidates previously trained model bundles.
const SchemaVersion = 1

// featureNames is the fixed output order. Do not reorder or rename without
// bumping SchemaVersion.
var featureNames = []string{
	"mean_dwell", "std_dwell", "min_dwell", "max_dwell",
	"mean_flight", "std_flight", "min_flight", "max_flight",
	"avg_word_gap",
	"pause_over_300ms", "pause_over_700ms", "pause_over_1000ms",
	"typing_speed",
	"backspace_count", "backspace_ratio", "correction_latency",
	"burstiness",
	"entropy_dwell", "entropy_flight",
	"keystroke_count", "total_duration_ms",
	"interval_mean", "interval_std", "interval_min", "interval_max",
	"pause_mean", "pause_std", "pause_min", "pause_max", "pause_rate",
	"rhythm_smoothness",
	"monotonic_flag",
}

// timingFeatures are the features whose magnitude tracks raw timing. Training
// jitters these proportionally when augmenting small enrollment sets.
var timingFeatures = map[string]bool{
	"mean_dwell": true, "std_dwell": true, "min_dwell": true, "max_dwell": true,
	"mean_flight": true, "std_flight": true, "min_flight": true, "max_flight": true,
	"avg_word_gap":     true,
	"pause_over_300ms": true, "pause_over_700ms": true, "pause_over_1000ms": true,
	"typing_speed": true, "correction_latency": true, "burstiness": true,
	"entropy_dwell": true, "entropy_flight": true, "total_duration_ms": true,
	"pause_mean": true, "pause_std": true, "pause_min": true, "pause_max": true,
	"interval_mean": true, "interval_std": true, "interval_min": true, "interval_max": true,
}

// FeatureNames returns a copy of the fixed feature-name order.
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// TimingFeatureIndices returns the positions of timing-sensitive features
// within FeatureNames.
func TimingFeatureIndices() []int {
	idx := make([]int, 0, len(timingFeatures))
	for i, name := range featureNames {
		if timingFeatures[name] {
			idx = append(idx, i)
		}
	}
	return idx
}

// FeatureVector is the extractor output. Raw always has one value per name
// and every value is finite. Partials, when present, hold raw vectors
// recomputed from truncated event prefixes for early-confidence scoring.
type FeatureVector struct {
	Names      []string    `json:"names"`
	Raw        []float64   `json:"raw"`
	Normalized []float64   `json:"normalized,omitempty"`
	Partials   [][]float64 `json:"partials,omitempty"`
}

// Value looks a feature up by name in the raw vector.
func (v *FeatureVector) Value(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Raw[i], true
		}
	}
	return 0, false
}

// Map returns the raw vector keyed by feature name.
func (v *FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Raw[i]
	}
	return m
}

// Options tunes extraction. Zero values select the defaults.
type Options struct {
	// MinimumPauseMS is the inter-arrival gap above which an interval counts
	// as a pause. Default 50ms.
	MinimumPauseMS float64
	// PartialCheckpoints are the keydown counts at which partial vectors are
	// computed. Default {4, 6, 8}. Nil keeps the default; an explicit empty
	// slice disables partials.
	PartialCheckpoints []int
}

func (o Options) withDefaults() Options {
	if o.MinimumPauseMS <= 0 {
		o.MinimumPauseMS = 50
	}
	if o.PartialCheckpoints == nil {
		o.PartialCheckpoints = []int{4, 6, 8}
	}
	return o
}

// Extract computes the feature vector for an event stream. The stream does
// not need to be pre-sorted. Returns ErrInvalidInput for an empty stream.
func Extract(events []Event, opts Options) (*FeatureVector, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events supplied", ErrInvalidInput)
	}
	opts = opts.withDefaults()

	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimestampMS < ordered[j].TimestampMS
	})

	raw := computeFeatureMap(ordered, opts.MinimumPauseMS)

	vec := &FeatureVector{Names: FeatureNames(), Raw: raw}

	if len(opts.PartialCheckpoints) > 0 {
		totalKeydowns := 0
		for _, e := range ordered {
			if e.Kind == KeyDown {
				totalKeydowns++
			}
		}
		for _, target := range opts.PartialCheckpoints {
			if target >= totalKeydowns {
				break
			}
			subset := sliceByKeystrokes(ordered, target)
			if len(subset) < 4 {
				continue
			}
			vec.Partials = append(vec.Partials, computeFeatureMap(subset, opts.MinimumPauseMS))
		}
	}
	return vec, nil
}

// computeFeatureMap computes all features for an already-sorted event slice.
// The result follows the featureNames order.
func computeFeatureMap(ordered []Event, minimumPauseMS float64) []float64 {
	timestamps := make([]float64, len(ordered))
	for i, e := range ordered {
		timestamps[i] = e.TimestampMS
	}
	totalTime := timestamps[len(timestamps)-1] - timestamps[0]
	if totalTime < 1e-3 {
		totalTime = 1e-3
	}

	keydownCount := 0
	backspaceCount := 0
	for _, e := range ordered {
		if e.Kind == KeyDown {
			keydownCount++
			if e.Key == "Backspace" {
				backspaceCount++
			}
		}
	}
	charCount := keydownCount
	if charCount < 1 {
		charCount = 1
	}

	dwell := dwellTimes(ordered)
	flight := flightTimes(ordered)

	intervals := make([]float64, 0, len(timestamps)-1)
	pauses := make([]float64, 0)
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i] - timestamps[i-1]
		intervals = append(intervals, gap)
		if gap > minimumPauseMS {
			pauses = append(pauses, gap)
		}
	}

	dwellMean, dwellStd, dwellMin, dwellMax := basicStats(dwell)
	flightMean, flightStd, flightMin, flightMax := basicStats(flight)
	pauseMean, pauseStd, pauseMin, pauseMax := basicStats(pauses)
	intervalMean, intervalStd, intervalMin, intervalMax := basicStats(intervals)

	pauseRate := float64(len(pauses)) / float64(charCount)
	over300 := thresholdFraction(flight, 300)
	over700 := thresholdFraction(flight, 700)
	over1000 := thresholdFraction(flight, 1000)

	backspaceRatio := float64(backspaceCount) / float64(charCount)
	correction := meanOf(correctionLatencies(ordered))

	burstiness := 0.0
	if flightMean != 0 {
		burstiness = flightStd / (flightMean + 1e-3)
	}

	wordGap := meanOf(wordGapTimes(ordered))

	rhythmSmoothness := 0.0
	if len(flight) > 2 {
		diffs := make([]float64, len(flight)-1)
		for i := 1; i < len(flight); i++ {
			diffs[i-1] = flight[i] - flight[i-1]
		}
		_, diffStd, _, _ := basicStats(diffs)
		rhythmSmoothness = 1.0 / (1.0 + diffStd)
	}

	monotonic := 0.0
	if math.Max(dwellStd, flightStd) < 1e-3 {
		monotonic = 1.0
	}

	values := map[string]float64{
		"mean_dwell":         dwellMean,
		"std_dwell":          dwellStd,
		"min_dwell":          dwellMin,
		"max_dwell":          dwellMax,
		"mean_flight":        flightMean,
		"std_flight":         flightStd,
		"min_flight":         flightMin,
		"max_flight":         flightMax,
		"avg_word_gap":       wordGap,
		"pause_over_300ms":   over300,
		"pause_over_700ms":   over700,
		"pause_over_1000ms":  over1000,
		"typing_speed":       float64(charCount) / (totalTime / 1000.0),
		"backspace_count":    float64(backspaceCount),
		"backspace_ratio":    backspaceRatio,
		"correction_latency": correction,
		"burstiness":         burstiness,
		"entropy_dwell":      shannonEntropy(dwell),
		"entropy_flight":     shannonEntropy(flight),
		"keystroke_count":    float64(charCount),
		"total_duration_ms":  totalTime,
		"interval_mean":      intervalMean,
		"interval_std":       intervalStd,
		"interval_min":       intervalMin,
		"interval_max":       intervalMax,
		"pause_mean":         pauseMean,
		"pause_std":          pauseStd,
		"pause_min":          pauseMin,
		"pause_max":          pauseMax,
		"pause_rate":         pauseRate,
		"rhythm_smoothness":  rhythmSmoothness,
		"monotonic_flag":     monotonic,
	}

	raw := make([]float64, len(featureNames))
	for i, name := range featureNames {
		raw[i] = sanitize(values[name])
	}
	return raw
}

// dwellTimes pairs each keydown with the next unmatched keyup for the same
// key. FIFO pairing tolerates key repeat.
func dwellTimes(ordered []Event) []float64 {
	pending := make(map[string][]float64)
	dwell := make([]float64, 0, len(ordered)/2)
	for _, e := range ordered {
		switch e.Kind {
		case KeyDown:
			pending[e.Key] = append(pending[e.Key], e.TimestampMS)
		case KeyUp:
			queue := pending[e.Key]
			if len(queue) > 0 {
				down := queue[0]
				pending[e.Key] = queue[1:]
				dwell = append(dwell, math.Max(0, e.TimestampMS-down))
			}
		}
	}
	return dwell
}

// flightTimes measures, for each keyup except the last, the time until the
// first keydown at or after that keyup.
func flightTimes(ordered []Event) []float64 {
	var keyups, keydowns []float64
	for _, e := range ordered {
		switch e.Kind {
		case KeyUp:
			keyups = append(keyups, e.TimestampMS)
		case KeyDown:
			keydowns = append(keydowns, e.TimestampMS)
		}
	}
	flights := make([]float64, 0, len(keyups))
	for i := 0; i < len(keyups)-1; i++ {
		up := keyups[i]
		for _, down := range keydowns {
			if down >= up {
				flights = append(flights, math.Max(0, down-up))
				break
			}
		}
	}
	return flights
}

// correctionLatencies measures the time from each Backspace keydown to the
// next non-backspace keydown.
func correctionLatencies(ordered []Event) []float64 {
	var out []float64
	for i, e := range ordered {
		if e.Kind != KeyDown || e.Key != "Backspace" {
			continue
		}
		for _, next := range ordered[i+1:] {
			if next.Kind == KeyDown && next.Key != "Backspace" {
				if gap := next.TimestampMS - e.TimestampMS; gap >= 0 {
					out = append(out, gap)
				}
				break
			}
		}
	}
	return out
}

// wordGapTimes measures the time from a space keyup to the next keydown.
func wordGapTimes(ordered []Event) []float64 {
	var out []float64
	for i, e := range ordered[:len(ordered)-1] {
		if e.Kind != KeyUp || !isSpaceKey(e.Key) {
			continue
		}
		for _, next := range ordered[i+1:] {
			if next.Kind == KeyDown {
				if gap := next.TimestampMS - e.TimestampMS; gap >= 0 {
					out = append(out, gap)
				}
				break
			}
		}
	}
	return out
}

func isSpaceKey(key string) bool {
	return key == " " || key == "Space" || key == "Spacebar"
}

// sliceByKeystrokes returns the shortest event prefix that contains target
// keydowns and leaves no key held down.
func sliceByKeystrokes(ordered []Event, target int) []Event {
	subset := make([]Event, 0, len(ordered))
	keydowns := 0
	active := make(map[string]int)
	for _, e := range ordered {
		subset = append(subset, e)
		switch e.Kind {
		case KeyDown:
			keydowns++
			active[e.Key]++
		case KeyUp:
			if active[e.Key] > 0 {
				active[e.Key]--
				if active[e.Key] == 0 {
					delete(active, e.Key)
				}
			}
		}
		if keydowns >= target && len(active) == 0 {
			break
		}
	}
	return subset
}

func basicStats(values []float64) (mean, std, min, max float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	min = values[0]
	max = values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = sum / float64(len(values))
	varSum := 0.0
	for _, v := range values {
		d := v - mean
		varSum += d * d
	}
	std = math.Sqrt(varSum / float64(len(values)))
	return mean, std, min, max
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// shannonEntropy computes base-2 entropy over the positive values, treating
// each magnitude as an unnormalized probability mass.
func shannonEntropy(values []float64) float64 {
	total := 0.0
	positive := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			positive = append(positive, v)
			total += v
		}
	}
	if len(positive) == 0 || total <= 0 {
		return 0
	}
	entropy := 0.0
	for _, v := range positive {
		p := v / total
		entropy -= p * math.Log2(p+1e-12)
	}
	return entropy
}

// thresholdFraction returns the fraction of values at or above the threshold.
func thresholdFraction(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v >= threshold {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

// sanitize clamps NaN and infinities to zero so every emitted value is finite.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
