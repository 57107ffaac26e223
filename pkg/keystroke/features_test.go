package keystroke

import (
	"errors"
	"math"
	"testing"
)

// typeSequence builds keydown/keyup pairs for the given keys. Per-key dwell
// and gap offsets give the stream human-like variance.
func typeSequence(keys []string, base float64, dwells, gaps []float64) []Event {
	events := make([]Event, 0, len(keys)*2)
	t := base
	for i, k := range keys {
		dwell := dwells[i%len(dwells)]
		events = append(events, Event{Key: k, Kind: KeyDown, TimestampMS: t})
		events = append(events, Event{Key: k, Kind: KeyUp, TimestampMS: t + dwell})
		t += dwell + gaps[i%len(gaps)]
	}
	return events
}

func sampleEvents() []Event {
	keys := []string{"h", "e", "l", "l", "o", " ", "w", "o", "r", "l", "d"}
	return typeSequence(keys, 1000,
		[]float64{82, 95, 74, 88, 101, 79, 93},
		[]float64{120, 145, 98, 133, 110, 152})
}

func TestExtractEmpty(t *testing.T) {
	_, err := Extract(nil, Options{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestExtractShape(t *testing.T) {
	vec, err := Extract(sampleEvents(), Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(vec.Raw) != len(vec.Names) {
		t.Fatalf("raw len %d != names len %d", len(vec.Raw), len(vec.Names))
	}
	if len(vec.Names) != len(FeatureNames()) {
		t.Fatalf("names len %d, want %d", len(vec.Names), len(FeatureNames()))
	}
	for i, v := range vec.Raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("feature %s is not finite: %v", vec.Names[i], v)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	a, err := Extract(sampleEvents(), Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	b, err := Extract(sampleEvents(), Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for i := range a.Raw {
		if a.Raw[i] != b.Raw[i] {
			t.Fatalf("feature %s differs across runs: %v vs %v", a.Names[i], a.Raw[i], b.Raw[i])
		}
	}
}

func TestExtractUnsortedInput(t *testing.T) {
	events := sampleEvents()
	reversed := make([]Event, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}
	a, _ := Extract(events, Options{})
	b, _ := Extract(reversed, Options{})
	for i := range a.Raw {
		if a.Raw[i] != b.Raw[i] {
			t.Fatalf("feature %s sensitive to input order", a.Names[i])
		}
	}
}

func TestDwellAndFlightValues(t *testing.T) {
	// a: down 0, up 80; b: down 200, up 290; c: down 400, up 480
	events := []Event{
		{Key: "a", Kind: KeyDown, TimestampMS: 0},
		{Key: "a", Kind: KeyUp, TimestampMS: 80},
		{Key: "b", Kind: KeyDown, TimestampMS: 200},
		{Key: "b", Kind: KeyUp, TimestampMS: 290},
		{Key: "c", Kind: KeyDown, TimestampMS: 400},
		{Key: "c", Kind: KeyUp, TimestampMS: 480},
	}
	vec, err := Extract(events, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// dwells: 80, 90, 80
	if got, _ := vec.Value("mean_dwell"); math.Abs(got-250.0/3) > 1e-9 {
		t.Errorf("mean_dwell = %v, want %v", got, 250.0/3)
	}
	if got, _ := vec.Value("min_dwell"); got != 80 {
		t.Errorf("min_dwell = %v, want 80", got)
	}
	if got, _ := vec.Value("max_dwell"); got != 90 {
		t.Errorf("max_dwell = %v, want 90", got)
	}
	// flights: a-up 80 -> b-down 200 = 120; b-up 290 -> c-down 400 = 110
	if got, _ := vec.Value("mean_flight"); math.Abs(got-115) > 1e-9 {
		t.Errorf("mean_flight = %v, want 115", got)
	}
	if got, _ := vec.Value("keystroke_count"); got != 3 {
		t.Errorf("keystroke_count = %v, want 3", got)
	}
	if got, _ := vec.Value("total_duration_ms"); got != 480 {
		t.Errorf("total_duration_ms = %v, want 480", got)
	}
}

func TestKeyRepeatDwellPairing(t *testing.T) {
	// Two overlapping presses of the same key pair FIFO: first down pairs
	// with first up.
	events := []Event{
		{Key: "a", Kind: KeyDown, TimestampMS: 0},
		{Key: "a", Kind: KeyDown, TimestampMS: 30},
		{Key: "a", Kind: KeyUp, TimestampMS: 100},
		{Key: "a", Kind: KeyUp, TimestampMS: 150},
	}
	vec, err := Extract(events, Options{PartialCheckpoints: []int{}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// dwells: 100-0=100, 150-30=120
	if got, _ := vec.Value("mean_dwell"); got != 110 {
		t.Errorf("mean_dwell = %v, want 110", got)
	}
}

func TestBackspaceFeatures(t *testing.T) {
	events := []Event{
		{Key: "a", Kind: KeyDown, TimestampMS: 0},
		{Key: "a", Kind: KeyUp, TimestampMS: 70},
		{Key: "Backspace", Kind: KeyDown, TimestampMS: 200},
		{Key: "Backspace", Kind: KeyUp, TimestampMS: 260},
		{Key: "b", Kind: KeyDown, TimestampMS: 450},
		{Key: "b", Kind: KeyUp, TimestampMS: 520},
	}
	vec, err := Extract(events, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got, _ := vec.Value("backspace_count"); got != 1 {
		t.Errorf("backspace_count = %v, want 1", got)
	}
	if got, _ := vec.Value("backspace_ratio"); math.Abs(got-1.0/3) > 1e-9 {
		t.Errorf("backspace_ratio = %v, want 1/3", got)
	}
	if got, _ := vec.Value("correction_latency"); got != 250 {
		t.Errorf("correction_latency = %v, want 250", got)
	}
}

func TestMonotonicFlag(t *testing.T) {
	uniform := typeSequence([]string{"a", "b", "c", "d", "e"}, 0,
		[]float64{80}, []float64{120})
	vec, err := Extract(uniform, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got, _ := vec.Value("monotonic_flag"); got != 1 {
		t.Errorf("uniform timing: monotonic_flag = %v, want 1", got)
	}

	human, err := Extract(sampleEvents(), Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got, _ := human.Value("monotonic_flag"); got != 0 {
		t.Errorf("varied timing: monotonic_flag = %v, want 0", got)
	}
}

func TestPartialCheckpoints(t *testing.T) {
	vec, err := Extract(sampleEvents(), Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// 11 keystrokes total: checkpoints 4, 6, 8 all apply.
	if len(vec.Partials) != 3 {
		t.Fatalf("partials = %d, want 3", len(vec.Partials))
	}
	for i, p := range vec.Partials {
		if len(p) != len(vec.Names) {
			t.Fatalf("partial %d has %d features, want %d", i, len(p), len(vec.Names))
		}
	}

	short := typeSequence([]string{"a", "b", "c", "d", "e"}, 0,
		[]float64{70, 90, 85}, []float64{110, 140})
	vs, err := Extract(short, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// 5 keystrokes: only the 4-keystroke checkpoint fits.
	if len(vs.Partials) != 1 {
		t.Fatalf("partials = %d, want 1", len(vs.Partials))
	}

	disabled, err := Extract(sampleEvents(), Options{PartialCheckpoints: []int{}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(disabled.Partials) != 0 {
		t.Fatalf("partials disabled but got %d", len(disabled.Partials))
	}
}

func TestTimingFeatureIndices(t *testing.T) {
	names := FeatureNames()
	for _, i := range TimingFeatureIndices() {
		if i < 0 || i >= len(names) {
			t.Fatalf("timing index %d out of range", i)
		}
	}
	seen := map[int]bool{}
	for _, i := range TimingFeatureIndices() {
		if seen[i] {
			t.Fatalf("duplicate timing index %d", i)
		}
		seen[i] = true
	}
}
