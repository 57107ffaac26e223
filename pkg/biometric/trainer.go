// Package biometric trains and evaluates per-user keystroke models. Each
// user gets a two-model anomaly ensemble (one-class SVM plus isolation
// forest) fitted on their own enrollment samples, with synthetic impostors
// standing in for unseen attackers during calibration.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"typeauthn/pkg/cryptoatrest"
	"typeauthn/pkg/keystroke"
	"typeauthn/pkg/ml"
	"typeauthn/pkg/profile"
	"typeauthn/pkg/structlog"
)

// Config tunes the engine. Zero values select defaults.
type Config struct {
	// MinSamples is the hard floor below which training fails (default 3).
	MinSamples int
	// EnrollTarget is the sample count at which enrollment triggers the
	// first training pass (default 5).
	EnrollTarget int
	// RetrainEvery retrains after this many additional samples past the
	// enroll target (default 5). Training never runs on every sample.
	RetrainEvery int
	// AugmentVariants is the number of jittered copies synthesized per
	// training row (default 4).
	AugmentVariants int
	// ImpostorMultiplier scales the synthetic impostor count relative to
	// the augmented training set (default 4, floor 4).
	ImpostorMultiplier int
	// Seed fixes the randomness for splits, augmentation, impostor
	// sampling, and the forest, per user (default 42).
	Seed int64

	Logger *structlog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinSamples < 3 {
		c.MinSamples = 3
	}
	if c.EnrollTarget <= 0 {
		c.EnrollTarget = 5
	}
	if c.EnrollTarget < c.MinSamples {
		c.EnrollTarget = c.MinSamples
	}
	if c.RetrainEvery <= 0 {
		c.RetrainEvery = 5
	}
	if c.AugmentVariants <= 0 {
		c.AugmentVariants = 4
	}
	if c.ImpostorMultiplier < 4 {
		c.ImpostorMultiplier = 4
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Logger == nil {
		c.Logger = structlog.NewLogger("biometric", structlog.LevelInfo, nil)
	}
	return c
}

// Engine evaluates and trains keystroke models over a profile repository.
// Operations on different users run fully in parallel; within one user,
// enrollment appends and training are serialized so at most one training
// pass is ever in flight.
type Engine struct {
	repo *profile.Repository
	cfg  Config

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewEngine creates an engine over the repository.
func NewEngine(repo *profile.Repository, cfg Config) *Engine {
	return &Engine{
		repo:  repo,
		cfg:   cfg.withDefaults(),
		users: make(map[string]*sync.Mutex),
	}
}

// Repository exposes the underlying profile store for administrative
// operations (listing, deletion, integrity checks).
func (e *Engine) Repository() *profile.Repository { return e.repo }

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.users[userID] = lock
	}
	return lock
}

// userSeed derives a per-user deterministic seed so two users with identical
// data still get independent randomness.
func (e *Engine) userSeed(userID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	return e.cfg.Seed ^ int64(h.Sum64())
}

// EnrollResult reports one enrollment submission.
type EnrollResult struct {
	UserID    string          `json:"user_id"`
	Samples   int             `json:"samples"`
	Remaining int             `json:"remaining"`
	Trained   bool            `json:"trained"`
	Training  *TrainingReport `json:"training,omitempty"`
}

// TrainingReport summarizes one training pass.
type TrainingReport struct {
	UserID    string    `json:"user_id"`
	Samples   int       `json:"samples"`
	Threshold float64   `json:"threshold"`
	MeanScore float64   `json:"mean_score"`
	StdScore  float64   `json:"std_score"`
	Accuracy  float64   `json:"accuracy"`
	AUC       float64   `json:"auc"`
	FAR       float64   `json:"far"`
	FRR       float64   `json:"frr"`
	Gamma     float64   `json:"gamma"`
	Nu        float64   `json:"nu"`
	TrainedAt time.Time `json:"trained_at"`
}

// Enroll extracts features from one typing sample, appends them to the
// user's dataset, and trains when the retrain policy says so: first at
// EnrollTarget samples, then after every RetrainEvery additional samples.
// Replayed submissions dedup to a no-op append.
func (e *Engine) Enroll(ctx context.Context, userID string, events []keystroke.Event) (*EnrollResult, error) {
	vec, err := keystroke.Extract(events, keystroke.Options{})
	if err != nil {
		return nil, err
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	count, err := e.repo.AppendSample(userID, vec.Names, vec.Raw, profile.RowMeta{})
	if err != nil {
		return nil, err
	}

	res := &EnrollResult{UserID: userID, Samples: count}
	if count < e.cfg.EnrollTarget {
		res.Remaining = e.cfg.EnrollTarget - count
		return res, nil
	}
	if count != e.cfg.EnrollTarget && (count-e.cfg.EnrollTarget)%e.cfg.RetrainEvery != 0 {
		return res, nil
	}

	report, err := e.trainLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	res.Trained = true
	res.Training = report
	return res, nil
}

// Train runs a full training pass for the user. Concurrent calls for the
// same user serialize; dataset appends wait for a pass in flight.
func (e *Engine) Train(ctx context.Context, userID string) (*TrainingReport, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return e.trainLocked(ctx, userID)
}

func (e *Engine) trainLocked(ctx context.Context, userID string) (*TrainingReport, error) {
	started := time.Now()
	ds, err := e.repo.LoadDataset(userID)
	if err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s has no enrollment samples", ErrInsufficientData, userID)
		}
		return nil, err
	}
	if err := ds.CheckSchema(keystroke.FeatureNames()); err != nil {
		return nil, err
	}
	if ds.Len() < e.cfg.MinSamples {
		return nil, fmt.Errorf("%w: user %s has %d samples, need %d",
			ErrInsufficientData, userID, ds.Len(), e.cfg.MinSamples)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(e.userSeed(userID)))
	timing := timingMask(len(ds.Names))

	trainRows, valRows := splitRows(ds.Rows, rng)
	augTrain := augmentRows(trainRows, timing, e.cfg.AugmentVariants, rng)

	var scaler ml.StandardScaler
	if err := scaler.Fit(augTrain); err != nil {
		return nil, err
	}
	augTrainScaled, err := scaler.Transform(augTrain)
	if err != nil {
		return nil, err
	}
	valScaled, err := scaler.Transform(valRows)
	if err != nil {
		return nil, err
	}

	gaussian, err := ml.FitGaussian(augTrainScaled)
	if err != nil {
		return nil, err
	}
	impostors := gaussian.Sample(e.cfg.ImpostorMultiplier*len(augTrainScaled), rng)

	bestGamma, bestNu, bestAUC := e.searchHyperparams(ctx, augTrainScaled, valScaled, impostors)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The deployed models see every enrollment sample: re-augment the full
	// matrix and refit with the chosen hyperparameters. The scaler stays
	// fitted on the training split so validation scores remain honest.
	augFull := augmentRows(ds.Rows, timing, e.cfg.AugmentVariants, rng)
	augFullScaled, err := scaler.Transform(augFull)
	if err != nil {
		return nil, err
	}
	svm := ml.NewOneClassSVM(ml.OneClassSVMConfig{Nu: bestNu, Gamma: bestGamma})
	if err := svm.Fit(augFullScaled); err != nil {
		return nil, err
	}
	forest := ml.NewIsolationForest(ml.IsolationForestConfig{Seed: e.userSeed(userID)})
	if err := forest.Fit(augFullScaled); err != nil {
		return nil, err
	}

	// The refit models memorize the enrollment rows, so scoring those rows
	// back says nothing about an unseen genuine attempt: the scores cluster
	// with near-zero spread and any fresh sample z-scores to an extreme
	// value. Leave-one-out scores are the honest genuine distribution, and
	// normalization plus calibration both build on them.
	svmLOO, forestLOO, err := e.looScores(userID, ds.Rows, timing, &scaler, bestGamma, bestNu, rng)
	if err != nil {
		return nil, err
	}
	svmMean, svmStd := ml.MeanStd(svmLOO)
	forestMean, forestStd := ml.MeanStd(forestLOO)
	svmStd = floorStd(svmStd, svmMean)
	forestStd = floorStd(forestStd, forestMean)

	bundle := &ModelBundle{
		SchemaVersion:   keystroke.SchemaVersion,
		FeatureNames:    append([]string(nil), ds.Names...),
		TimingIndices:   keystroke.TimingFeatureIndices(),
		Scaler:          scaler,
		SVM:             svm.State(),
		Forest:          forest.State(),
		SVMScoreMean:    svmMean,
		SVMScoreStd:     svmStd,
		ForestScoreMean: forestMean,
		ForestScoreStd:  forestStd,
		Samples:         ds.Len(),
		TrainedAt:       time.Now().UTC(),
	}
	deployed := newEnsemble(bundle)

	genuine := make([]modelScores, len(svmLOO))
	for i := range genuine {
		s := &genuine[i]
		s.SVMRaw, s.ForestRaw = svmLOO[i], forestLOO[i]
		s.SVMNorm = zNorm(s.SVMRaw, svmMean, svmStd)
		s.ForestNorm = zNorm(s.ForestRaw, forestMean, forestStd)
		s.Ensemble = (s.SVMNorm + s.ForestNorm) / 2
	}
	impostor, err := scoreMatrixScaled(deployed, impostors)
	if err != nil {
		return nil, err
	}

	ensThreshold, far, frr := ml.CalibrateThreshold(ensembleOf(genuine), ensembleOf(impostor))
	svmThreshold, _, _ := ml.CalibrateThreshold(svmNormOf(genuine), svmNormOf(impostor))
	forestThreshold, _, _ := ml.CalibrateThreshold(forestNormOf(genuine), forestNormOf(impostor))

	valMean, valStd := ml.MeanStd(ensembleOf(genuine))
	auc := ml.ROCAUC(ensembleOf(genuine), ensembleOf(impostor))
	nGen, nImp := float64(len(genuine)), float64(len(impostor))
	accuracy := ((1-frr)*nGen + (1-far)*nImp) / (nGen + nImp)

	record := &ThresholdRecord{
		Ensemble:       ensThreshold,
		SVM:            svmThreshold,
		Forest:         forestThreshold,
		ValidationMean: valMean,
		ValidationStd:  valStd,
		Accuracy:       accuracy,
		AUC:            auc,
		FAR:            far,
		FRR:            frr,
		Gamma:          bestGamma,
		Nu:             bestNu,
		CalibratedAt:   time.Now().UTC(),
	}

	if err := e.repo.SaveArtifact(userID, artifactModel, &modelArtifact{Bundle: *bundle, Threshold: *record}); err != nil {
		return nil, err
	}

	e.cfg.Logger.Info("model trained", structlog.Fields{
		"user_id":     userID,
		"samples":     ds.Len(),
		"threshold":   ensThreshold,
		"auc":         auc,
		"far":         far,
		"frr":         frr,
		"gamma":       bestGamma,
		"nu":          bestNu,
		"search_auc":  bestAUC,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	return &TrainingReport{
		UserID:    userID,
		Samples:   ds.Len(),
		Threshold: ensThreshold,
		MeanScore: valMean,
		StdScore:  valStd,
		Accuracy:  accuracy,
		AUC:       auc,
		FAR:       far,
		FRR:       frr,
		Gamma:     bestGamma,
		Nu:        bestNu,
		TrainedAt: bundle.TrainedAt,
	}, nil
}

var (
	gammaGrid = []float64{0.01, 0.05, 0.1, 0.5, 1.0}
	nuGrid    = []float64{0.01, 0.05, 0.1, 0.2}
)

// searchHyperparams grid-searches the boundary model, keeping the pair that
// best separates held-out genuine rows from synthetic impostors.
func (e *Engine) searchHyperparams(ctx context.Context, train, genuine, impostor [][]float64) (gamma, nu, auc float64) {
	gamma, nu = gammaGrid[0], nuGrid[0]
	auc = -1
	for _, g := range gammaGrid {
		for _, n := range nuGrid {
			if ctx.Err() != nil {
				return gamma, nu, auc
			}
			svm := ml.NewOneClassSVM(ml.OneClassSVMConfig{Nu: n, Gamma: g})
			if err := svm.Fit(train); err != nil {
				continue
			}
			score := ml.ROCAUC(scoreAll(svm.DecisionFunction, genuine), scoreAll(svm.DecisionFunction, impostor))
			if score > auc {
				gamma, nu, auc = g, n, score
			}
		}
	}
	return gamma, nu, auc
}

// splitRows shuffles and splits at least 80/20, always keeping one
// validation row.
func splitRows(rows [][]float64, rng *rand.Rand) (train, val [][]float64) {
	idx := rng.Perm(len(rows))
	nVal := len(rows) / 5
	if nVal < 1 {
		nVal = 1
	}
	for i, j := range idx {
		if i < nVal {
			val = append(val, rows[j])
		} else {
			train = append(train, rows[j])
		}
	}
	return train, val
}

// looScores scores every enrollment row with models fitted on all the other
// rows, using the chosen hyperparameters. At small enrollment counts these
// held-out scores are the only sample of how a genuine attempt the models
// never saw will score.
func (e *Engine) looScores(userID string, rows [][]float64, timing []bool, scaler *ml.StandardScaler, gamma, nu float64, rng *rand.Rand) (svmScores, forestScores []float64, err error) {
	for i := range rows {
		fold := make([][]float64, 0, len(rows)-1)
		fold = append(fold, rows[:i]...)
		fold = append(fold, rows[i+1:]...)
		aug := augmentRows(fold, timing, e.cfg.AugmentVariants, rng)
		augScaled, err := scaler.Transform(aug)
		if err != nil {
			return nil, nil, err
		}

		svm := ml.NewOneClassSVM(ml.OneClassSVMConfig{Nu: nu, Gamma: gamma})
		if err := svm.Fit(augScaled); err != nil {
			return nil, nil, err
		}
		forest := ml.NewIsolationForest(ml.IsolationForestConfig{Seed: e.userSeed(userID) + int64(i)})
		if err := forest.Fit(augScaled); err != nil {
			return nil, nil, err
		}

		held, err := scaler.TransformOne(rows[i])
		if err != nil {
			return nil, nil, err
		}
		s, err := svm.DecisionFunction(held)
		if err != nil {
			return nil, nil, err
		}
		f, err := forest.DecisionFunction(held)
		if err != nil {
			return nil, nil, err
		}
		svmScores = append(svmScores, s)
		forestScores = append(forestScores, f)
	}
	return svmScores, forestScores, nil
}

// floorStd keeps a normalization std away from near-zero. Dividing by a
// collapsed std turns any unseen sample into an extreme z-score.
func floorStd(std, mean float64) float64 {
	floor := 0.01 * math.Abs(mean)
	if floor < 1e-6 {
		floor = 1e-6
	}
	if std < floor {
		return floor
	}
	return std
}

// augmentRows returns the rows plus jittered variants. Timing features get
// multiplicative noise at 8% of their own magnitude; the rest get small
// additive noise.
func augmentRows(rows [][]float64, timing []bool, variants int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, 0, len(rows)*(variants+1))
	for _, row := range rows {
		out = append(out, append([]float64(nil), row...))
	}
	for _, row := range rows {
		for v := 0; v < variants; v++ {
			jittered := make([]float64, len(row))
			for j, x := range row {
				if timing[j] {
					jittered[j] = x * (1 + rng.NormFloat64()*0.08)
				} else {
					jittered[j] = x + rng.NormFloat64()*0.01
				}
			}
			out = append(out, jittered)
		}
	}
	return out
}

func timingMask(n int) []bool {
	mask := make([]bool, n)
	for _, i := range keystroke.TimingFeatureIndices() {
		if i < n {
			mask[i] = true
		}
	}
	return mask
}

func scoreAll(fn func([]float64) (float64, error), rows [][]float64) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		s, err := fn(row)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// scoreMatrixScaled scores already-scaled rows through the ensemble,
// bypassing the bundle scaler.
func scoreMatrixScaled(e *ensemble, rows [][]float64) ([]modelScores, error) {
	out := make([]modelScores, 0, len(rows))
	for _, row := range rows {
		var s modelScores
		var err error
		s.SVMRaw, err = e.svm.DecisionFunction(row)
		if err != nil {
			return nil, err
		}
		s.ForestRaw, err = e.forest.DecisionFunction(row)
		if err != nil {
			return nil, err
		}
		s.SVMNorm = zNorm(s.SVMRaw, e.bundle.SVMScoreMean, e.bundle.SVMScoreStd)
		s.ForestNorm = zNorm(s.ForestRaw, e.bundle.ForestScoreMean, e.bundle.ForestScoreStd)
		s.Ensemble = (s.SVMNorm + s.ForestNorm) / 2
		out = append(out, s)
	}
	return out, nil
}

func ensembleOf(scores []modelScores) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.Ensemble
	}
	return out
}

func svmNormOf(scores []modelScores) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.SVMNorm
	}
	return out
}

func forestNormOf(scores []modelScores) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.ForestNorm
	}
	return out
}
