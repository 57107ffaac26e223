package biometric

import (
	"fmt"
	"time"

	"typeauthn/pkg/ml"
)

// Artifact name under the profile repository.
const artifactModel = "model"

// modelArtifact pairs the bundle with its calibration in one blob so a
// single atomic write replaces both. A reader never sees a new bundle with
// an old threshold record.
type modelArtifact struct {
	Bundle    ModelBundle     `json:"bundle"`
	Threshold ThresholdRecord `json:"threshold"`
}

// ModelBundle is the persisted training output: both fitted anomaly models,
// the feature scaler, the fit-time feature schema, and the per-model score
// statistics used to z-normalize at verification time. Training owns all
// writes; verification only reads.
type ModelBundle struct {
	SchemaVersion int      `json:"schema_version"`
	FeatureNames  []string `json:"feature_names"`
	TimingIndices []int    `json:"timing_indices"`

	Scaler ml.StandardScaler       `json:"scaler"`
	SVM    ml.OneClassSVMState     `json:"svm"`
	Forest ml.IsolationForestState `json:"forest"`

	SVMScoreMean    float64 `json:"svm_score_mean"`
	SVMScoreStd     float64 `json:"svm_score_std"`
	ForestScoreMean float64 `json:"forest_score_mean"`
	ForestScoreStd  float64 `json:"forest_score_std"`

	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at"`
}

// ThresholdRecord is the persisted calibration output. The ensemble
// threshold decides disagreements; the component thresholds decide each
// model's individual vote.
type ThresholdRecord struct {
	Ensemble float64 `json:"ensemble"`
	SVM      float64 `json:"svm"`
	Forest   float64 `json:"forest"`

	ValidationMean float64 `json:"validation_mean"`
	ValidationStd  float64 `json:"validation_std"`

	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc"`
	FAR      float64 `json:"far"`
	FRR      float64 `json:"frr"`

	Gamma float64 `json:"gamma"`
	Nu    float64 `json:"nu"`

	CalibratedAt time.Time `json:"calibrated_at"`
}

// ensemble holds the runtime form of a bundle: restored models ready to
// score raw feature vectors.
type ensemble struct {
	bundle *ModelBundle
	svm    *ml.OneClassSVM
	forest *ml.IsolationForest
}

func newEnsemble(bundle *ModelBundle) *ensemble {
	return &ensemble{
		bundle: bundle,
		svm:    ml.RestoreOneClassSVM(bundle.SVM),
		forest: ml.RestoreIsolationForest(bundle.Forest),
	}
}

// modelScores holds one vector's scores through the ensemble.
type modelScores struct {
	SVMRaw     float64 `json:"svm_raw"`
	ForestRaw  float64 `json:"forest_raw"`
	SVMNorm    float64 `json:"svm_norm"`
	ForestNorm float64 `json:"forest_norm"`
	Ensemble   float64 `json:"ensemble"`
}

// score scales a raw feature vector, runs both models, z-normalizes each
// score with the bundle's statistics, and averages. Higher means more
// genuine for both models.
func (e *ensemble) score(raw []float64) (modelScores, error) {
	var out modelScores
	scaled, err := e.bundle.Scaler.TransformOne(raw)
	if err != nil {
		return out, err
	}
	out.SVMRaw, err = e.svm.DecisionFunction(scaled)
	if err != nil {
		return out, err
	}
	out.ForestRaw, err = e.forest.DecisionFunction(scaled)
	if err != nil {
		return out, err
	}
	out.SVMNorm = zNorm(out.SVMRaw, e.bundle.SVMScoreMean, e.bundle.SVMScoreStd)
	out.ForestNorm = zNorm(out.ForestRaw, e.bundle.ForestScoreMean, e.bundle.ForestScoreStd)
	out.Ensemble = (out.SVMNorm + out.ForestNorm) / 2
	return out, nil
}

// checkSchema refuses vectors extracted under a different feature list than
// the bundle was fitted with.
func (e *ensemble) checkSchema(schemaVersion int, names []string) error {
	if schemaVersion != e.bundle.SchemaVersion {
		return fmt.Errorf("%w: vector schema v%d, bundle trained on v%d",
			ErrSchemaMismatch, schemaVersion, e.bundle.SchemaVersion)
	}
	if len(names) != len(e.bundle.FeatureNames) {
		return fmt.Errorf("%w: vector has %d features, bundle trained on %d",
			ErrSchemaMismatch, len(names), len(e.bundle.FeatureNames))
	}
	for i, name := range e.bundle.FeatureNames {
		if names[i] != name {
			return fmt.Errorf("%w: feature %d is %q, bundle expects %q",
				ErrSchemaMismatch, i, names[i], name)
		}
	}
	return nil
}

func zNorm(v, mean, std float64) float64 {
	if std == 0 {
		std = 1
	}
	return (v - mean) / std
}
