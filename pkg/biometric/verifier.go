package biometric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"typeauthn/pkg/keystroke"
	"typeauthn/pkg/profile"
	"typeauthn/pkg/structlog"
)

// Decision labels for a verification attempt.
const (
	DecisionAccept   = "accept"
	DecisionReject   = "reject"
	DecisionNeedMore = "need_more"
)

// PartialScore is the ensemble score of one truncated-prefix vector.
type PartialScore struct {
	Keystrokes int     `json:"keystrokes"`
	Ensemble   float64 `json:"ensemble"`
	Accepted   bool    `json:"accepted"`
}

// VerificationResult is one authentication attempt's full outcome.
type VerificationResult struct {
	UserID   string `json:"user_id"`
	Accepted bool   `json:"accepted"`
	Decision string `json:"decision"`

	SVMScore    float64 `json:"svm_score"`
	ForestScore float64 `json:"forest_score"`
	SVMNorm     float64 `json:"svm_norm"`
	ForestNorm  float64 `json:"forest_norm"`
	Ensemble    float64 `json:"ensemble"`

	EnsembleThreshold float64 `json:"ensemble_threshold"`
	SVMThreshold      float64 `json:"svm_threshold"`
	ForestThreshold   float64 `json:"forest_threshold"`

	PartialScores   []PartialScore `json:"partial_scores,omitempty"`
	EarlyConfidence *PartialScore  `json:"early_confidence,omitempty"`

	VerifiedAt time.Time `json:"verified_at"`
}

// confidenceEntry is the audit record appended after every attempt.
type confidenceEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Decision    string    `json:"decision"`
	Accepted    bool      `json:"accepted"`
	Ensemble    float64   `json:"ensemble"`
	SVMScore    float64   `json:"svm_score"`
	ForestScore float64   `json:"forest_score"`
	Threshold   float64   `json:"threshold"`
	Early       bool      `json:"early_confidence"`
}

// Verify scores one typing sample against the user's trained ensemble and
// records the attempt in the confidence log. The liveness flag is checked
// before any artifact load; mechanically uniform timing fails fast with
// ErrLiveness and is logged like any rejected attempt.
func (e *Engine) Verify(ctx context.Context, userID string, events []keystroke.Event) (*VerificationResult, error) {
	return e.verify(ctx, userID, events, true)
}

// Peek scores a sample without recording it in the confidence log. Streaming
// callers use it for mid-stream checkpoints so a single session does not
// flood the audit trail.
func (e *Engine) Peek(ctx context.Context, userID string, events []keystroke.Event) (*VerificationResult, error) {
	return e.verify(ctx, userID, events, false)
}

func (e *Engine) verify(ctx context.Context, userID string, events []keystroke.Event, audit bool) (*VerificationResult, error) {
	vec, err := keystroke.Extract(events, keystroke.Options{})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if flag, ok := vec.Value("monotonic_flag"); ok && flag >= 1 {
		if audit {
			e.logAttempt(userID, confidenceEntry{
				Timestamp: time.Now().UTC(),
				Decision:  DecisionReject,
			})
		}
		e.cfg.Logger.SecurityEvent("liveness_reject", structlog.Fields{"user_id": userID})
		return nil, fmt.Errorf("%w: user %s", ErrLiveness, userID)
	}

	model, thresholds, err := e.loadModel(userID)
	if err != nil {
		return nil, err
	}
	if err := model.checkSchema(keystroke.SchemaVersion, vec.Names); err != nil {
		return nil, err
	}

	scores, err := model.score(vec.Raw)
	if err != nil {
		return nil, err
	}

	res := &VerificationResult{
		UserID:            userID,
		SVMScore:          scores.SVMRaw,
		ForestScore:       scores.ForestRaw,
		SVMNorm:           scores.SVMNorm,
		ForestNorm:        scores.ForestNorm,
		Ensemble:          scores.Ensemble,
		EnsembleThreshold: thresholds.Ensemble,
		SVMThreshold:      thresholds.SVM,
		ForestThreshold:   thresholds.Forest,
		VerifiedAt:        time.Now().UTC(),
	}

	for _, partial := range vec.Partials {
		ps, err := model.score(partial)
		if err != nil {
			continue
		}
		entry := PartialScore{
			Keystrokes: int(keystrokeCountOf(vec.Names, partial)),
			Ensemble:   ps.Ensemble,
			Accepted:   ps.Ensemble >= thresholds.Ensemble,
		}
		res.PartialScores = append(res.PartialScores, entry)
		if entry.Accepted && res.EarlyConfidence == nil {
			early := entry
			res.EarlyConfidence = &early
		}
	}

	res.Decision = resolveDecision(
		scores.SVMNorm >= thresholds.SVM,
		scores.ForestNorm >= thresholds.Forest,
		scores.Ensemble >= thresholds.Ensemble,
		res.EarlyConfidence != nil,
	)
	res.Accepted = res.Decision == DecisionAccept

	if audit {
		e.logAttempt(userID, confidenceEntry{
			Timestamp:   res.VerifiedAt,
			Decision:    res.Decision,
			Accepted:    res.Accepted,
			Ensemble:    res.Ensemble,
			SVMScore:    res.SVMScore,
			ForestScore: res.ForestScore,
			Threshold:   res.EnsembleThreshold,
			Early:       res.EarlyConfidence != nil,
		})
	}
	return res, nil
}

// resolveDecision runs the ensemble vote. Agreement decides outright; a
// split vote falls to the ensemble score, and an early-confidence partial
// upgrades what would otherwise stay need_more.
func resolveDecision(svmAccept, forestAccept, ensembleAccept, early bool) string {
	switch {
	case svmAccept && forestAccept:
		return DecisionAccept
	case !svmAccept && !forestAccept:
		return DecisionReject
	case ensembleAccept:
		return DecisionAccept
	case early:
		return DecisionAccept
	default:
		return DecisionNeedMore
	}
}

// loadModel restores the persisted bundle and threshold record. A user with
// no artifact gets ErrModelNotTrained.
func (e *Engine) loadModel(userID string) (*ensemble, *ThresholdRecord, error) {
	var artifact modelArtifact
	if err := e.repo.LoadArtifact(userID, artifactModel, &artifact); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: user %s", ErrModelNotTrained, userID)
		}
		return nil, nil, err
	}
	return newEnsemble(&artifact.Bundle), &artifact.Threshold, nil
}

// Trained reports whether the user has a deployable model.
func (e *Engine) Trained(userID string) bool {
	return e.repo.HasArtifact(userID, artifactModel)
}

func (e *Engine) logAttempt(userID string, entry confidenceEntry) {
	if err := e.repo.AppendConfidence(userID, entry); err != nil {
		e.cfg.Logger.Error("confidence log append failed", structlog.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func keystrokeCountOf(names []string, raw []float64) float64 {
	for i, name := range names {
		if name == "keystroke_count" {
			if i < len(raw) {
				return raw[i]
			}
			return 0
		}
	}
	return 0
}
