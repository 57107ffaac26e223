// Package profile manages per-user enrollment artifacts: the append-only
// feature dataset, trained model artifacts, the confidence audit log, and
// named secrets. Everything persists through an injected encrypted blob
// store; the package never touches the filesystem directly and holds no
// process-wide state.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"typeauthn/pkg/cryptoatrest"
)

// ErrDatasetCorrupt reports data-at-rest tampering, a partial write, or a
// stored schema that no longer matches the expected feature columns. It is
// fatal for that user's dataset and is never silently repaired.
var ErrDatasetCorrupt = errors.New("profile: dataset corrupt")

// ErrNotFound reports a missing artifact or secret.
var ErrNotFound = errors.New("profile: not found")

// BlobStore is the persistence primitive the repository writes through.
// Implementations must make writes durable before returning and replace
// blobs atomically. cryptoatrest.Vault satisfies it.
type BlobStore interface {
	Write(name string, data []byte) error
	Read(name string) ([]byte, error)
	Exists(name string) bool
	RemoveAll(name string) error
	ListDirs(name string) ([]string, error)
}

// Repository scopes blob-store access by user id.
type Repository struct {
	store  BlobStore
	confMu sync.Mutex
}

// NewRepository creates a repository over the given blob store.
func NewRepository(store BlobStore) *Repository {
	return &Repository{store: store}
}

func datasetPath(userID string) string  { return "data/" + userID + "/features.csv" }
func artifactPath(userID, name string) string {
	return "models/" + userID + "/" + name + ".json"
}
func secretPath(userID, name string) string {
	return "secrets/" + userID + "/" + name + ".json"
}

// The confidence log lives outside models/ so that a user whose only
// activity is a logged rejected attempt does not show up in ListUsers.
func historyPath(userID string) string { return "history/" + userID + "/confidence.json" }

// SaveArtifact JSON-encodes v and atomically replaces the named artifact for
// the user. Training owns all artifact writes; verification only reads.
func (r *Repository) SaveArtifact(userID, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("profile: encode artifact %s: %w", name, err)
	}
	return r.store.Write(artifactPath(userID, name), data)
}

// LoadArtifact decodes the named artifact into out. Returns ErrNotFound when
// the user has no such artifact.
func (r *Repository) LoadArtifact(userID, name string, out any) error {
	data, err := r.store.Read(artifactPath(userID, name))
	if err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return fmt.Errorf("%w: artifact %s for user %s", ErrNotFound, name, userID)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("profile: decode artifact %s: %w", name, err)
	}
	return nil
}

// HasArtifact reports whether the named artifact exists for the user.
func (r *Repository) HasArtifact(userID, name string) bool {
	return r.store.Exists(artifactPath(userID, name))
}

// StoreSecret saves a named secret value for the user.
func (r *Repository) StoreSecret(userID, name, value string) error {
	data, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return err
	}
	return r.store.Write(secretPath(userID, name), data)
}

// LoadSecret fetches a named secret. Returns ErrNotFound when unset.
func (r *Repository) LoadSecret(userID, name string) (string, error) {
	data, err := r.store.Read(secretPath(userID, name))
	if err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return "", fmt.Errorf("%w: secret %s for user %s", ErrNotFound, name, userID)
		}
		return "", err
	}
	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	return payload["value"], nil
}

// ListUsers returns the ids that currently have trained model artifacts.
func (r *Repository) ListUsers() ([]string, error) {
	return r.store.ListDirs("models")
}

// DeleteUser removes the user's dataset, model artifacts, confidence log,
// and secrets. Reports whether anything existed.
func (r *Repository) DeleteUser(userID string) (bool, error) {
	existed := r.store.Exists(datasetPath(userID)) ||
		r.store.Exists("models/"+userID) ||
		r.store.Exists("history/"+userID) ||
		r.store.Exists("secrets/"+userID)
	for _, path := range []string{"data/" + userID, "models/" + userID, "history/" + userID, "secrets/" + userID} {
		if err := r.store.RemoveAll(path); err != nil {
			return existed, err
		}
	}
	return existed, nil
}
