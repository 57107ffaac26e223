package profile

import (
	"encoding/json"
	"errors"
	"fmt"

	"typeauthn/pkg/cryptoatrest"
)

type confidenceFile struct {
	Entries []json.RawMessage `json:"entries"`
}

// AppendConfidence records one verification outcome in the user's confidence
// log. The entry is stored as opaque JSON; the caller owns its shape.
// Appends are read-modify-write and verifications run concurrently, so they
// serialize on the repository here.
func (r *Repository) AppendConfidence(userID string, entry any) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("profile: encode confidence entry: %w", err)
	}

	r.confMu.Lock()
	defer r.confMu.Unlock()

	var file confidenceFile
	if err := r.loadConfidenceFile(userID, &file); err != nil &&
		!errors.Is(err, cryptoatrest.ErrNotFound) {
		return err
	}
	file.Entries = append(file.Entries, raw)
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("profile: encode confidence log: %w", err)
	}
	return r.store.Write(historyPath(userID), data)
}

// LoadConfidence returns the user's confidence log, newest last. A user with
// no recorded verifications gets an empty slice.
func (r *Repository) LoadConfidence(userID string) ([]json.RawMessage, error) {
	var file confidenceFile
	if err := r.loadConfidenceFile(userID, &file); err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return file.Entries, nil
}

func (r *Repository) loadConfidenceFile(userID string, file *confidenceFile) error {
	data, err := r.store.Read(historyPath(userID))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, file); err != nil {
		return fmt.Errorf("profile: decode confidence log: %w", err)
	}
	return nil
}
