package profile

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"typeauthn/pkg/cryptoatrest"
)

// Metadata columns appended after the feature columns in every dataset.
var metaColumns = []string{"session_id", "timestamp", "checksum"}

// RowMeta is the bookkeeping attached to one stored sample.
type RowMeta struct {
	SessionID string
	Timestamp time.Time
	Checksum  string
}

// Dataset is one user's decoded feature matrix.
type Dataset struct {
	Names []string
	Rows  [][]float64
	Meta  []RowMeta
}

// Len returns the number of stored samples.
func (d *Dataset) Len() int { return len(d.Rows) }

// CheckSchema fails with ErrDatasetCorrupt when the stored feature columns
// differ from expected in names, order, or count.
func (d *Dataset) CheckSchema(expected []string) error {
	if len(d.Names) != len(expected) {
		return fmt.Errorf("%w: schema has %d columns, expected %d", ErrDatasetCorrupt, len(d.Names), len(expected))
	}
	for i, name := range expected {
		if d.Names[i] != name {
			return fmt.Errorf("%w: schema column %d is %q, expected %q", ErrDatasetCorrupt, i, d.Names[i], name)
		}
	}
	return nil
}

// Checksum fingerprints one feature row. The digest covers both names and
// values so a reordered or renamed column changes the sum.
func Checksum(names []string, values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%s:%.6f", names[i], v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// AppendSample adds one feature row to the user's dataset and returns the new
// sample count. A row whose checksum already exists is skipped without error,
// so replayed submissions cannot inflate the dataset. Zero-value meta fields
// are filled in: a fresh session id, the current time, the computed checksum.
func (r *Repository) AppendSample(userID string, names []string, values []float64, meta RowMeta) (int, error) {
	if len(names) != len(values) {
		return 0, fmt.Errorf("profile: %d names for %d values", len(names), len(values))
	}
	ds, err := r.LoadDataset(userID)
	if err != nil && !errors.Is(err, cryptoatrest.ErrNotFound) {
		return 0, err
	}
	if ds == nil {
		ds = &Dataset{Names: append([]string(nil), names...)}
	}
	if err := ds.CheckSchema(names); err != nil {
		return 0, err
	}

	if meta.Checksum == "" {
		meta.Checksum = Checksum(names, values)
	}
	for _, m := range ds.Meta {
		if m.Checksum == meta.Checksum {
			return len(ds.Rows), nil
		}
	}
	if meta.SessionID == "" {
		meta.SessionID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	ds.Rows = append(ds.Rows, append([]float64(nil), values...))
	ds.Meta = append(ds.Meta, meta)
	if err := r.saveDataset(userID, ds); err != nil {
		return 0, err
	}
	return len(ds.Rows), nil
}

// LoadDataset decodes the user's dataset. A user with no stored samples gets
// cryptoatrest.ErrNotFound; callers that treat that as empty check for it.
func (r *Repository) LoadDataset(userID string) (*Dataset, error) {
	data, err := r.store.Read(datasetPath(userID))
	if err != nil {
		return nil, err
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetCorrupt, err)
	}
	if len(records) == 0 || len(records[0]) <= len(metaColumns) {
		return nil, fmt.Errorf("%w: missing header", ErrDatasetCorrupt)
	}
	header := records[0]
	featureCount := len(header) - len(metaColumns)
	for i, name := range metaColumns {
		if header[featureCount+i] != name {
			return nil, fmt.Errorf("%w: metadata column %q missing", ErrDatasetCorrupt, name)
		}
	}

	ds := &Dataset{Names: append([]string(nil), header[:featureCount]...)}
	for line, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrDatasetCorrupt, line+1, len(rec))
		}
		row := make([]float64, featureCount)
		for i := range row {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %v", ErrDatasetCorrupt, line+1, header[i], err)
			}
			row[i] = v
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[featureCount+1])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d timestamp: %v", ErrDatasetCorrupt, line+1, err)
		}
		ds.Rows = append(ds.Rows, row)
		ds.Meta = append(ds.Meta, RowMeta{
			SessionID: rec[featureCount],
			Timestamp: ts,
			Checksum:  rec[featureCount+2],
		})
	}
	return ds, nil
}

// SampleCount returns the number of stored samples, zero when the user has
// no dataset yet.
func (r *Repository) SampleCount(userID string) (int, error) {
	ds, err := r.LoadDataset(userID)
	if err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return ds.Len(), nil
}

// VerifyIntegrity recomputes every row checksum and reports whether all
// match. A missing dataset is vacuously intact. Decode failures are reported
// as corruption, not as an error.
func (r *Repository) VerifyIntegrity(userID string) (bool, error) {
	ds, err := r.LoadDataset(userID)
	if err != nil {
		if errors.Is(err, cryptoatrest.ErrNotFound) {
			return true, nil
		}
		if errors.Is(err, ErrDatasetCorrupt) {
			return false, nil
		}
		return false, err
	}
	for i, row := range ds.Rows {
		if Checksum(ds.Names, row) != ds.Meta[i].Checksum {
			return false, nil
		}
	}
	return true, nil
}

func (r *Repository) saveDataset(userID string, ds *Dataset) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append(append([]string(nil), ds.Names...), metaColumns...)
	if err := w.Write(header); err != nil {
		return err
	}
	for i, row := range ds.Rows {
		rec := make([]string, 0, len(header))
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'f', 6, 64))
		}
		meta := ds.Meta[i]
		rec = append(rec, meta.SessionID, meta.Timestamp.Format(time.RFC3339Nano), meta.Checksum)
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return r.store.Write(datasetPath(userID), buf.Bytes())
}
