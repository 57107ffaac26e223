package profile

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeauthn/pkg/cryptoatrest"
)

func newTestRepo(t *testing.T) (*Repository, *cryptoatrest.Vault) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	enc, err := cryptoatrest.New(key)
	require.NoError(t, err)
	vault, err := cryptoatrest.NewVault(t.TempDir(), enc)
	require.NoError(t, err)
	return NewRepository(vault), vault
}

var testNames = []string{"mean_dwell", "mean_flight", "typing_speed"}

func TestAppendAndLoad(t *testing.T) {
	repo, _ := newTestRepo(t)

	count, err := repo.AppendSample("alice", testNames, []float64{82.5, 120.25, 5.1}, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.AppendSample("alice", testNames, []float64{85.0, 118.5, 5.3}, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ds, err := repo.LoadDataset("alice")
	require.NoError(t, err)
	assert.Equal(t, testNames, ds.Names)
	require.Equal(t, 2, ds.Len())
	assert.InDelta(t, 82.5, ds.Rows[0][0], 1e-6)
	assert.InDelta(t, 118.5, ds.Rows[1][1], 1e-6)

	for _, m := range ds.Meta {
		assert.NotEmpty(t, m.SessionID)
		assert.NotEmpty(t, m.Checksum)
		assert.False(t, m.Timestamp.IsZero())
	}
}

func TestAppendDedupIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t)
	row := []float64{82.5, 120.25, 5.1}

	count, err := repo.AppendSample("alice", testNames, row, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same values replayed: no-op, count unchanged.
	count, err = repo.AppendSample("alice", testNames, row, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A row differing beyond 6-decimal precision still dedups.
	count, err = repo.AppendSample("alice", testNames, []float64{82.5000000001, 120.25, 5.1}, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.AppendSample("alice", testNames, []float64{90, 130, 4.8}, RowMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAppendSchemaMismatch(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.AppendSample("alice", testNames, []float64{1, 2, 3}, RowMeta{})
	require.NoError(t, err)

	_, err = repo.AppendSample("alice", []string{"mean_dwell", "mean_flight", "burstiness"}, []float64{1, 2, 3}, RowMeta{})
	assert.ErrorIs(t, err, ErrDatasetCorrupt)

	_, err = repo.AppendSample("alice", testNames[:2], []float64{1, 2}, RowMeta{})
	assert.ErrorIs(t, err, ErrDatasetCorrupt)
}

func TestCheckSchema(t *testing.T) {
	ds := &Dataset{Names: testNames}
	assert.NoError(t, ds.CheckSchema(testNames))
	assert.ErrorIs(t, ds.CheckSchema([]string{"a", "b", "c"}), ErrDatasetCorrupt)
	assert.ErrorIs(t, ds.CheckSchema(testNames[:2]), ErrDatasetCorrupt)
}

func TestVerifyIntegrity(t *testing.T) {
	repo, vault := newTestRepo(t)

	// No dataset: vacuously intact.
	intact, err := repo.VerifyIntegrity("ghost")
	require.NoError(t, err)
	assert.True(t, intact)

	_, err = repo.AppendSample("alice", testNames, []float64{82.5, 120.25, 5.1}, RowMeta{})
	require.NoError(t, err)
	intact, err = repo.VerifyIntegrity("alice")
	require.NoError(t, err)
	assert.True(t, intact)

	// Forge the stored CSV with a modified value but the old checksum.
	ds, err := repo.LoadDataset("alice")
	require.NoError(t, err)
	ds.Rows[0][0] = 999
	require.NoError(t, repo.saveDataset("alice", ds))

	intact, err = repo.VerifyIntegrity("alice")
	require.NoError(t, err)
	assert.False(t, intact)

	// Outright garbage in place of the CSV reads as corruption, not error.
	require.NoError(t, vault.Write("data/alice/features.csv", []byte("not,a\nvalid,csv,matrix")))
	intact, err = repo.VerifyIntegrity("alice")
	require.NoError(t, err)
	assert.False(t, intact)
}

func TestChecksumCoversNamesAndValues(t *testing.T) {
	values := []float64{1.5, 2.5}
	a := Checksum([]string{"x", "y"}, values)
	b := Checksum([]string{"y", "x"}, values)
	assert.NotEqual(t, a, b)
	c := Checksum([]string{"x", "y"}, []float64{1.5, 2.500001})
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Checksum([]string{"x", "y"}, []float64{1.5, 2.5}))
}

func TestArtifacts(t *testing.T) {
	repo, _ := newTestRepo(t)

	type payload struct {
		Threshold float64 `json:"threshold"`
		Samples   int     `json:"samples"`
	}
	var out payload
	err := repo.LoadArtifact("alice", "threshold", &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, repo.HasArtifact("alice", "threshold"))

	require.NoError(t, repo.SaveArtifact("alice", "threshold", payload{Threshold: -0.25, Samples: 7}))
	assert.True(t, repo.HasArtifact("alice", "threshold"))
	require.NoError(t, repo.LoadArtifact("alice", "threshold", &out))
	assert.Equal(t, payload{Threshold: -0.25, Samples: 7}, out)
}

func TestSecrets(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.LoadSecret("alice", "totp")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.StoreSecret("alice", "totp", "JBSWY3DP"))
	v, err := repo.LoadSecret("alice", "totp")
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DP", v)
}

func TestConfidenceLog(t *testing.T) {
	repo, _ := newTestRepo(t)

	entries, err := repo.LoadConfidence("alice")
	require.NoError(t, err)
	assert.Empty(t, entries)

	type entry struct {
		Decision string    `json:"decision"`
		At       time.Time `json:"at"`
	}
	require.NoError(t, repo.AppendConfidence("alice", entry{Decision: "accept", At: time.Now().UTC()}))
	require.NoError(t, repo.AppendConfidence("alice", entry{Decision: "reject", At: time.Now().UTC()}))

	entries, err = repo.LoadConfidence("alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, string(entries[0]), "accept")
	assert.Contains(t, string(entries[1]), "reject")
}

func TestConfidenceLogConcurrentAppends(t *testing.T) {
	repo, _ := newTestRepo(t)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AppendConfidence("alice", map[string]int{"attempt": i})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := repo.LoadConfidence("alice")
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestConfidenceOnlyUserNotListed(t *testing.T) {
	repo, _ := newTestRepo(t)

	// A rejected attempt is logged before any model exists; that alone must
	// not surface the user as enrolled.
	require.NoError(t, repo.AppendConfidence("ghost", map[string]string{"decision": "reject"}))

	users, err := repo.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, users)

	entries, err := repo.LoadConfidence("ghost")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	existed, err := repo.DeleteUser("ghost")
	require.NoError(t, err)
	assert.True(t, existed)

	entries, err = repo.LoadConfidence("ghost")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteUserAndList(t *testing.T) {
	repo, _ := newTestRepo(t)

	existed, err := repo.DeleteUser("ghost")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = repo.AppendSample("alice", testNames, []float64{1, 2, 3}, RowMeta{})
	require.NoError(t, err)
	require.NoError(t, repo.SaveArtifact("alice", "bundle", map[string]int{"v": 1}))
	require.NoError(t, repo.SaveArtifact("bob", "bundle", map[string]int{"v": 1}))

	users, err := repo.ListUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	existed, err = repo.DeleteUser("alice")
	require.NoError(t, err)
	assert.True(t, existed)

	users, err = repo.ListUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	n, err := repo.SampleCount("alice")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, repo.HasArtifact("alice", "bundle"))
}

func TestLoadMissingDataset(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.LoadDataset("ghost")
	assert.True(t, errors.Is(err, cryptoatrest.ErrNotFound))
}
