package store

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mbfit/internal/ir"
)

func registerOne(t *testing.T, s *Store, g ir.Geometry, tag string) ir.RecordKey {
	t.Helper()
	id := addConfiguration(t, s, g, tag)
	key := ir.RecordKey{ConfigurationID: id, Model: hfModel}
	inserted, err := s.Register(t.Context(), key)
	require.NoError(t, err)
	require.True(t, inserted)
	return key
}

func setEnergies(t *testing.T, s *Store, key ir.RecordKey, energies map[string]float64) {
	t.Helper()
	for label, e := range energies {
		sub, err := ir.ParseSubset(label)
		require.NoError(t, err)
		require.NoError(t, s.SetSubsetEnergy(t.Context(), key, sub, e))
	}
}

func TestRegister_Idempotent(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")

	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -1.0))

	inserted, err := s.Register(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, inserted)

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, rec.Status)
	assert.Equal(t, map[string]float64{"1": -1.0}, rec.Energies, "re-registration must not reset progress")
}

func TestRegister_DistinctModelsAreDistinctRecords(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")

	cp := key
	cp.Model.CP = true
	inserted, err := s.Register(t.Context(), cp)
	require.NoError(t, err)
	assert.True(t, inserted)

	counts, err := s.Summary(t.Context(), ir.MatchAll())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[ir.StatusPending])
}

func TestRegister_UnknownConfiguration(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Register(t.Context(), ir.RecordKey{ConfigurationID: "nope", Model: hfModel})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRegister_TooManyFragments(t *testing.T) {
	s := createTestStore(t)
	g := ir.Geometry{}
	for i := 0; i < 7; i++ {
		g = append(g, water(float64(i)*3))
	}
	id := addConfiguration(t, s, g, "big")

	_, err := s.Register(t.Context(), ir.RecordKey{ConfigurationID: id, Model: hfModel})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRegisterTag(t *testing.T) {
	s := createTestStore(t, WithBatchSize(2))
	for i := 0; i < 3; i++ {
		addConfiguration(t, s, waterDimer(), "dimerA")
	}
	addConfiguration(t, s, waterMonomer(), "mono")

	n, err := s.RegisterTag(t.Context(), hfModel, ir.Exact("dimerA"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.RegisterTag(t.Context(), hfModel, ir.Any[string]())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the untouched monomer is new")
}

func TestSetSubsetEnergy_DimerCompletes(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")

	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -1.0))
	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{1}, -1.0))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, rec.Status)
	assert.Nil(t, rec.NonAdditive)

	require.NoError(t, s.SetSubsetEnergyWithLog(t.Context(), key, ir.Subset{0, 1}, -2.3, "logs/12.out"))

	rec, err = s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusComputed, rec.Status)
	require.NotNil(t, rec.NonAdditive)
	assert.InDelta(t, -0.3, *rec.NonAdditive, 1e-12)
	assert.Equal(t, "logs/12.out", rec.LogRef)
	assert.Len(t, rec.Energies, 3)
}

func TestSetSubsetEnergy_TrimerCompletes(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterTrimer(), "trimer")

	setEnergies(t, s, key, map[string]float64{
		"1": -1.0, "2": -1.0, "3": -1.0,
		"12": -2.1, "13": -2.1, "23": -2.1,
		"123": -3.4,
	})

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusComputed, rec.Status)
	require.NotNil(t, rec.NonAdditive)
	// -3.4 - (-6.3) + (-3.0)
	assert.InDelta(t, -0.1, *rec.NonAdditive, 1e-12)
}

func TestSetSubsetEnergy_MonomerHasNoNonAdditive(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterMonomer(), "mono")

	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -76.0))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusComputed, rec.Status)
	assert.Nil(t, rec.NonAdditive)
	assert.Equal(t, -76.0, rec.Energies["1"])
}

func TestSetSubsetEnergy_OverwritesWhilePending(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")

	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -5.0))
	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -1.0))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, -1.0, rec.Energies["1"])
}

func TestSetSubsetEnergy_Rejections(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")

	err := s.SetSubsetEnergy(t.Context(), key, ir.Subset{2}, -1.0)
	assert.True(t, IsValidation(err), "out of range subset: %v", err)

	err = s.SetSubsetEnergy(t.Context(), key, ir.Subset{1, 0}, -1.0)
	assert.True(t, IsValidation(err), "unsorted subset: %v", err)

	err = s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, math.NaN())
	assert.True(t, IsValidation(err), "NaN energy: %v", err)

	err = s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, math.Inf(-1))
	assert.True(t, IsValidation(err), "infinite energy: %v", err)

	missing := ir.RecordKey{ConfigurationID: key.ConfigurationID, Model: ir.Model{Method: "MP2", Basis: "aug-cc-pVTZ"}}
	err = s.SetSubsetEnergy(t.Context(), missing, ir.Subset{0}, -1.0)
	assert.True(t, IsNotFound(err), "unregistered model: %v", err)

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Empty(t, rec.Energies, "rejected writes must not be stored")
}

func TestSetSubsetEnergy_ComputedIsFinal(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")
	setEnergies(t, s, key, map[string]float64{"1": -1.0, "2": -1.0, "12": -2.3})

	err := s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -9.0)
	require.Error(t, err)
	assert.True(t, IsState(err))

	err = s.SetFailed(t.Context(), key, "")
	assert.True(t, IsState(err))

	err = s.ResetFailed(t.Context(), key)
	assert.True(t, IsState(err))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, -1.0, rec.Energies["1"])
	assert.InDelta(t, -0.3, *rec.NonAdditive, 1e-12)
}

func TestFailedLifecycle(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")
	require.NoError(t, s.SetSubsetEnergy(t.Context(), key, ir.Subset{0}, -1.0))

	require.NoError(t, s.SetFailed(t.Context(), key, "logs/2.out"))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusFailed, rec.Status)
	assert.Equal(t, "logs/2.out", rec.LogRef)

	err = s.SetSubsetEnergy(t.Context(), key, ir.Subset{1}, -1.0)
	assert.True(t, IsState(err), "failed records accept no energies")

	err = s.SetFailed(t.Context(), key, "")
	assert.True(t, IsState(err))

	// Failed records are invisible to the fill runner.
	jobs := collectMissing(t, s, hfModel)
	assert.Empty(t, jobs)

	require.NoError(t, s.ResetFailed(t.Context(), key))

	jobs = collectMissing(t, s, hfModel)
	require.Len(t, jobs, 1)
	assert.Equal(t, []ir.Subset{{1}, {0, 1}}, jobs[0].Missing, "progress survives the failure")
}

func TestResetAllFailed(t *testing.T) {
	s := createTestStore(t)
	a := registerOne(t, s, waterDimer(), "dimerA")
	b := registerOne(t, s, waterDimer(), "dimerA")
	registerOne(t, s, waterDimer(), "dimerA")
	require.NoError(t, s.SetFailed(t.Context(), a, ""))
	require.NoError(t, s.SetFailed(t.Context(), b, ""))

	n, err := s.ResetAllFailed(t.Context(), hfModel)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	counts, err := s.Summary(t.Context(), ir.ForModel(hfModel))
	require.NoError(t, err)
	assert.Equal(t, 3, counts[ir.StatusPending])
	assert.Equal(t, 0, counts[ir.StatusFailed])
}

func TestRecompute(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterDimer(), "dimerA")
	setEnergies(t, s, key, map[string]float64{"1": -1.0, "2": -1.0, "12": -2.3})

	require.NoError(t, s.Recompute(t.Context(), key))

	rec, err := s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, rec.Status)
	assert.Empty(t, rec.Energies)
	assert.Nil(t, rec.NonAdditive)

	setEnergies(t, s, key, map[string]float64{"1": -1.0, "2": -1.0, "12": -2.5})
	rec, err = s.Record(t.Context(), key)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, *rec.NonAdditive, 1e-12)
}

func collectMissing(t *testing.T, s *Store, m ir.Model) []ir.FillJob {
	t.Helper()
	var out []ir.FillJob
	for job, err := range s.Missing(t.Context(), m) {
		require.NoError(t, err)
		out = append(out, job)
	}
	return out
}

func TestMissing_ListsOnlyAbsentSubsets(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterTrimer(), "trimer")
	setEnergies(t, s, key, map[string]float64{"1": -1.0, "3": -1.0, "23": -2.0})

	jobs := collectMissing(t, s, hfModel)
	require.Len(t, jobs, 1)
	assert.Equal(t, key, jobs[0].Key)
	assert.Equal(t, waterTrimer(), jobs[0].Geometry)
	assert.Equal(t, []ir.Subset{{1}, {0, 1}, {0, 2}, {0, 1, 2}}, jobs[0].Missing)
}

func TestMissing_ScopedToModel(t *testing.T) {
	s := createTestStore(t)
	registerOne(t, s, waterDimer(), "dimerA")

	other := ir.Model{Method: "MP2", Basis: "STO-3G"}
	assert.Empty(t, collectMissing(t, s, other))
	assert.Len(t, collectMissing(t, s, hfModel), 1)
}

func TestMissing_WritableDuringIteration(t *testing.T) {
	s := createTestStore(t, WithBatchSize(2))
	for i := 0; i < 5; i++ {
		registerOne(t, s, waterMonomer(), "mono")
	}

	seen := 0
	for job, err := range s.Missing(t.Context(), hfModel) {
		require.NoError(t, err)
		require.NoError(t, s.SetSubsetEnergy(t.Context(), job.Key, ir.Subset{0}, -76.0))
		seen++
	}
	assert.Equal(t, 5, seen)
	assert.Empty(t, collectMissing(t, s, hfModel))
}

func collectQuery(t *testing.T, s *Store, f ir.Filter) []ir.Entry {
	t.Helper()
	var out []ir.Entry
	for e, err := range s.Query(t.Context(), f) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestQuery_ComputedOnlyFilteredByTag(t *testing.T) {
	s := createTestStore(t, WithBatchSize(1))

	a := registerOne(t, s, waterDimer(), "dimerA")
	registerOne(t, s, waterDimer(), "dimerA") // stays pending
	c := registerOne(t, s, waterDimer(), "dimerB")
	d := registerOne(t, s, waterDimer(), "dimerA")
	for _, key := range []ir.RecordKey{a, c, d} {
		setEnergies(t, s, key, map[string]float64{"1": -1.0, "2": -1.0, "12": -2.3})
	}

	f := ir.MatchAll()
	f.Tag = ir.Exact("dimerA")
	entries := collectQuery(t, s, f)
	require.Len(t, entries, 2)
	assert.Equal(t, a.ConfigurationID, entries[0].Configuration.ID)
	assert.Equal(t, d.ConfigurationID, entries[1].Configuration.ID)
	for _, e := range entries {
		assert.Equal(t, ir.StatusComputed, e.Record.Status)
		assert.Equal(t, "dimerA", e.Configuration.Tag)
		assert.Len(t, e.Record.Energies, 3)
		require.NotNil(t, e.Record.NonAdditive)
		assert.InDelta(t, -0.3, *e.Record.NonAdditive, 1e-12)
	}

	assert.Len(t, collectQuery(t, s, ir.MatchAll()), 3)
}

func TestQuery_ModelPatterns(t *testing.T) {
	s := createTestStore(t)
	key := registerOne(t, s, waterMonomer(), "mono")
	setEnergies(t, s, key, map[string]float64{"1": -76.0})

	cp := ir.RecordKey{ConfigurationID: key.ConfigurationID, Model: ir.Model{Method: "HF", Basis: "STO-3G", CP: true}}
	_, err := s.Register(t.Context(), cp)
	require.NoError(t, err)
	setEnergies(t, s, cp, map[string]float64{"1": -76.1})

	f := ir.MatchAll()
	f.CP = ir.Exact(true)
	entries := collectQuery(t, s, f)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Record.Key.Model.CP)
	assert.Equal(t, -76.1, entries[0].Record.Energies["1"])

	f = ir.MatchAll()
	f.Basis = ir.Exact("cc-pVDZ")
	assert.Empty(t, collectQuery(t, s, f))

	assert.Len(t, collectQuery(t, s, ir.ForModel(hfModel)), 1)
}

func TestSummary(t *testing.T) {
	s := createTestStore(t)
	a := registerOne(t, s, waterMonomer(), "mono")
	b := registerOne(t, s, waterMonomer(), "mono")
	registerOne(t, s, waterMonomer(), "mono")
	setEnergies(t, s, a, map[string]float64{"1": -76.0})
	require.NoError(t, s.SetFailed(t.Context(), b, ""))

	counts, err := s.Summary(t.Context(), ir.MatchAll())
	require.NoError(t, err)
	assert.Equal(t, map[ir.Status]int{
		ir.StatusPending:  1,
		ir.StatusComputed: 1,
		ir.StatusFailed:   1,
	}, counts)

	f := ir.MatchAll()
	f.Tag = ir.Exact("other")
	counts, err = s.Summary(t.Context(), f)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[ir.StatusPending]+counts[ir.StatusComputed]+counts[ir.StatusFailed])
}

// TestPostgres_Scenario runs the dimer scenario against a live server when
// MBFIT_TEST_POSTGRES_DSN is set.
func TestPostgres_Scenario(t *testing.T) {
	dsn := os.Getenv("MBFIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MBFIT_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "postgres", s.Backend())

	tag := "pg-" + UUIDv7Generator{}.Generate()
	key := registerOne(t, s, waterDimer(), tag)
	setEnergies(t, s, key, map[string]float64{"1": -1.0, "2": -1.0, "12": -2.3})

	f := ir.ForModel(hfModel)
	f.Tag = ir.Exact(tag)
	entries := collectQuery(t, s, f)
	require.Len(t, entries, 1)
	assert.InDelta(t, -0.3, *entries[0].Record.NonAdditive, 1e-12)
}
