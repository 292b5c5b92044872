package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometry_Counts(t *testing.T) {
	g := Geometry{water(0), water(3), {{Element: "Na"}}}

	assert.Equal(t, 7, g.NumAtoms())
	assert.Equal(t, 3, g.NumFragments())
	assert.Len(t, g.Atoms(), 7)
}

func TestGeometry_Select(t *testing.T) {
	g := Geometry{water(0), water(3), {{Element: "Na"}}}

	sel := g.Select(Subset{0, 2})
	require.Len(t, sel, 2)
	assert.Equal(t, "H2O", sel[0].Formula())
	assert.Equal(t, "Na", sel[1].Formula())
}

func TestGeometry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		geom    Geometry
		wantErr string
	}{
		{"valid", Geometry{water(0)}, ""},
		{"empty", Geometry{}, "no fragments"},
		{"empty fragment", Geometry{water(0), {}}, "fragment 1 has no atoms"},
		{"blank element", Geometry{{{Element: " "}}}, "empty element symbol"},
		{"nan", Geometry{{{Element: "H", X: math.NaN()}}}, "non-finite"},
		{"inf", Geometry{{{Element: "H", Z: math.Inf(-1)}}}, "non-finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geom.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFragment_Formula(t *testing.T) {
	tests := []struct {
		frag Fragment
		want string
	}{
		{water(0), "H2O"},
		{Fragment{{Element: "H"}, {Element: "C"}, {Element: "H"}, {Element: "H"}, {Element: "H"}}, "CH4"},
		{Fragment{{Element: "Na"}, {Element: "Cl"}}, "ClNa"},
		{Fragment{{Element: "O"}, {Element: "C"}, {Element: "O"}}, "CO2"},
		{Fragment{{Element: "N"}, {Element: "H"}, {Element: "H"}, {Element: "H"}}, "H3N"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.frag.Formula())
	}
}

func TestModel_String(t *testing.T) {
	assert.Equal(t, "HF/STO-3G", Model{Method: "HF", Basis: "STO-3G"}.String())
	assert.Equal(t, "MP2/aug-cc-pvtz (cp)", Model{Method: "MP2", Basis: "aug-cc-pvtz", CP: true}.String())
}

func TestSubset_LabelRoundTrip(t *testing.T) {
	for _, s := range []Subset{{0}, {1}, {0, 1}, {0, 2}, {0, 1, 2}, {2, 4, 5}} {
		got, err := ParseSubset(s.Label())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "123", Subset{0, 1, 2}.Label())
}

func TestParseSubset_Invalid(t *testing.T) {
	for _, label := range []string{"", "0", "21", "11", "1a"} {
		_, err := ParseSubset(label)
		assert.Error(t, err, "label %q", label)
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusComputed.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("running").Valid())
}

func TestPattern(t *testing.T) {
	all := Any[string]()
	exact := Exact("HF")

	assert.True(t, all.IsAny())
	assert.True(t, all.Matches("MP2"))
	assert.False(t, exact.IsAny())
	assert.True(t, exact.Matches("HF"))
	assert.False(t, exact.Matches("MP2"))

	assert.True(t, ParseStringPattern("%").IsAny())
	assert.Equal(t, "dimerA", ParseStringPattern("dimerA").Value())
}

func TestParseBoolPattern(t *testing.T) {
	p, err := ParseBoolPattern("%")
	require.NoError(t, err)
	assert.True(t, p.IsAny())

	p, err = ParseBoolPattern("1")
	require.NoError(t, err)
	assert.True(t, p.Matches(true))
	assert.False(t, p.Matches(false))

	_, err = ParseBoolPattern("maybe")
	assert.Error(t, err)
}

func TestFilterConstructors(t *testing.T) {
	all := MatchAll()
	assert.True(t, all.Method.IsAny())
	assert.True(t, all.CP.IsAny())

	f := ForModel(Model{Method: "HF", Basis: "STO-3G"})
	assert.Equal(t, "HF", f.Method.Value())
	assert.False(t, f.CP.IsAny())
	assert.False(t, f.CP.Value())
	assert.True(t, f.Tag.IsAny())
}
