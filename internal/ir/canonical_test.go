package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalGeometry_Layout(t *testing.T) {
	g := Geometry{
		{{Element: "O", X: 0, Y: 0, Z: 0.1173}},
		{{Element: "H", X: 1.5, Y: -2, Z: 1e-9}},
	}

	got := string(CanonicalGeometry(g))
	want := "F 1\nO 0 0 0.1173\nF 1\nH 1.5 -2 1e-09\n"
	assert.Equal(t, want, got)
}

func TestNormalizeLabel_NFC(t *testing.T) {
	// "é" as e + combining acute vs precomposed U+00E9.
	decomposed := "dimere\u0301"
	precomposed := "dimer\u00e9"

	assert.Equal(t, precomposed, NormalizeLabel(decomposed))
	assert.Equal(t, precomposed, NormalizeLabel(precomposed))
}
