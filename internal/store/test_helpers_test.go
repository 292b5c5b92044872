package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/mbfit/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// addConfiguration inserts g and fails the test on error.
func addConfiguration(t *testing.T, s *Store, g ir.Geometry, tag string) string {
	t.Helper()
	id, err := s.Add(t.Context(), g, tag)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	return id
}

func water(dx float64) ir.Fragment {
	return ir.Fragment{
		{Element: "O", X: dx, Y: 0, Z: 0},
		{Element: "H", X: dx + 0.757, Y: 0.586, Z: 0},
		{Element: "H", X: dx - 0.757, Y: 0.586, Z: 0},
	}
}

func waterMonomer() ir.Geometry { return ir.Geometry{water(0)} }

func waterDimer() ir.Geometry { return ir.Geometry{water(0), water(2.9)} }

func waterTrimer() ir.Geometry { return ir.Geometry{water(0), water(2.9), water(5.8)} }

var hfModel = ir.Model{Method: "HF", Basis: "STO-3G", CP: false}
