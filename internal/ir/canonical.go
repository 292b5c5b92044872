package ir

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalGeometry produces the byte encoding used for geometry hashing.
//
// Layout, one record per line:
//
//	F <atom count>
//	<element> <x> <y> <z>
//
// Element symbols are trimmed and NFC normalised. Coordinates use the
// shortest round-tripping decimal form, so equal float64 values always
// encode identically.
func CanonicalGeometry(g Geometry) []byte {
	var buf bytes.Buffer
	for _, f := range g {
		buf.WriteString("F ")
		buf.WriteString(strconv.Itoa(len(f)))
		buf.WriteByte('\n')
		for _, a := range f {
			buf.WriteString(NormalizeLabel(strings.TrimSpace(a.Element)))
			for _, c := range []float64{a.X, a.Y, a.Z} {
				buf.WriteByte(' ')
				buf.WriteString(canonicalFloat(c))
			}
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// NormalizeLabel applies NFC normalisation so visually identical labels
// (tags, element symbols) compare equal regardless of input encoding.
func NormalizeLabel(s string) string {
	return norm.NFC.String(s)
}

func canonicalFloat(f float64) string {
	if f == 0 {
		// Fold -0 into 0.
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
