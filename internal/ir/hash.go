package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainGeometry = "mbfit/geometry/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GeometryHash computes the content fingerprint of a geometry.
//
// Two geometries share a hash exactly when their canonical encodings are
// byte-identical: same fragment split, same atom order, same element symbols
// after NFC normalisation, and bit-identical coordinates. The hash is used
// to skip duplicate imports; it is not a chemical-equivalence test.
func GeometryHash(g Geometry) string {
	return hashWithDomain(DomainGeometry, CanonicalGeometry(g))
}
