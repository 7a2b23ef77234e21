package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for digests. The version suffix allows the encoding to
// change without colliding with digests already persisted.
const (
	DomainRequest  = "chronicle/request/v1"
	DomainSnapshot = "chronicle/snapshot/v1"
)

// Hash computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func Hash(domain string, data []byte) string {
	h := newDomainHash(domain)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func newDomainHash(domain string) hash.Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return h
}

// RequestKey identifies an outbound API request for the response cache.
// The body contributes only through its own digest so large payloads do
// not inflate the key material.
func RequestKey(method, url string, body []byte) string {
	sum := sha256.Sum256(body)

	h := newDomainHash(DomainRequest)
	h.Write([]byte(method))
	h.Write([]byte{0x00})
	h.Write([]byte(norm.NFC.String(url)))
	h.Write([]byte{0x00})
	h.Write(sum[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Digest accumulates an ordered sequence of records into one checksum.
// Each field is length-prefixed, so record boundaries are unambiguous.
type Digest struct {
	h hash.Hash
}

// NewDigest starts a digest in the given domain.
func NewDigest(domain string) *Digest {
	return &Digest{h: newDomainHash(domain)}
}

// Add appends one record made of the given fields.
func (d *Digest) Add(fields ...[]byte) {
	for _, f := range fields {
		d.h.Write([]byte(strconv.Itoa(len(f))))
		d.h.Write([]byte{':'})
		d.h.Write(f)
	}
	d.h.Write([]byte{'\n'})
}

// Sum returns the hex-encoded checksum.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
