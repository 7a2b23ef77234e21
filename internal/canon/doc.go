// Package canon provides the deterministic encodings chronicle hashes:
// canonical JSON for stored documents and domain-separated SHA-256 digests
// for snapshot checksums and outbound request keys.
//
// All string content is NFC normalized before hashing so that visually
// identical URLs and document values produce the same digest.
package canon
