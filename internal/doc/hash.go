package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed revisions.
// Version suffix enables future algorithm migration.
const (
	DomainDocument = "tasksync/document/v1"
	DomainSnapshot = "tasksync/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Revision computes the content revision of a document.
// Two documents have the same revision if and only if their canonical JSON
// is identical.
func Revision(m Map) (string, error) {
	canonical, err := MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("revision: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustRevision is Revision for documents built by the codec, which never
// contain unsupported values. It panics on error.
func MustRevision(m Map) string {
	rev, err := Revision(m)
	if err != nil {
		panic(err)
	}
	return rev
}

// SnapshotRevision hashes an ordered list of (id, document) pairs so that
// polling backends can tell whether anything changed between two reads.
func SnapshotRevision(ids []string, docs []Map) (string, error) {
	if len(ids) != len(docs) {
		return "", fmt.Errorf("snapshot revision: %d ids for %d documents", len(ids), len(docs))
	}
	arr := make(Array, len(ids))
	for i := range ids {
		arr[i] = Map{"id": String(ids[i]), "data": docs[i]}
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("snapshot revision: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
