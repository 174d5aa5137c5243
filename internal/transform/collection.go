// Package transform implements the transform model's pure, deterministic
// pieces: collection-name derivation and the typed sum types parsed from a
// transform's opaque config document at the request boundary.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ownerHash is the stable, collision-resistant fragment of a collection
// name that keeps tenants from colliding on the same dataset/embedder/
// transform triple. It is a prefix of sha256(owner), never the raw owner id.
func ownerHash(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:])[:8]
}

// GenerateCollectionName derives the vector-store collection name for a
// (dataset, embedder, transform, owner) tuple. It is pure and stable: the
// same inputs always produce the same name, and the owner hash keeps
// distinct tenants from producing the same collection name for unrelated
// resources that happen to share ids. Once written to a transform's
// collection_mappings, the result must never be regenerated and silently
// substituted — callers persist it instead of recomputing it at lookup time.
func GenerateCollectionName(datasetID, embedderID, transformID, owner string) string {
	return fmt.Sprintf("%s-dataset%s-emb%s-t%s", ownerHash(owner), datasetID, embedderID, transformID)
}

// GenerateCollectionNameSuffixed derives a named-variant collection, e.g.
// the "reduced" or "reduced-topics" collections a visualization transform
// writes alongside its primary one.
func GenerateCollectionNameSuffixed(datasetID, embedderID, transformID, owner, suffix string) string {
	return GenerateCollectionName(datasetID, embedderID, transformID, owner) + "-" + suffix
}

// MappingKey is the collection_mappings key for a given embedder and
// optional suffix ("" for the primary mapping).
func MappingKey(embedderID, suffix string) string {
	if suffix == "" {
		return embedderID
	}
	return embedderID + ":" + suffix
}
