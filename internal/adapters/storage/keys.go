package storage

import (
	"fmt"
	"path"
	"strings"
)

const snapshotPrefix = "rulesets"

// SnapshotKey returns the object key for a ruleset version. Versions are
// zero padded so keys list in publication order.
func SnapshotKey(version int) string {
	return fmt.Sprintf("%s/v%06d.json", snapshotPrefix, version)
}

// ValidateKey rejects keys outside the snapshot prefix or containing
// traversal segments.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is empty")
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q is not allowed", key)
	}
	if path.Dir(key) != snapshotPrefix || path.Ext(key) != ".json" {
		return fmt.Errorf("object key %q is not a snapshot key", key)
	}
	return nil
}
