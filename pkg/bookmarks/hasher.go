// Package bookmarks computes the content hashes under which bookmarks and triggers are indexed.
package bookmarks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hasher maps an activity type and its suspension or activation payload to an index key.
type Hasher interface {
	Hash(activityTypeName string, payload any) (string, error)
}

// SHA256Hasher hashes the activity type name and the canonical JSON encoding of the payload.
type SHA256Hasher struct{}

// NewHasher returns the default hasher.
func NewHasher() SHA256Hasher {
	return SHA256Hasher{}
}

func (SHA256Hasher) Hash(activityTypeName string, payload any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload for %s: %w", activityTypeName, err)
	}

	sum := sha256.New()
	sum.Write([]byte(activityTypeName))
	sum.Write([]byte{0})
	sum.Write(canonical)

	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Canonicalize encodes payload as JSON with object keys in sorted order, so that structs
// and maps carrying the same fields produce identical bytes. Numbers keep their literal text.
func Canonicalize(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var generic any

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	err = decoder.Decode(&generic)
	if err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
