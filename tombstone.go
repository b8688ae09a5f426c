package hoard

import (
	"encoding/json"
	"time"
)

// tombstoneSuffix is appended to an object's location key to form the name
// of its tombstone record.
const tombstoneSuffix = ".deleted"

// Tombstone records a deliberate deletion. Once a tombstone exists for an
// object, reads surface its reason instead of a generic not-found.
type Tombstone struct {
	// Created is when the deleted object was originally written.
	Created time.Time `json:"Created"`

	// Deleted is when the deletion was performed.
	Deleted time.Time `json:"Deleted"`

	// Reason is the human-readable justification, e.g. "GDPR".
	Reason string `json:"Reason"`

	// Size is the deleted object's size in bytes.
	Size int64 `json:"Size"`
}

func (t Tombstone) marshal() ([]byte, error) {
	return json.Marshal(t)
}

func unmarshalTombstone(data []byte) (Tombstone, error) {
	var t Tombstone
	err := json.Unmarshal(data, &t)
	return t, err
}
