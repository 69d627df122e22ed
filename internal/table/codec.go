package table

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the storage schema version written by Encode.
// Decode accepts this version and, for documents written before
// versioning existed, version zero.
const SchemaVersion = 1

type record struct {
	SchemaVersion int `json:"schema_version"`
	Table
}

// Encode serializes a table to its storage representation.
func Encode(t *Table) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("encode nil table")
	}
	return json.Marshal(record{SchemaVersion: SchemaVersion, Table: *t})
}

// Decode parses a storage representation produced by Encode.
func Decode(data []byte) (*Table, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if rec.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("decode table: unsupported schema version %d", rec.SchemaVersion)
	}
	t := rec.Table
	return &t, nil
}

// Equal reports whether two tables have identical storage
// representations. Used as the match predicate for conditional writes.
func Equal(a, b *Table) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, err := Encode(a)
	if err != nil {
		return false
	}
	bb, err := Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
