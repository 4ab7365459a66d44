// Package storage persists snapshots of the episodic and semantic stores.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/goclaw/hmem/pkg/memory"
)

// Persister is a memory.Persister that holds resources.
type Persister interface {
	memory.Persister

	// Close releases the backend.
	Close() error
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Cause
}

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Key       string
	Cause     error
}

func (e *SerializationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("serialization error during %s of %s: %v", e.Operation, e.Key, e.Cause)
	}
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// Serialize encodes v as JSON.
func Serialize(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Key: key, Cause: err}
	}
	return data, nil
}

// Deserialize decodes JSON data into v.
func Deserialize(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &SerializationError{Operation: "unmarshal", Key: key, Cause: err}
	}
	return nil
}
