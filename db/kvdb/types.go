package kvdb

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
)

type InvalidKeyError struct {
	Key    string
	Reason string
}
type NotFoundError struct {
	Bucket string
	Key    string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %s: %s", e.Key, e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key not found in %s: %s", e.Bucket, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RunRecord is the persisted outcome of one indexing run.
type RunRecord struct {
	ID          string    `json:"id"`
	CatalogPath string    `json:"catalog_path"`
	SourcePath  string    `json:"source_path"`
	State       string    `json:"state"`
	Progress    int       `json:"progress"`
	Processed   int       `json:"processed"`
	Updated     int       `json:"updated"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Removed     int       `json:"removed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the run reached a terminal state.
func (r *RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}
