package index

import (
	"errors"
	"fmt"
)

var (
	ErrBusy        = errors.New("indexing already in progress")
	ErrRunNotFound = errors.New("indexing run not found")
)

// ConfigurationError means a run was rejected before the index was touched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
