package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound indicates a request did not resolve to a file
	ErrModuleNotFound = errors.New("module not found")
	// ErrNoMatchingRule indicates no rule applies to a module and its kind cannot be inferred
	ErrNoMatchingRule = errors.New("no matching rule")
)

// ResolutionError reports a reference that could not be located.
type ResolutionError struct {
	// Request is the specifier as written in the importing module
	Request string
	// Importer is the ID of the importing module, empty for entries
	Importer string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Importer == "" {
		return fmt.Sprintf("resolve entry %q: %v", e.Request, e.Err)
	}
	return fmt.Sprintf("resolve %q from %s: %v", e.Request, e.Importer, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransformError reports a module whose source could not be read or
// transformed.
type TransformError struct {
	Module string
	// Loader names the failing loader, empty when the failure is not a loader step
	Loader string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Loader == "" {
		return fmt.Sprintf("transform %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("transform %s (loader %s): %v", e.Module, e.Loader, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
