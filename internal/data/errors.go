package data

import (
	"errors"
	"fmt"
)

// ErrWrongDatabaseType is wrapped by LoadError when the file is a valid
// MaxMind DB of a type the dataset kind cannot serve.
var ErrWrongDatabaseType = errors.New("wrong database type")

// LoadError reports a dataset that could not be opened at startup.
type LoadError struct {
	Kind DatasetKind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s dataset from %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
