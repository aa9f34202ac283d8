package loader

import (
	"errors"
	"fmt"

	"github.com/chenyanchen/batchkit"
)

// ErrInvalidSpec is returned when a Spec fails validation.
var ErrInvalidSpec = errors.New("invalid loader spec")

// LoaderNotFoundError means no loader is registered for a resource path.
type LoaderNotFoundError struct {
	Path batchkit.ResourcePath
}

func (e LoaderNotFoundError) Error() string {
	return fmt.Sprintf("loader not found: %s", e.Path.String())
}

// DuplicateLoaderError means a resource path is registered twice.
type DuplicateLoaderError struct {
	Path batchkit.ResourcePath
}

func (e DuplicateLoaderError) Error() string {
	return fmt.Sprintf("duplicate loader: %s", e.Path.String())
}

// TypeMismatchError means LoadAs[V] found a loader of another value type.
type TypeMismatchError struct {
	Path     batchkit.ResourcePath
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("loader type mismatch for %s: expected=%s actual=%s",
		e.Path.String(), e.Expected, e.Actual)
}
