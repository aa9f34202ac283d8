package loader

import (
	"fmt"
	"slices"

	"github.com/chenyanchen/batchkit"
	"gopkg.in/yaml.v3"
)

// Spec describes how one batch resource is partitioned and reordered.
//
// BatchKey is the item attribute holding the identifier sent downstream.
// IgnoreKeys are further attributes that do not split a batch into groups.
// ReorderResultsByKey is the response item property matched against the batch
// keys; it defaults to BatchKey. It is unused for dict-shaped responses.
// MaxBatchSize caps the keys per downstream call; zero means no cap.
type Spec struct {
	Path                 batchkit.ResourcePath `json:"path" yaml:"path"`
	BatchKey             string                `json:"batchKey" yaml:"batchKey"`
	IgnoreKeys           []string              `json:"ignoreKeys,omitempty" yaml:"ignoreKeys,omitempty"`
	ReorderResultsByKey  string                `json:"reorderResultsByKey,omitempty" yaml:"reorderResultsByKey,omitempty"`
	IsResponseDictionary bool                  `json:"isResponseDictionary,omitempty" yaml:"isResponseDictionary,omitempty"`
	MaxBatchSize         int                   `json:"maxBatchSize,omitempty" yaml:"maxBatchSize,omitempty"`
}

// Validate checks the spec and returns an error wrapping ErrInvalidSpec.
func (s Spec) Validate() error {
	if len(s.Path) == 0 {
		return fmt.Errorf("%w: path is empty", ErrInvalidSpec)
	}
	if slices.Contains(s.Path, "") {
		return fmt.Errorf("%w: %s: path has an empty segment", ErrInvalidSpec, s.Path.String())
	}
	if s.BatchKey == "" {
		return fmt.Errorf("%w: %s: batchKey is empty", ErrInvalidSpec, s.Path.String())
	}
	if s.MaxBatchSize < 0 {
		return fmt.Errorf("%w: %s: maxBatchSize is negative", ErrInvalidSpec, s.Path.String())
	}
	return nil
}

func (s Spec) reorderKey() string {
	if s.ReorderResultsByKey != "" {
		return s.ReorderResultsByKey
	}
	return s.BatchKey
}

func (s Spec) partitionIgnoreKeys() []string {
	keys := make([]string, 0, len(s.IgnoreKeys)+1)
	keys = append(keys, s.BatchKey)
	return append(keys, s.IgnoreKeys...)
}

type specFile struct {
	Resources []Spec `yaml:"resources"`
}

// ParseSpecs decodes a YAML document of the form
//
//	resources:
//	  - path: [users, getUsers]
//	    batchKey: user_ids
//	    reorderResultsByKey: id
//	    maxBatchSize: 100
func ParseSpecs(data []byte) ([]Spec, error) {
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse loader specs: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Resources))
	for i, spec := range file.Resources {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("parse loader specs: resource #%d: %w", i, err)
		}
		key := spec.Path.String()
		if _, dup := seen[key]; dup {
			return nil, DuplicateLoaderError{Path: spec.Path}
		}
		seen[key] = struct{}{}
	}
	return file.Resources, nil
}

// Lookup returns the spec for path.
func Lookup(specs []Spec, path batchkit.ResourcePath) (Spec, bool) {
	for _, spec := range specs {
		if slices.Equal(spec.Path, path) {
			return spec, true
		}
	}
	return Spec{}, false
}
