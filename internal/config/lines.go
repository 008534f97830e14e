package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LineConfig selects a line to track and optionally overrides its metadata.
type LineConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
	// Forward lists direction tags that run towards increasing station order.
	Forward []string `yaml:"forward" validate:"omitempty,dive,required"`
	// Loop overrides the store's loop flag when set.
	Loop *bool `yaml:"loop"`
}

type LinesFile struct {
	Lines []LineConfig `yaml:"lines" validate:"dive"`
}

// LoadLines reads and validates the line file at path. A missing file yields
// an empty list, meaning every line in the store is tracked.
func LoadLines(path string) ([]LineConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lines file: %w", err)
	}
	return ParseLines(data)
}

func ParseLines(data []byte) ([]LineConfig, error) {
	var f LinesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse lines file: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate lines file: %w", err)
	}
	seen := make(map[string]bool, len(f.Lines))
	for _, l := range f.Lines {
		if seen[l.ID] {
			return nil, fmt.Errorf("duplicate line %q", l.ID)
		}
		seen[l.ID] = true
	}
	return f.Lines, nil
}
