package stages

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a stages file
type File struct {
	Stages []Definition `yaml:"stages"`
}

// Decode parses a stages document, rejecting unknown fields
func Decode(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("stages file is empty")
		}
		return File{}, fmt.Errorf("failed to decode stages: %w", err)
	}
	return f, nil
}

// LoadFile reads and decodes a stages file
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read stages file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// LoadFile adds every stage in the file at path, stopping at the first
// invalid one
func (m *Manager) LoadFile(path string) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Stages))
	for _, def := range f.Stages {
		if seen[def.Name] {
			return fmt.Errorf("stage %s defined more than once in %s", def.Name, path)
		}
		seen[def.Name] = true
		if err := m.Add(def); err != nil {
			return err
		}
	}
	return nil
}
