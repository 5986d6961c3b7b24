package warehouse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SchemaSet resolves table names to field lists from a directory of JSON
// schema definition files named <table>.json.
type SchemaSet struct {
	dir    string
	mu     sync.RWMutex
	tables map[string][]FieldSpec
}

// NewSchemaSet creates a SchemaSet reading from dir. An empty dir yields a
// set that only knows explicitly added tables.
func NewSchemaSet(dir string) *SchemaSet {
	return &SchemaSet{
		dir:    dir,
		tables: make(map[string][]FieldSpec),
	}
}

// Add registers fields for table, overriding any file on disk.
func (s *SchemaSet) Add(table string, fields []FieldSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = fields
}

// Fields returns the schema for table.
func (s *SchemaSet) Fields(table string) ([]FieldSpec, error) {
	s.mu.RLock()
	fields, ok := s.tables[table]
	s.mu.RUnlock()
	if ok {
		return fields, nil
	}
	if s.dir == "" {
		return nil, fmt.Errorf("no schema defined for table %s", table)
	}

	// guard against path traversal through table names
	if strings.ContainsAny(table, `/\`) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, table+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for table %s: %w", table, err)
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid schema for table %s: %w", table, err)
	}

	s.Add(table, fields)
	return fields, nil
}
