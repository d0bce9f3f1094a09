package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lunaform/switchboard/internal/types"
)

// RuleStore is the per-tenant load/save contract for rule persistence.
// Load returns the whole document; Save rewrites it. Absence of persisted
// state means zero rules, never an error.
type RuleStore interface {
	Load(ctx context.Context) ([]types.Rule, error)
	Save(ctx context.Context, rules []types.Rule) error
}

// FileRuleStore persists a tenant's rules as a single JSON document at
// <root>/<tenant>/rules.json.
type FileRuleStore struct {
	path string
}

// NewFileRuleStore creates a file-backed store for one tenant.
func NewFileRuleStore(root, tenant string) *FileRuleStore {
	return &FileRuleStore{path: filepath.Join(root, tenant, "rules.json")}
}

// Load reads the whole rule document. A missing file yields zero rules.
func (s *FileRuleStore) Load(ctx context.Context) ([]types.Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc types.RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return doc.Rules, nil
}

// Save rewrites the whole rule document. Write-then-rename keeps a crashed
// save from truncating the previous document.
func (s *FileRuleStore) Save(ctx context.Context, rules []types.Rule) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}

	data, err := json.MarshalIndent(types.RuleDocument{Rules: rules}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
