package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lunaform/switchboard/internal/types"
)

// FilePromptStore resolves prompt templates from the workspace tree:
// <root>/<tenant>/prompts/<id>.md. The id may omit the .md suffix.
type FilePromptStore struct {
	root string
}

// NewFilePromptStore creates a prompt store rooted at the workspace directory.
func NewFilePromptStore(root string) *FilePromptStore {
	return &FilePromptStore{root: root}
}

// Prompt reads a tenant's prompt template by id.
// Returns ErrPromptNotFound when the file does not exist; a missing prompt
// is a recorded action failure, not a fatal error.
func (s *FilePromptStore) Prompt(ctx context.Context, tenant, promptID string) (string, error) {
	name := promptID
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}

	path := filepath.Join(s.root, tenant, "prompts", filepath.Clean(name))
	if !strings.HasPrefix(path, filepath.Join(s.root, tenant)+string(filepath.Separator)) {
		// Path traversal in a prompt id resolves outside the tenant root.
		return "", types.ErrPromptNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.ErrPromptNotFound
		}
		return "", fmt.Errorf("read prompt %s: %w", promptID, err)
	}
	return string(data), nil
}
