package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadDefinitions reads every workflow definition under a tenant's
// directory. Each workflow lives in its own directory holding
// workflow.json plus its prompts and scripts:
//
//	<root>/<tenant>/workflows/<id>/workflow.json
//
// A missing workflows directory means zero workflows. A definition whose
// directory name disagrees with its declared id is rejected; scripts and
// logs resolve by directory name and the two must not drift.
func LoadDefinitions(root, tenant string) ([]Definition, error) {
	dir := filepath.Join(root, tenant, "workflows")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var defs []Definition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "workflow.json")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var def Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if def.ID == "" {
			def.ID = entry.Name()
		}
		if def.ID != entry.Name() {
			return nil, fmt.Errorf("workflow %s: id %q does not match directory name", path, def.ID)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
