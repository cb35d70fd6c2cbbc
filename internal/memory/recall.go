package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// RecallPolicy names the memory kinds that trigger auto-emission of a
// `recall` record on memorize, loaded from <memory_dir>/policy.toml.
type RecallPolicy struct {
	Recall struct {
		Kinds []string `toml:"kinds"`
	} `toml:"recall"`
}

// LoadRecallPolicy reads policy.toml from dir. A missing file is treated as
// an empty policy (no kinds trigger recall), not an error.
func LoadRecallPolicy(dir string) (*RecallPolicy, error) {
	path := filepath.Join(dir, "policy.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RecallPolicy{}, nil
		}
		return nil, fmt.Errorf("read recall policy %s: %w", path, err)
	}

	var p RecallPolicy
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse recall policy %s: %w", path, err)
	}
	return &p, nil
}

// Triggers reports whether kind is one of the policy's recall kinds.
func (p *RecallPolicy) Triggers(kind string) bool {
	if p == nil {
		return false
	}
	for _, k := range p.Recall.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
