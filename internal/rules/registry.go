package rules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/sssxyd/apistatus-guard/internal/classifier"
)

// Resolution is the outcome of resolving a rule set name and command
// against the registry.
type Resolution int

const (
	// ResolutionNone means no rules apply — the rule-set name is unknown,
	// or there is neither a command override nor a non-empty global list.
	ResolutionNone Resolution = iota
	// ResolutionIgnored means the command has an explicit empty override
	// list: evaluation should be skipped entirely for alarm/fuse/rate
	// purposes (but recording, for the breaker, is unconditional — see
	// DESIGN.md Open Question decisions).
	ResolutionIgnored
	// ResolutionRules means a non-empty rule list applies.
	ResolutionRules
)

// Registry holds the immutable set of rule documents loaded at startup,
// keyed by sanitized filename.
type Registry struct {
	documents map[string]Document
}

// Load scans dir for *.json files and parses each into a Document keyed by
// its sanitized basename. A file that fails to parse is logged and
// skipped; startup still succeeds with whatever loaded cleanly.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	reg := &Registry{documents: make(map[string]Document)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return reg, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			if logger != nil {
				logger.Warn("rule file unreadable, skipping", "path", path, "error", err)
			}
			continue
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			if logger != nil {
				logger.Warn("rule file invalid JSON, skipping", "path", path, "error", err)
			}
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		key := classifier.Key(name)
		reg.documents[key] = doc
	}
	return reg, nil
}

// NewFromDocuments builds a Registry directly from in-memory documents,
// primarily for tests.
func NewFromDocuments(docs map[string]Document) *Registry {
	return &Registry{documents: docs}
}

// Resolve maps (ruleSetName, command) to a rule list per base spec §4.3:
//   - commands[command] present and non-empty  -> that list
//   - commands[command] present and empty       -> ignored
//   - else global non-empty                     -> global
//   - else                                       -> none
func (r *Registry) Resolve(ruleSetName, command string) ([]Rule, Resolution) {
	if r == nil {
		return nil, ResolutionNone
	}
	doc, ok := r.documents[ruleSetName]
	if !ok {
		return nil, ResolutionNone
	}
	if list, ok := doc.Commands[command]; ok {
		if len(list) == 0 {
			return nil, ResolutionIgnored
		}
		return list, ResolutionRules
	}
	if len(doc.Global) > 0 {
		return doc.Global, ResolutionRules
	}
	return nil, ResolutionNone
}
