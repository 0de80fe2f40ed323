// Package registry implements the agent registry: loading agent
// definitions from a directory and materializing them into runnable
// Agent handles bound to a shared model client and tool set.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// LoadError wraps a failure encountered while loading a directory of
// agent definitions. Loading is all-or-nothing: a single malformed
// definition fails the entire load.
type LoadError struct {
	Dir  string
	File string
	Err  error
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("registry: failed to load %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("registry: failed to load %s: %v", e.Dir, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Registry holds a fixed set of agent handles keyed by normalized id.
// It is immutable after Load: callers that need to pick up new
// definitions build a fresh Registry.
type Registry struct {
	agents map[string]*agent.Agent
}

// normalizeID lowercases an id and treats hyphens and underscores as
// equivalent, so "code-reviewer" and "code_reviewer" collide.
func normalizeID(id string) string {
	return strings.ReplaceAll(strings.ToLower(id), "_", "-")
}

// Load scans dir for agent definition files (*.yaml, *.yml), parses
// each into an agent.Definition, and materializes an agent.Agent per
// definition. It fails fast with a *LoadError on the first unreadable
// directory or malformed file; no partial registry is returned.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{Dir: dir, Err: err}
	}

	agents := make(map[string]*agent.Agent)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, &LoadError{Dir: dir, File: path, Err: readErr}
		}

		var def agent.Definition
		if unmarshalErr := yaml.Unmarshal(data, &def); unmarshalErr != nil {
			return nil, &LoadError{Dir: dir, File: path, Err: unmarshalErr}
		}
		if strings.TrimSpace(def.ID) == "" {
			return nil, &LoadError{Dir: dir, File: path, Err: fmt.Errorf("missing agent id")}
		}

		id := normalizeID(def.ID)
		if _, dup := agents[id]; dup {
			return nil, &LoadError{Dir: dir, File: path, Err: fmt.Errorf("duplicate agent id %q", def.ID)}
		}
		agents[id] = agent.FromDefinition(def)
	}

	log.WithFields(map[string]interface{}{
		"dir":   dir,
		"count": len(agents),
	}).Info("loaded agent registry")

	return &Registry{agents: agents}, nil
}

// LoadDefinitions builds a Registry directly from a slice of
// already-parsed definitions, for callers (e.g. inline config) that
// don't read agent files off disk.
func LoadDefinitions(defs []agent.Definition) (*Registry, error) {
	agents := make(map[string]*agent.Agent, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.ID) == "" {
			return nil, &LoadError{Err: fmt.Errorf("missing agent id")}
		}
		id := normalizeID(def.ID)
		if _, dup := agents[id]; dup {
			return nil, &LoadError{Err: fmt.Errorf("duplicate agent id %q", def.ID)}
		}
		agents[id] = agent.FromDefinition(def)
	}
	return &Registry{agents: agents}, nil
}

// Get returns the agent for id, trying both hyphen and underscore
// variants of the given id before reporting a miss.
func (r *Registry) Get(id string) (*agent.Agent, bool) {
	a, ok := r.agents[normalizeID(id)]
	return a, ok
}

// List returns every registered agent. Order is unspecified.
func (r *Registry) List() []*agent.Agent {
	out := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Len reports the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}
