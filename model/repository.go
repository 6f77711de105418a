package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	process "github.com/goliatone/go-process"
	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML process definition and builds it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, process.NewError(process.ErrValidation, "invalid process definition yaml", err, nil)
	}
	if err := def.Build(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("read definition %s: %v", path, err), err, map[string]any{"path": path})
	}
	def, err := Parse(data)
	if err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("parse definition %s: %s", path, process.Message(err)), err, map[string]any{"path": path})
	}
	return def, nil
}

// Repository holds deployed definitions. Deploying the same key again creates
// a new version.
type Repository struct {
	mu    sync.RWMutex
	byID  map[string]*Definition
	byKey map[string][]*Definition
}

func NewRepository() *Repository {
	return &Repository{
		byID:  make(map[string]*Definition),
		byKey: make(map[string][]*Definition),
	}
}

// Deploy assigns the next version and the id "<key>:<version>".
func (r *Repository) Deploy(def *Definition) (*Definition, error) {
	if def == nil {
		return nil, process.Validationf("processDefinition is null")
	}
	if err := def.Build(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.byKey[def.Key]
	def.Version = len(versions) + 1
	def.ID = fmt.Sprintf("%s:%d", def.Key, def.Version)
	r.byID[def.ID] = def
	r.byKey[def.Key] = append(versions, def)
	return def, nil
}

// DeployYAML parses and deploys data.
func (r *Repository) DeployYAML(data []byte) (*Definition, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return r.Deploy(def)
}

// DeployGlob deploys every file matching pattern in lexical order.
func (r *Repository) DeployGlob(pattern string) ([]*Definition, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, process.Validationf("definitions glob %q: %v", pattern, err)
	}
	sort.Strings(paths)
	out := make([]*Definition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return out, err
		}
		if _, err := r.Deploy(def); err != nil {
			return out, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Get returns a definition by id.
func (r *Repository) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id]
	if !ok {
		return nil, process.NotFoundf("process definition '%s' not found", id)
	}
	return def, nil
}

// Latest returns the highest version deployed for key.
func (r *Repository) Latest(key string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byKey[key]
	if len(versions) == 0 {
		return nil, process.NotFoundf("no process definition deployed with key '%s'", key)
	}
	return versions[len(versions)-1], nil
}

// List returns all deployed definitions ordered by id.
func (r *Repository) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.byID))
	for _, def := range r.byID {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
