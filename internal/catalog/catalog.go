package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/skillrun/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Catalog is a thread-safe registry of loaded skill definitions, looked up
// by skill name.
type Catalog struct {
	mu     sync.RWMutex
	skills map[string]*schema.SkillDefinition
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{
		skills: make(map[string]*schema.SkillDefinition),
	}
}

// Register adds a skill definition. Re-registering a name replaces the
// previous definition.
func (c *Catalog) Register(def *schema.SkillDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "skill definition is nil")
	}
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "skill name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.skills[def.Name] = def
	return nil
}

// Get retrieves a skill definition by name.
func (c *Catalog) Get(name string) (*schema.SkillDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.skills[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "skill %q not found", name)
	}
	return def, nil
}

// List returns the names and descriptions of all registered skills, sorted
// by name.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.skills))
	for _, def := range c.skills {
		out = append(out, Summary{
			Name:        def.Name,
			Description: def.Description,
			Steps:       len(def.Steps),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered skills.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.skills)
}

// Summary is a catalog listing entry.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// Parse decodes a skill definition from YAML or JSON bytes. JSON is a
// subset of YAML, so a single decoder path handles both.
func Parse(data []byte) (*schema.SkillDefinition, error) {
	var def schema.SkillDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot parse skill definition: %s", err.Error()).WithCause(err)
	}
	normalizeDefinition(&def)
	return &def, nil
}

// ParseJSON decodes a skill definition from a JSON document, preserving
// json.RawMessage semantics for callers that already hold JSON.
func ParseJSON(data []byte) (*schema.SkillDefinition, error) {
	var def schema.SkillDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot parse skill definition: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// LoadFile reads and parses one skill definition file (.yaml, .yml, .json).
func LoadFile(path string) (*schema.SkillDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"cannot read skill file %s: %s", path, err.Error()).WithCause(err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return Parse(data)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported skill file extension %q (want .yaml, .yml, or .json)", filepath.Ext(path))
	}
}

// LoadDir loads every skill file in a directory (non-recursive) into the
// catalog. Returns the number of skills loaded.
func (c *Catalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read skill directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		def, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, err
		}
		if err := c.Register(def); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// normalizeDefinition converts yaml.v3 map[any]any leftovers inside nested
// values into map[string]any so downstream resolution sees uniform types.
func normalizeDefinition(def *schema.SkillDefinition) {
	def.Config = normalizeMap(def.Config)
	for i := range def.Steps {
		def.Steps[i].Args = normalizeMap(def.Steps[i].Args)
	}
	for name, spec := range def.Inputs {
		spec.Default = normalizeValue(spec.Default)
		def.Inputs[name] = spec
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
