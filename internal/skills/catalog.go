package skills

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

type RateLimit struct {
	MaxCalls      int `yaml:"max_calls" json:"max_calls"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

// CatalogEntry declares a skill the platform knows how to dispatch and the
// defaults a new tenant SkillConfig inherits.
type CatalogEntry struct {
	Name             string    `yaml:"name" json:"name"`
	Description      string    `yaml:"description" json:"description"`
	CredentialKeys   []string  `yaml:"credential_keys" json:"credential_keys"`
	DefaultScopes    []string  `yaml:"default_scopes" json:"default_scopes"`
	RateLimit        RateLimit `yaml:"rate_limit" json:"rate_limit"`
	RequiresApproval bool      `yaml:"requires_approval" json:"requires_approval"`
}

type Catalog struct {
	entries []CatalogEntry
	byName  map[string]int
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := builtinCatalog
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read skill catalog: %w", err)
		}
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var doc struct {
		Skills []CatalogEntry `yaml:"skills"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse skill catalog: %w", err)
	}
	c := &Catalog{byName: make(map[string]int, len(doc.Skills))}
	for _, e := range doc.Skills {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("skill catalog: entry without a name")
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("skill catalog: duplicate skill %q", e.Name)
		}
		if e.RateLimit.MaxCalls < 0 || (e.RateLimit.MaxCalls > 0 && e.RateLimit.WindowSeconds <= 0) {
			return nil, fmt.Errorf("skill catalog: %s: invalid rate_limit", e.Name)
		}
		c.byName[e.Name] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (CatalogEntry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return CatalogEntry{}, false
	}
	return c.entries[i], true
}

func (c *Catalog) List() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
