package assistant

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"openideax/collab/internal/models"
)

//go:embed personas.yaml
var defaultPersonas []byte

// Catalog is the read-only set of AI personas a chat can address.
type Catalog struct {
	list []models.Persona
	byID map[string]models.Persona
}

// DefaultCatalog loads the built-in personas.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPersonas)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var list []models.Persona
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	c := &Catalog{byID: make(map[string]models.Persona, len(list))}
	for _, p := range list {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("persona entry missing id or name: %+v", p)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		c.byID[p.ID] = p
		c.list = append(c.list, p)
	}
	return c, nil
}

func (c *Catalog) Get(id string) (models.Persona, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *Catalog) List() []models.Persona {
	out := make([]models.Persona, len(c.list))
	copy(out, c.list)
	return out
}
