// Package catalog provides read access to content templates.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/pelletier/go-toml/v2"
)

var ErrNotFound = errors.New("template not found")

// Catalog is queried by id at submission time; results are not cached by callers.
type Catalog interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context, filter Filter) ([]*models.Template, error)
}

// Filter narrows ListTemplates. A nil Active matches both.
type Filter struct {
	Category string
	Active   *bool
}

func (f Filter) matches(t *models.Template) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Active != nil && t.IsActive != *f.Active {
		return false
	}
	return true
}

type catalogFile struct {
	Templates []models.Template `toml:"templates"`
}

// ParseFile decodes a TOML catalog file.
func ParseFile(path string) ([]models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return f.Templates, nil
}

// FileCatalog serves a fixed template list held in memory.
type FileCatalog struct {
	templates []models.Template
	byID      map[string]int
}

// LoadFile builds a FileCatalog from a TOML catalog file.
func LoadFile(path string) (*FileCatalog, error) {
	templates, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return NewFileCatalog(templates)
}

func NewFileCatalog(templates []models.Template) (*FileCatalog, error) {
	c := &FileCatalog{
		templates: make([]models.Template, len(templates)),
		byID:      make(map[string]int, len(templates)),
	}
	for i, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %d (%q) has no id", i, t.Name)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		c.templates[i] = t
		c.byID[t.ID] = i
	}
	return c, nil
}

func (c *FileCatalog) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	i, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t := c.templates[i]
	return &t, nil
}

func (c *FileCatalog) ListTemplates(_ context.Context, filter Filter) ([]*models.Template, error) {
	out := make([]*models.Template, 0, len(c.templates))
	for i := range c.templates {
		if filter.matches(&c.templates[i]) {
			t := c.templates[i]
			out = append(out, &t)
		}
	}
	return out, nil
}
