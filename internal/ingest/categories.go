// Package ingest loads crime categories and incidents and rebuilds the
// monthly cell grid from them.
package ingest

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// LoadCategories reads a category table from YAML. The file holds a
// top-level "categories" list. An empty path returns the default table.
// Missing display names are derived from the id.
func LoadCategories(path string) ([]model.Category, error) {
	if path == "" {
		return grid.DefaultCategories(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read categories %s", path)
	}

	var wrapper struct {
		Categories []model.Category `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "ingest: parse categories")
	}
	if len(wrapper.Categories) == 0 {
		return nil, eris.Errorf("ingest: %s defines no categories", path)
	}

	cats := wrapper.Categories
	for i := range cats {
		cats[i].ID = strings.TrimSpace(cats[i].ID)
		if cats[i].Name == "" {
			cats[i].Name = DisplayName(cats[i].ID)
		}
	}
	if _, err := grid.NewCategoryTable(cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// DisplayName turns a category id such as "vehicle-crime" into
// "Vehicle Crime".
func DisplayName(id string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(id, "-", " "))
}

// nameIndex maps case-folded display names and ids to category ids.
type nameIndex map[string]string

func newNameIndex(cats []model.Category) nameIndex {
	fold := cases.Fold()
	idx := make(nameIndex, len(cats)*2)
	for _, c := range cats {
		idx[fold.String(c.ID)] = c.ID
		idx[fold.String(c.Name)] = c.ID
	}
	return idx
}

// lookup resolves a police.uk "Crime type" value. Unknown names fall back
// to a slug of the name.
func (n nameIndex) lookup(name string) string {
	name = strings.TrimSpace(name)
	if id, ok := n[cases.Fold().String(name)]; ok {
		return id
	}
	return slug(name)
}

func slug(s string) string {
	s = cases.Lower(language.English).String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}
