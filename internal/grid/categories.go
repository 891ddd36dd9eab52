package grid

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// DefaultHarmWeight applies to categories missing from the table.
const DefaultHarmWeight = 1.0

// DefaultCategories is the police.uk category set with harm weights derived
// from the Cambridge Crime Harm Index.
func DefaultCategories() []model.Category {
	return []model.Category{
		{ID: "anti-social-behaviour", Name: "Anti-social behaviour", HarmWeight: 1.0},
		{ID: "bicycle-theft", Name: "Bicycle theft", HarmWeight: 2.5, IsProperty: true},
		{ID: "burglary", Name: "Burglary", HarmWeight: 4.5, IsProperty: true},
		{ID: "criminal-damage-arson", Name: "Criminal damage and arson", HarmWeight: 3.0, IsProperty: true},
		{ID: "drugs", Name: "Drugs", HarmWeight: 3.5},
		{ID: "other-theft", Name: "Other theft", HarmWeight: 2.0, IsProperty: true},
		{ID: "possession-of-weapons", Name: "Possession of weapons", HarmWeight: 5.5, IsPersonal: true},
		{ID: "public-order", Name: "Public order", HarmWeight: 2.5, IsPersonal: true},
		{ID: "robbery", Name: "Robbery", HarmWeight: 7.0, IsPersonal: true, IsProperty: true},
		{ID: "shoplifting", Name: "Shoplifting", HarmWeight: 1.5, IsProperty: true},
		{ID: "theft-from-the-person", Name: "Theft from the person", HarmWeight: 3.0, IsPersonal: true, IsProperty: true},
		{ID: "vehicle-crime", Name: "Vehicle crime", HarmWeight: 3.5, IsProperty: true},
		{ID: "violent-crime", Name: "Violence and sexual offences", HarmWeight: 8.0, IsPersonal: true},
		{ID: "other-crime", Name: "Other crime", HarmWeight: 2.0},
	}
}

// CategoryTable is read-only category reference data.
type CategoryTable struct {
	byID map[string]model.Category
}

// NewCategoryTable indexes cats by id. Ids must be unique and harm weights
// non-negative.
func NewCategoryTable(cats []model.Category) (*CategoryTable, error) {
	byID := make(map[string]model.Category, len(cats))
	for _, c := range cats {
		if c.ID == "" {
			return nil, eris.New("grid: category with empty id")
		}
		if c.HarmWeight < 0 {
			return nil, eris.Errorf("grid: category %s has negative harm weight %.2f", c.ID, c.HarmWeight)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, eris.Errorf("grid: duplicate category %s", c.ID)
		}
		byID[c.ID] = c
	}
	return &CategoryTable{byID: byID}, nil
}

// HarmWeight returns the category's weight, or DefaultHarmWeight when unknown.
// A nil table weighs everything at the default.
func (t *CategoryTable) HarmWeight(id string) float64 {
	if t == nil {
		return DefaultHarmWeight
	}
	if c, ok := t.byID[id]; ok {
		return c.HarmWeight
	}
	return DefaultHarmWeight
}

// Get looks up a category.
func (t *CategoryTable) Get(id string) (model.Category, bool) {
	if t == nil {
		return model.Category{}, false
	}
	c, ok := t.byID[id]
	return c, ok
}

// All returns the categories sorted by id.
func (t *CategoryTable) All() []model.Category {
	if t == nil {
		return nil
	}
	out := make([]model.Category, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Weights returns a copy of the id → harm weight map.
func (t *CategoryTable) Weights() map[string]float64 {
	if t == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(t.byID))
	for id, c := range t.byID {
		out[id] = c.HarmWeight
	}
	return out
}

// Len is the number of categories.
func (t *CategoryTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}
