package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
)

func TestCategoryTable(t *testing.T) {
	tbl, err := NewCategoryTable(DefaultCategories())
	require.NoError(t, err)

	assert.Equal(t, 14, tbl.Len())
	assert.Equal(t, 8.0, tbl.HarmWeight("violent-crime"))
	assert.Equal(t, DefaultHarmWeight, tbl.HarmWeight("not-a-category"))

	c, ok := tbl.Get("robbery")
	require.True(t, ok)
	assert.True(t, c.IsPersonal)
	assert.True(t, c.IsProperty)

	all := tbl.All()
	require.Len(t, all, 14)
	assert.Equal(t, "anti-social-behaviour", all[0].ID)

	w := tbl.Weights()
	w["burglary"] = 100
	assert.Equal(t, 4.5, tbl.HarmWeight("burglary"))
}

func TestCategoryTable_Invalid(t *testing.T) {
	_, err := NewCategoryTable([]model.Category{{ID: "a", HarmWeight: 1}, {ID: "a", HarmWeight: 2}})
	assert.Error(t, err)

	_, err = NewCategoryTable([]model.Category{{ID: "a", HarmWeight: -1}})
	assert.Error(t, err)

	_, err = NewCategoryTable([]model.Category{{HarmWeight: 1}})
	assert.Error(t, err)
}

func TestCategoryTable_Nil(t *testing.T) {
	var tbl *CategoryTable
	assert.Equal(t, DefaultHarmWeight, tbl.HarmWeight("burglary"))
	assert.Zero(t, tbl.Len())
	assert.Empty(t, tbl.All())
	_, ok := tbl.Get("burglary")
	assert.False(t, ok)
}
