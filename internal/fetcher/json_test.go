package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestCollectJSONArray(t *testing.T) {
	input := `[{"id":1,"name":"a"}, null, {"id":2,"name":"b"}]`
	items, err := CollectJSONArray[item](context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []item{{1, "a"}, {2, "b"}}, items)
}

func TestCollectJSONArray_Empty(t *testing.T) {
	items, err := CollectJSONArray[item](context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = CollectJSONArray[item](context.Background(), strings.NewReader("[]"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollectJSONArray_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not an array", `{"id":1}`, "expected '['"},
		{"bad element", `[{"id":"x"}]`, "decode element"},
		{"truncated", `[{"id":1}`, "json:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CollectJSONArray[item](context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
