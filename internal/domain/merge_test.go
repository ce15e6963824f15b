package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]string
		overlay  map[string]string
		expected map[string]string
	}{
		{
			name:     "overlay adds keys",
			base:     map[string]string{"A": "1"},
			overlay:  map[string]string{"B": "2"},
			expected: map[string]string{"A": "1", "B": "2"},
		},
		{
			name:     "overlay overrides keys",
			base:     map[string]string{"A": "1", "B": "2"},
			overlay:  map[string]string{"B": "3"},
			expected: map[string]string{"A": "1", "B": "3"},
		},
		{
			name:     "empty overlay copies base",
			base:     map[string]string{"A": "1"},
			overlay:  nil,
			expected: map[string]string{"A": "1"},
		},
		{
			name:     "nil base",
			base:     nil,
			overlay:  map[string]string{"A": "1"},
			expected: map[string]string{"A": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergeEnvironment(tt.base, tt.overlay)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, merged)
		})
	}
}

func TestMergeEnvironment_DoesNotMutateInputs(t *testing.T) {
	base := map[string]string{"A": "1"}
	overlay := map[string]string{"A": "2"}

	merged, err := MergeEnvironment(base, overlay)
	require.NoError(t, err)

	merged["C"] = "x"
	assert.Equal(t, map[string]string{"A": "1"}, base)
	assert.Equal(t, map[string]string{"A": "2"}, overlay)
}
