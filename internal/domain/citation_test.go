package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCitation_Valid(t *testing.T) {
	assert.True(t, Citation{URL: "https://a", Title: "A"}.Valid())
	assert.False(t, Citation{URL: "https://a"}.Valid())
	assert.False(t, Citation{Title: "A"}.Valid())
	assert.False(t, Citation{URL: "  ", Title: "A"}.Valid())
}

func TestCitation_JSONPreservesMetadata(t *testing.T) {
	in := `{"id":"cite_3","url":"https://x","title":"X","excerpt":"quote","date_accessed":"2025-01-01"}`

	var c Citation
	require.NoError(t, json.Unmarshal([]byte(in), &c))
	assert.Equal(t, "cite_3", c.LocalID)
	assert.Empty(t, c.GlobalID)
	assert.Equal(t, "quote", c.SourceMetadata["excerpt"])

	c.GlobalID = "leg_1"
	out, err := json.Marshal(c)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(out, &flat))
	assert.Equal(t, "leg_1", flat["id"])
	assert.Equal(t, "cite_3", flat["local_id"])
	assert.Equal(t, "quote", flat["excerpt"])

	var back Citation
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "leg_1", back.GlobalID)
	assert.Equal(t, "cite_3", back.LocalID)
}

func TestCitation_NumericID(t *testing.T) {
	var c Citation
	require.NoError(t, json.Unmarshal([]byte(`{"id": 7, "url": "u", "title": "t"}`), &c))
	assert.Equal(t, "7", c.LocalID)
}
