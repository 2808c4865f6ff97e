package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql-eval/backend/internal/rubric"
)

func TestEngine_RendersAbout(t *testing.T) {
	engine := NewEngine()
	require.NoError(t, engine.Load())

	var buf bytes.Buffer
	err := engine.Render(&buf, "about", map[string]any{
		"Title":    "About",
		"Page":     "about",
		"Database": "edw_prod",
		"Rubric":   rubric.Definitions,
	}, Layout)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "cdn.plot.ly")
	assert.Contains(t, out, "<code>edw_prod</code>")
	assert.Contains(t, out, "Mark 0 for all rows")
	assert.Contains(t, out, `class="active">About`)
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "/images/chart_Q1_m%20x-RAG.png", imageURL("images/chart_Q1_m x-RAG.png"))
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(toJSON(map[string]int{"a": 1})))
}
